package types

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
)

const (
	IntentJoin           = "join"
	IntentStart          = "start"
	IntentRequestDraw    = "requestDraw"
	IntentClaim          = "claim"
	IntentSetPaused      = "setPaused"
	IntentUpdateSettings = "updateSettings"
	IntentNewGame        = "newGame"
	IntentSendChat       = "sendChat"
	IntentResync         = "resync"
)

const MaxChatRunes = 280

// Intent is a client -> authority message. The set of implementations is closed.
type Intent interface {
	IntentType() string
	Validate() error
	isIntent()
}

type Join struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Bot      bool   `json:"isBot,omitempty"`
}

type Start struct{}

type RequestDraw struct{}

type Claim struct {
	Tier card.Tier `json:"tier"`
}

type SetPaused struct {
	Paused bool `json:"paused"`
}

type UpdateSettings struct {
	Settings engine.Settings `json:"settings"`
}

type NewGame struct{}

type SendChat struct {
	Text string `json:"text"`
}

// Resync asks the authority for a fresh snapshot.
type Resync struct{}

func (Join) IntentType() string           { return IntentJoin }
func (Start) IntentType() string          { return IntentStart }
func (RequestDraw) IntentType() string    { return IntentRequestDraw }
func (Claim) IntentType() string          { return IntentClaim }
func (SetPaused) IntentType() string      { return IntentSetPaused }
func (UpdateSettings) IntentType() string { return IntentUpdateSettings }
func (NewGame) IntentType() string        { return IntentNewGame }
func (SendChat) IntentType() string       { return IntentSendChat }
func (Resync) IntentType() string         { return IntentResync }

func (Join) isIntent()           {}
func (Start) isIntent()          {}
func (RequestDraw) isIntent()    {}
func (Claim) isIntent()          {}
func (SetPaused) isIntent()      {}
func (UpdateSettings) isIntent() {}
func (NewGame) isIntent()        {}
func (SendChat) isIntent()       {}
func (Resync) isIntent()         {}

func (j Join) Validate() error {
	if strings.TrimSpace(j.PlayerID) == "" {
		return errors.New("join: player id required")
	}
	return nil
}

func (Start) Validate() error       { return nil }
func (RequestDraw) Validate() error { return nil }
func (NewGame) Validate() error     { return nil }
func (Resync) Validate() error      { return nil }
func (SetPaused) Validate() error   { return nil }

func (c Claim) Validate() error {
	if !c.Tier.Valid() {
		return errors.New("claim: unknown tier")
	}
	return nil
}

func (u UpdateSettings) Validate() error { return u.Settings.Validate() }

func (c SendChat) Validate() error {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return errors.New("chat: empty message")
	}
	if utf8.RuneCountInString(text) > MaxChatRunes {
		return errors.New("chat: message too long")
	}
	return nil
}

func intentDecoder[T Intent]() func(json.RawMessage) (Intent, error) {
	return func(p json.RawMessage) (Intent, error) { return decodeAs[T](p) }
}

var intentTypes = map[string]func(json.RawMessage) (Intent, error){
	IntentJoin:           intentDecoder[Join](),
	IntentStart:          intentDecoder[Start](),
	IntentRequestDraw:    intentDecoder[RequestDraw](),
	IntentClaim:          intentDecoder[Claim](),
	IntentSetPaused:      intentDecoder[SetPaused](),
	IntentUpdateSettings: intentDecoder[UpdateSettings](),
	IntentNewGame:        intentDecoder[NewGame](),
	IntentSendChat:       intentDecoder[SendChat](),
	IntentResync:         intentDecoder[Resync](),
}
