package types

import (
	"encoding/json"
	"time"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
)

const (
	BroadcastSnapshot        = "snapshot"
	BroadcastNumberDrawn     = "numberDrawn"
	BroadcastClaimAccepted   = "claimAccepted"
	BroadcastClaimRejected   = "claimRejected"
	BroadcastStatusChanged   = "statusChanged"
	BroadcastSettingsChanged = "settingsChanged"
	BroadcastPlayerJoined    = "playerJoined"
	BroadcastPlayerLeft      = "playerLeft"
	BroadcastHostChanged     = "hostChanged"
	BroadcastChat            = "chat"
	BroadcastAck             = "ack"
	BroadcastRejected        = "rejected"
)

// Broadcast is an authority -> client message. The set of implementations is closed.
type Broadcast interface {
	BroadcastType() string
	isBroadcast()
}

type NumberDrawn struct {
	Number    int `json:"number"`
	Countdown int `json:"countdown"`
}

type ClaimAccepted struct {
	Tier   card.Tier     `json:"tier"`
	Winner engine.Winner `json:"winner"`
}

// ClaimRejected goes only to the claimant.
type ClaimRejected struct {
	RequestID string    `json:"requestId"`
	Tier      card.Tier `json:"tier"`
	Reason    Reason    `json:"reason"`
	Message   string    `json:"message"`
}

type StatusChanged struct {
	Status    engine.Status `json:"status"`
	Paused    bool          `json:"paused"`
	Countdown int           `json:"countdown"`
}

type SettingsChanged struct {
	Settings engine.Settings `json:"settings"`
}

type PlayerJoined struct {
	Player PlayerView `json:"player"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type HostChanged struct {
	HostID string `json:"hostId"`
}

type Chat struct {
	PlayerID string    `json:"playerId"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// Ack confirms an intent was applied.
type Ack struct {
	RequestID string `json:"requestId"`
}

// Rejected reports why a non-claim intent was refused.
type Rejected struct {
	RequestID string `json:"requestId"`
	Intent    string `json:"intent"`
	Reason    Reason `json:"reason"`
	Message   string `json:"message"`
}

func (Snapshot) BroadcastType() string        { return BroadcastSnapshot }
func (NumberDrawn) BroadcastType() string     { return BroadcastNumberDrawn }
func (ClaimAccepted) BroadcastType() string   { return BroadcastClaimAccepted }
func (ClaimRejected) BroadcastType() string   { return BroadcastClaimRejected }
func (StatusChanged) BroadcastType() string   { return BroadcastStatusChanged }
func (SettingsChanged) BroadcastType() string { return BroadcastSettingsChanged }
func (PlayerJoined) BroadcastType() string    { return BroadcastPlayerJoined }
func (PlayerLeft) BroadcastType() string      { return BroadcastPlayerLeft }
func (HostChanged) BroadcastType() string     { return BroadcastHostChanged }
func (Chat) BroadcastType() string            { return BroadcastChat }
func (Ack) BroadcastType() string             { return BroadcastAck }
func (Rejected) BroadcastType() string        { return BroadcastRejected }

func (Snapshot) isBroadcast()        {}
func (NumberDrawn) isBroadcast()     {}
func (ClaimAccepted) isBroadcast()   {}
func (ClaimRejected) isBroadcast()   {}
func (StatusChanged) isBroadcast()   {}
func (SettingsChanged) isBroadcast() {}
func (PlayerJoined) isBroadcast()    {}
func (PlayerLeft) isBroadcast()      {}
func (HostChanged) isBroadcast()     {}
func (Chat) isBroadcast()            {}
func (Ack) isBroadcast()             {}
func (Rejected) isBroadcast()        {}

// Stateful reports whether b changes the session and therefore carries a
// new version. Replies and chat ride along at the current version.
func Stateful(b Broadcast) bool {
	switch b.(type) {
	case Chat, Ack, Rejected, ClaimRejected:
		return false
	}
	return true
}

func broadcastDecoder[T Broadcast]() func(json.RawMessage) (Broadcast, error) {
	return func(p json.RawMessage) (Broadcast, error) { return decodeAs[T](p) }
}

var broadcastTypes = map[string]func(json.RawMessage) (Broadcast, error){
	BroadcastSnapshot:        broadcastDecoder[Snapshot](),
	BroadcastNumberDrawn:     broadcastDecoder[NumberDrawn](),
	BroadcastClaimAccepted:   broadcastDecoder[ClaimAccepted](),
	BroadcastClaimRejected:   broadcastDecoder[ClaimRejected](),
	BroadcastStatusChanged:   broadcastDecoder[StatusChanged](),
	BroadcastSettingsChanged: broadcastDecoder[SettingsChanged](),
	BroadcastPlayerJoined:    broadcastDecoder[PlayerJoined](),
	BroadcastPlayerLeft:      broadcastDecoder[PlayerLeft](),
	BroadcastHostChanged:     broadcastDecoder[HostChanged](),
	BroadcastChat:            broadcastDecoder[Chat](),
	BroadcastAck:             broadcastDecoder[Ack](),
	BroadcastRejected:        broadcastDecoder[Rejected](),
}
