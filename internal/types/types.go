// Package types is the wire protocol between a session authority and its
// clients. Every message travels in an Envelope whose Type selects exactly
// one intent or broadcast variant; anything else is rejected on decode.
package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/draw"
	"github.com/amil1105/tombala-sub000/internal/engine"
)

var ErrBadMessage = errors.New("bad message")

type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Version   int             `json:"version,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	IsBot     bool   `json:"isBot"`
	Connected bool   `json:"connected"`
}

// SessionView is the shared part of a session every participant may see.
// Cards are not included; each client receives only its own.
type SessionView struct {
	SessionID string          `json:"sessionId"`
	Status    engine.Status   `json:"status"`
	Draw      draw.Sequence   `json:"draw"`
	Wins      engine.Wins     `json:"wins"`
	Settings  engine.Settings `json:"settings"`
	Paused    bool            `json:"paused"`
	Players   []PlayerView    `json:"players"`
	HostID    string          `json:"hostId"`
}

func NewSessionView(s engine.State) SessionView {
	players := make([]PlayerView, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, NewPlayerView(s, p))
	}
	s = s.Clone()
	return SessionView{
		SessionID: s.SessionID,
		Status:    s.Status,
		Draw:      s.Draw,
		Wins:      s.Wins,
		Settings:  s.Settings,
		Paused:    s.Paused,
		Players:   players,
		HostID:    s.HostID,
	}
}

func NewPlayerView(s engine.State, p engine.Player) PlayerView {
	return PlayerView{
		ID:        p.ID,
		Name:      p.Name,
		IsHost:    s.IsHost(p.ID),
		IsBot:     p.Bot,
		Connected: p.Connected,
	}
}

// Player returns a pointer into v.Players, or nil.
func (v *SessionView) Player(id string) *PlayerView {
	for i := range v.Players {
		if v.Players[i].ID == id {
			return &v.Players[i]
		}
	}
	return nil
}

func (v SessionView) Clone() SessionView {
	out := v
	out.Draw = v.Draw.Clone()
	out.Players = append([]PlayerView(nil), v.Players...)
	cp := func(w *engine.Winner) *engine.Winner {
		if w == nil {
			return nil
		}
		x := *w
		return &x
	}
	out.Wins = engine.Wins{Cinko1: cp(v.Wins.Cinko1), Cinko2: cp(v.Wins.Cinko2), Tombala: cp(v.Wins.Tombala)}
	return out
}

// Delivery is one broadcast stamped with the session version it produced.
type Delivery struct {
	Version   int
	Broadcast Broadcast
}

func EncodeDelivery(d Delivery) ([]byte, error) {
	payload, err := json.Marshal(d.Broadcast)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: d.Broadcast.BroadcastType(), Version: d.Version, Payload: payload})
}

func DecodeDelivery(data []byte) (Delivery, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Delivery{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	decode, ok := broadcastTypes[env.Type]
	if !ok {
		return Delivery{}, fmt.Errorf("%w: unknown broadcast %q", ErrBadMessage, env.Type)
	}
	b, err := decode(env.Payload)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{Version: env.Version, Broadcast: b}, nil
}

func EncodeIntent(requestID string, in Intent) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: in.IntentType(), RequestID: requestID, Payload: payload})
}

// DecodeIntent parses and validates a client message.
func DecodeIntent(data []byte) (string, Intent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	decode, ok := intentTypes[env.Type]
	if !ok {
		return env.RequestID, nil, fmt.Errorf("%w: unknown intent %q", ErrBadMessage, env.Type)
	}
	in, err := decode(env.Payload)
	if err != nil {
		return env.RequestID, nil, err
	}
	if err := in.Validate(); err != nil {
		return env.RequestID, nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return env.RequestID, in, nil
}

func decodeAs[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := decodePayload(payload, &v); err != nil {
		return v, err
	}
	return v, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return nil
}

// Snapshot is the full session as one client should see it.
type Snapshot struct {
	Session  SessionView `json:"session"`
	PlayerID string      `json:"playerId"`
	Card     *card.Card  `json:"card,omitempty"`
}
