package engine

import (
	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/draw"
)

func NewState(sessionID string) State {
	return State{
		SessionID: sessionID,
		Status:    StatusWaiting,
		Draw:      draw.Sequence{Drawn: []int{}},
		Settings:  DefaultSettings(),
		Players:   []Player{},
		Cards:     map[string]card.Card{},
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Disconnected returns a copy of s with every player marked offline, the
// shape a session has when it is restored with no live connections.
func Disconnected(s State) State {
	out := s.Clone()
	for i := range out.Players {
		out.Players[i].Connected = false
	}
	return out
}
