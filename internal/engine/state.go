package engine

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/draw"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type DrawPermission string

const (
	PermissionHostOnly   DrawPermission = "host-only"
	PermissionAllPlayers DrawPermission = "all-players"
)

type DrawInterval string

const (
	IntervalSlow   DrawInterval = "slow"
	IntervalNormal DrawInterval = "normal"
	IntervalFast   DrawInterval = "fast"
)

// Seconds maps the interval policy to the auto-draw countdown.
func (d DrawInterval) Seconds() int {
	switch d {
	case IntervalSlow:
		return 15
	case IntervalFast:
		return 5
	default:
		return 10
	}
}

type Settings struct {
	DrawPermission DrawPermission `json:"drawPermission"`
	DrawInterval   DrawInterval   `json:"drawInterval"`
	MusicEnabled   bool           `json:"musicEnabled"`
}

func DefaultSettings() Settings {
	return Settings{
		DrawPermission: PermissionHostOnly,
		DrawInterval:   IntervalNormal,
		MusicEnabled:   true,
	}
}

func (s Settings) Validate() error {
	switch s.DrawPermission {
	case PermissionHostOnly, PermissionAllPlayers:
	default:
		return fmt.Errorf("%w: draw permission %q", ErrInvalidSettings, s.DrawPermission)
	}
	switch s.DrawInterval {
	case IntervalSlow, IntervalNormal, IntervalFast:
	default:
		return fmt.Errorf("%w: draw interval %q", ErrInvalidSettings, s.DrawInterval)
	}
	return nil
}

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bot       bool   `json:"isBot"`
	Connected bool   `json:"connected"`
}

type Winner struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Timestamp  time.Time `json:"timestamp"`
	Bot        bool      `json:"isBot"`
}

// Wins holds one winner per tier. A set tier never changes for the rest of the game.
type Wins struct {
	Cinko1  *Winner `json:"cinko1"`
	Cinko2  *Winner `json:"cinko2"`
	Tombala *Winner `json:"tombala"`
}

func (w Wins) Get(t card.Tier) *Winner {
	switch t {
	case card.TierCinko1:
		return w.Cinko1
	case card.TierCinko2:
		return w.Cinko2
	case card.TierTombala:
		return w.Tombala
	}
	return nil
}

func (w *Wins) set(t card.Tier, winner *Winner) {
	switch t {
	case card.TierCinko1:
		w.Cinko1 = winner
	case card.TierCinko2:
		w.Cinko2 = winner
	case card.TierTombala:
		w.Tombala = winner
	}
}

func (w Wins) clone() Wins {
	cp := func(x *Winner) *Winner {
		if x == nil {
			return nil
		}
		v := *x
		return &v
	}
	return Wins{Cinko1: cp(w.Cinko1), Cinko2: cp(w.Cinko2), Tombala: cp(w.Tombala)}
}

// State is the authoritative session. HostID is the only source of host
// identity; Players is kept in join order.
type State struct {
	SessionID string               `json:"sessionId"`
	Status    Status               `json:"status"`
	Draw      draw.Sequence        `json:"draw"`
	Wins      Wins                 `json:"wins"`
	Settings  Settings             `json:"settings"`
	Paused    bool                 `json:"paused"`
	Players   []Player             `json:"players"`
	HostID    string               `json:"hostId"`
	Cards     map[string]card.Card `json:"cards"`
}

func (s State) Clone() State {
	out := s
	out.Draw = s.Draw.Clone()
	out.Wins = s.Wins.clone()
	out.Players = slices.Clone(s.Players)
	out.Cards = maps.Clone(s.Cards)
	if out.Cards == nil {
		out.Cards = map[string]card.Card{}
	}
	return out
}

func (s State) IsHost(playerID string) bool {
	return playerID != "" && s.HostID == playerID
}

// Player returns a pointer into s.Players, or nil.
func (s State) Player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

func (s State) Card(playerID string) (card.Card, bool) {
	c, ok := s.Cards[playerID]
	return c, ok
}

// hostOnline reports whether the host pointer names a connected player.
func (s State) hostOnline() bool {
	h := s.Player(s.HostID)
	return h != nil && h.Connected
}

// nextHost picks the earliest-joined connected human other than leaving.
func (s State) nextHost(leaving string) string {
	for _, p := range s.Players {
		if p.ID != leaving && p.Connected && !p.Bot {
			return p.ID
		}
	}
	return ""
}
