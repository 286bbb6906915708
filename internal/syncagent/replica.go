package syncagent

import (
	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/types"
)

// MaxChat is how many chat lines a replica keeps.
const MaxChat = 50

type ApplyResult int

const (
	Applied ApplyResult = iota
	// Stale deliveries are at or below the replica's version and change nothing.
	Stale
	// Gap means a delta skipped a version; the replica needs a fresh snapshot.
	Gap
	// Ignored covers replies, which carry no session state.
	Ignored
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	default:
		return "ignored"
	}
}

// Replica is a participant's local copy of the session. It is what gets
// persisted while offline.
type Replica struct {
	Version  int               `json:"version"`
	PlayerID string            `json:"playerId"`
	Session  types.SessionView `json:"session"`
	Card     *card.Card        `json:"card,omitempty"`
	Chat     []types.Chat      `json:"chat,omitempty"`
}

func (r Replica) Clone() Replica {
	out := r
	out.Session = r.Session.Clone()
	if r.Card != nil {
		c := *r.Card
		out.Card = &c
	}
	out.Chat = append([]types.Chat(nil), r.Chat...)
	return out
}

// Marked evaluates the replica's card against the numbers it has seen.
func (r Replica) Marked() (card.Result, bool) {
	if r.Card == nil {
		return card.Result{}, false
	}
	return card.Evaluate(*r.Card, r.Session.Draw), true
}

// Apply folds one delivery into the replica. Snapshots replace it
// wholesale whatever their version, since the authority is always right.
func (r Replica) Apply(d types.Delivery) (Replica, ApplyResult) {
	switch b := d.Broadcast.(type) {
	case types.Snapshot:
		out := r.Clone()
		out.Version = d.Version
		out.PlayerID = b.PlayerID
		out.Session = b.Session.Clone()
		out.Card = nil
		if b.Card != nil {
			c := *b.Card
			out.Card = &c
		}
		return out, Applied

	case types.Chat:
		out := r.Clone()
		out.Chat = append(out.Chat, b)
		if len(out.Chat) > MaxChat {
			out.Chat = out.Chat[len(out.Chat)-MaxChat:]
		}
		return out, Applied
	}

	if !types.Stateful(d.Broadcast) {
		return r, Ignored
	}
	if d.Version <= r.Version {
		return r, Stale
	}
	if d.Version > r.Version+1 {
		return r, Gap
	}

	out := r.Clone()
	out.Version = d.Version
	s := &out.Session

	switch b := d.Broadcast.(type) {
	case types.NumberDrawn:
		if _, err := s.Draw.Record(b.Number); err != nil {
			return r, Gap
		}
		s.Draw.Countdown = b.Countdown

	case types.ClaimAccepted:
		w := b.Winner
		switch b.Tier {
		case card.TierCinko1:
			if s.Wins.Cinko1 == nil {
				s.Wins.Cinko1 = &w
			}
		case card.TierCinko2:
			if s.Wins.Cinko2 == nil {
				s.Wins.Cinko2 = &w
			}
		case card.TierTombala:
			if s.Wins.Tombala == nil {
				s.Wins.Tombala = &w
			}
		}

	case types.StatusChanged:
		s.Status = b.Status
		s.Paused = b.Paused
		s.Draw.Countdown = b.Countdown

	case types.SettingsChanged:
		s.Settings = b.Settings

	case types.PlayerJoined:
		if p := s.Player(b.Player.ID); p != nil {
			*p = b.Player
		} else {
			s.Players = append(s.Players, b.Player)
		}

	case types.PlayerLeft:
		if p := s.Player(b.PlayerID); p != nil {
			p.Connected = false
		}

	case types.HostChanged:
		s.HostID = b.HostID
		for i := range s.Players {
			s.Players[i].IsHost = s.Players[i].ID == b.HostID
		}
	}
	return out, Applied
}

// Finished reports whether the replicated game is over.
func (r Replica) Finished() bool { return r.Session.Status == engine.StatusFinished }
