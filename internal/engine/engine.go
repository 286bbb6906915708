package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/draw"
)

var ErrForbidden = errors.New("forbidden")
var ErrInvalidState = errors.New("invalid state")
var ErrAlreadyClaimed = errors.New("tier already claimed")
var ErrExhausted = draw.ErrExhausted
var ErrUnknownPlayer = errors.New("unknown player")
var ErrClaimNotSatisfied = errors.New("card does not satisfy claimed tier")
var ErrInvalidSettings = errors.New("invalid settings")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdJoin           CommandType = "Join"
	CmdLeave          CommandType = "Leave"
	CmdStart          CommandType = "Start"
	CmdDraw           CommandType = "Draw"
	CmdAutoDraw       CommandType = "AutoDraw"
	CmdClaim          CommandType = "Claim"
	CmdSetPaused      CommandType = "SetPaused"
	CmdUpdateSettings CommandType = "UpdateSettings"
	CmdNewGame        CommandType = "NewGame"
)

/*
	CmdJoin           -> EvtPlayerJoined (-> EvtHostChanged when the session had no host)
	CmdLeave          -> EvtPlayerLeft (-> EvtHostChanged when the host left)
	CmdStart          -> EvtGameStarted -> EvtStatusChanged
	CmdDraw/AutoDraw  -> EvtNumberDrawn, or EvtStatusChanged(finished) with ErrExhausted
	CmdClaim          -> EvtClaimAccepted (-> EvtStatusChanged(finished) on tombala)
	CmdSetPaused      -> EvtStatusChanged
	CmdUpdateSettings -> EvtSettingsChanged
	CmdNewGame        -> EvtGameReset -> EvtStatusChanged(waiting)
*/

// Command is one intent against a session. PlayerID is always the
// authenticated caller, filled in by the lobby, never taken from the wire.
type Command struct {
	Type     CommandType
	PlayerID string
	Name     string
	Bot      bool
	Tier     card.Tier
	Paused   bool
	// Countdown is the remaining auto-draw time the lobby measured when pausing.
	Countdown int
	Settings  Settings
}

type EventType string

const (
	EvtPlayerJoined    EventType = "PlayerJoined"
	EvtPlayerLeft      EventType = "PlayerLeft"
	EvtHostChanged     EventType = "HostChanged"
	EvtGameStarted     EventType = "GameStarted"
	EvtGameReset       EventType = "GameReset"
	EvtNumberDrawn     EventType = "NumberDrawn"
	EvtClaimAccepted   EventType = "ClaimAccepted"
	EvtStatusChanged   EventType = "StatusChanged"
	EvtSettingsChanged EventType = "SettingsChanged"
)

type Event struct {
	Type      EventType
	PlayerID  string
	Number    int
	Tier      card.Tier
	Winner    *Winner
	Status    Status
	Paused    bool
	Countdown int
	Settings  Settings
}

// Engine applies commands to session state. It holds the session's random
// source and clock; like card.Generator it is owned by a single lobby.
type Engine struct {
	rng   *rand.Rand
	cards *card.Generator
	now   func() time.Time
}

type Option func(*Engine)

func WithRand(rng *rand.Rand) Option { return func(e *Engine) { e.rng = rng } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.cards = card.NewGenerator(e.rng)
	return e
}

// Apply validates cmd against s and returns the resulting events and state.
// On rejection the original state comes back with no events. The one
// exception is ErrExhausted, which is returned together with the finished
// state and its event; callers commit whenever events are non-empty.
func (e *Engine) Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s.Clone()

	switch cmd.Type {
	case CmdJoin:
		return e.join(s, newState, cmd)

	case CmdLeave:
		return e.leave(s, newState, cmd)

	case CmdStart:
		if s.Status != StatusWaiting {
			return nil, s, fmt.Errorf("%w: cannot start while %s", ErrInvalidState, s.Status)
		}
		if !s.IsHost(cmd.PlayerID) {
			return nil, s, fmt.Errorf("%w: only the host can start", ErrForbidden)
		}
		cards := make(map[string]card.Card, len(s.Players))
		for _, p := range s.Players {
			c, err := e.cards.Generate()
			if err != nil {
				return nil, s, err
			}
			cards[p.ID] = c
		}
		newState.Cards = cards
		newState.Draw = draw.Sequence{Drawn: []int{}, Countdown: s.Settings.DrawInterval.Seconds()}
		newState.Wins = Wins{}
		newState.Paused = false
		newState.Status = StatusPlaying
		return []Event{
			{Type: EvtGameStarted},
			statusEvent(newState),
		}, newState, nil

	case CmdDraw:
		if s.Player(cmd.PlayerID) == nil {
			return nil, s, ErrUnknownPlayer
		}
		if err := canDraw(s); err != nil {
			return nil, s, err
		}
		if !s.IsHost(cmd.PlayerID) && s.Settings.DrawPermission != PermissionAllPlayers {
			return nil, s, fmt.Errorf("%w: only the host can draw", ErrForbidden)
		}
		return e.drawNumber(s, newState)

	case CmdAutoDraw:
		if err := canDraw(s); err != nil {
			return nil, s, err
		}
		return e.drawNumber(s, newState)

	case CmdClaim:
		return e.claim(s, newState, cmd)

	case CmdSetPaused:
		if s.Status != StatusPlaying {
			return nil, s, fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, s.Status)
		}
		if !s.IsHost(cmd.PlayerID) {
			return nil, s, fmt.Errorf("%w: only the host can pause", ErrForbidden)
		}
		if s.Paused == cmd.Paused {
			return nil, s, nil
		}
		newState.Paused = cmd.Paused
		if cmd.Paused && cmd.Countdown > 0 {
			newState.Draw.Countdown = cmd.Countdown
		}
		return []Event{statusEvent(newState)}, newState, nil

	case CmdUpdateSettings:
		if !s.IsHost(cmd.PlayerID) {
			return nil, s, fmt.Errorf("%w: only the host can change settings", ErrForbidden)
		}
		if err := cmd.Settings.Validate(); err != nil {
			return nil, s, err
		}
		newState.Settings = cmd.Settings
		return []Event{{Type: EvtSettingsChanged, Settings: cmd.Settings}}, newState, nil

	case CmdNewGame:
		if !s.IsHost(cmd.PlayerID) {
			return nil, s, fmt.Errorf("%w: only the host can reset the game", ErrForbidden)
		}
		if s.Status == StatusWaiting {
			return nil, s, fmt.Errorf("%w: no game to reset", ErrInvalidState)
		}
		newState.Status = StatusWaiting
		newState.Draw = draw.Sequence{Drawn: []int{}}
		newState.Wins = Wins{}
		newState.Cards = map[string]card.Card{}
		newState.Paused = false
		return []Event{
			{Type: EvtGameReset},
			statusEvent(newState),
		}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (e *Engine) join(s, newState State, cmd Command) ([]Event, State, error) {
	if cmd.PlayerID == "" {
		return nil, s, fmt.Errorf("%w: empty player id", ErrUnknownPlayer)
	}

	var events []Event
	if p := newState.Player(cmd.PlayerID); p != nil {
		p.Connected = true
		if cmd.Name != "" {
			p.Name = cmd.Name
		}
	} else {
		if cmd.Bot && s.Status != StatusWaiting {
			return nil, s, fmt.Errorf("%w: bots can only join a waiting session", ErrInvalidState)
		}
		newState.Players = append(newState.Players, Player{
			ID:        cmd.PlayerID,
			Name:      cmd.Name,
			Bot:       cmd.Bot,
			Connected: true,
		})
	}
	events = append(events, Event{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID})

	if newState.HostID != cmd.PlayerID && !newState.Player(cmd.PlayerID).Bot && !newState.hostOnline() {
		newState.HostID = cmd.PlayerID
		events = append(events, Event{Type: EvtHostChanged, PlayerID: cmd.PlayerID})
	}
	return events, newState, nil
}

func (e *Engine) leave(s, newState State, cmd Command) ([]Event, State, error) {
	p := newState.Player(cmd.PlayerID)
	if p == nil {
		return nil, s, ErrUnknownPlayer
	}
	if !p.Connected {
		return nil, s, nil
	}
	p.Connected = false
	events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID}}

	if s.HostID == cmd.PlayerID {
		if next := newState.nextHost(cmd.PlayerID); next != "" {
			newState.HostID = next
			events = append(events, Event{Type: EvtHostChanged, PlayerID: next})
		}
	}
	return events, newState, nil
}

func (e *Engine) claim(s, newState State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusPlaying {
		return nil, s, fmt.Errorf("%w: cannot claim while %s", ErrInvalidState, s.Status)
	}
	p := s.Player(cmd.PlayerID)
	if p == nil {
		return nil, s, ErrUnknownPlayer
	}
	if !cmd.Tier.Valid() {
		return nil, s, fmt.Errorf("%w: unknown tier %q", ErrInvalidState, cmd.Tier)
	}
	c, ok := s.Cards[cmd.PlayerID]
	if !ok {
		return nil, s, fmt.Errorf("%w: player has no card this game", ErrForbidden)
	}
	if s.Wins.Get(cmd.Tier) != nil {
		return nil, s, ErrAlreadyClaimed
	}
	if prev, ok := cmd.Tier.Previous(); ok && s.Wins.Get(prev) == nil {
		return nil, s, fmt.Errorf("%w: %s must be claimed before %s", ErrInvalidState, prev, cmd.Tier)
	}
	if !card.Evaluate(c, s.Draw).Has(cmd.Tier) {
		return nil, s, ErrClaimNotSatisfied
	}

	winner := &Winner{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Timestamp:  e.now().UTC(),
		Bot:        p.Bot,
	}
	newState.Wins.set(cmd.Tier, winner)
	events := []Event{{Type: EvtClaimAccepted, PlayerID: p.ID, Tier: cmd.Tier, Winner: winner}}

	if cmd.Tier == card.TierTombala {
		newState.Status = StatusFinished
		newState.Paused = true
		newState.Draw.Countdown = 0
		events = append(events, statusEvent(newState))
	}
	return events, newState, nil
}

func (e *Engine) drawNumber(s, newState State) ([]Event, State, error) {
	n, err := newState.Draw.Draw(e.rng)
	if errors.Is(err, draw.ErrExhausted) {
		newState.Status = StatusFinished
		newState.Draw.Countdown = 0
		return []Event{statusEvent(newState)}, newState, ErrExhausted
	}
	if err != nil {
		return nil, s, err
	}
	newState.Draw.Countdown = s.Settings.DrawInterval.Seconds()
	return []Event{{Type: EvtNumberDrawn, Number: n, Countdown: newState.Draw.Countdown}}, newState, nil
}

func canDraw(s State) error {
	if s.Status != StatusPlaying {
		return fmt.Errorf("%w: cannot draw while %s", ErrInvalidState, s.Status)
	}
	if s.Paused {
		return fmt.Errorf("%w: game is paused", ErrInvalidState)
	}
	return nil
}

func statusEvent(s State) Event {
	return Event{Type: EvtStatusChanged, Status: s.Status, Paused: s.Paused, Countdown: s.Draw.Countdown}
}
