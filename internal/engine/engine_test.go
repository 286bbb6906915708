package engine

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amil1105/tombala-sub000/internal/card"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestEngine() *Engine {
	return New(WithRand(rand.New(rand.NewSource(11))), WithClock(func() time.Time { return fixedNow }))
}

func testCard() card.Card {
	return card.Card{
		{1, 0, 21, 0, 41, 0, 61, 0, 81},
		{0, 12, 0, 33, 0, 54, 0, 75, 90},
		{5, 0, 27, 0, 48, 59, 0, 78, 0},
	}
}

// lobbyWith returns a waiting session with the given players joined in order.
func lobbyWith(t *testing.T, e *Engine, ids ...string) State {
	t.Helper()
	s := NewState("S1")
	for _, id := range ids {
		var err error
		_, s, err = e.Apply(s, Command{Type: CmdJoin, PlayerID: id, Name: "name-" + id})
		require.NoError(t, err)
	}
	return s
}

// playingWith returns a playing session where every player holds testCard
// and the given numbers are already drawn.
func playingWith(ids []string, drawn ...int) State {
	s := NewState("S1")
	for _, id := range ids {
		s.Players = append(s.Players, Player{ID: id, Name: "name-" + id, Connected: true})
		s.Cards[id] = testCard()
	}
	s.HostID = ids[0]
	s.Status = StatusPlaying
	s.Draw.Drawn = append(s.Draw.Drawn, drawn...)
	return s
}

func rowNumbers(rows ...int) []int {
	c := testCard()
	var out []int
	for _, r := range rows {
		out = append(out, c.Row(r)...)
	}
	return out
}

func TestJoin_FirstHumanBecomesHost(t *testing.T) {
	e := newTestEngine()
	s := NewState("S1")

	events, s, err := e.Apply(s, Command{Type: CmdJoin, PlayerID: "bot1", Name: "Bot", Bot: true})
	require.NoError(t, err)
	assert.False(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "", s.HostID)

	events, s, err = e.Apply(s, Command{Type: CmdJoin, PlayerID: "p1", Name: "Ayse"})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "p1", s.HostID)

	_, s, err = e.Apply(s, Command{Type: CmdJoin, PlayerID: "p2", Name: "Mehmet"})
	require.NoError(t, err)
	assert.Equal(t, "p1", s.HostID)
	assert.Len(t, s.Players, 3)
}

func TestJoin_RejoinMarksConnected(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "p1", "p2")

	_, s, err := e.Apply(s, Command{Type: CmdLeave, PlayerID: "p2"})
	require.NoError(t, err)
	require.False(t, s.Player("p2").Connected)

	_, s, err = e.Apply(s, Command{Type: CmdJoin, PlayerID: "p2", Name: "renamed"})
	require.NoError(t, err)
	assert.True(t, s.Player("p2").Connected)
	assert.Equal(t, "renamed", s.Player("p2").Name)
	assert.Len(t, s.Players, 2)
}

func TestJoin_BotRejectedOutsideWaiting(t *testing.T) {
	e := newTestEngine()
	s := playingWith([]string{"p1"})
	_, _, err := e.Apply(s, Command{Type: CmdJoin, PlayerID: "bot", Bot: true})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestLeave_HostReassignedToEarliestConnectedHuman(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "p1", "p2", "p3")
	_, s, err := e.Apply(s, Command{Type: CmdJoin, PlayerID: "bot", Bot: true})
	require.NoError(t, err)

	_, s, err = e.Apply(s, Command{Type: CmdLeave, PlayerID: "p2"})
	require.NoError(t, err)

	events, s, err := e.Apply(s, Command{Type: CmdLeave, PlayerID: "p1"})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "p3", s.HostID)

	// Nobody left to take over: the pointer stays put.
	_, s, err = e.Apply(s, Command{Type: CmdLeave, PlayerID: "p3"})
	require.NoError(t, err)
	assert.Equal(t, "p3", s.HostID)

	events, _, err = e.Apply(s, Command{Type: CmdLeave, PlayerID: "p3"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJoin_HumanTakesOverOfflineHost(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "h")
	_, s, err := e.Apply(s, Command{Type: CmdLeave, PlayerID: "h"})
	require.NoError(t, err)
	require.Equal(t, "h", s.HostID)

	// a bot never picks up the role
	_, s, err = e.Apply(s, Command{Type: CmdJoin, PlayerID: "bot", Bot: true})
	require.NoError(t, err)
	assert.Equal(t, "h", s.HostID)

	events, s, err := e.Apply(s, Command{Type: CmdJoin, PlayerID: "p", Name: "Ayse"})
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "p", s.HostID)

	_, s, err = e.Apply(s, Command{Type: CmdStart, PlayerID: "p"})
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, s.Status)

	// the old host comes back as an ordinary player
	events, s, err = e.Apply(s, Command{Type: CmdJoin, PlayerID: "h"})
	require.NoError(t, err)
	assert.False(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "p", s.HostID)
}

func TestJoin_RestoredSessionGetsAHost(t *testing.T) {
	e := newTestEngine()
	s := Disconnected(lobbyWith(t, e, "p1", "p2"))

	events, s, err := e.Apply(s, Command{Type: CmdJoin, PlayerID: "p2"})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtHostChanged))
	assert.Equal(t, "p2", s.HostID)
}

func TestStart_Guards(t *testing.T) {
	e := newTestEngine()
	cases := []struct {
		name    string
		setup   func() State
		caller  string
		wantErr error
	}{
		{
			name:    "non host cannot start",
			setup:   func() State { return lobbyWith(t, e, "p1", "p2") },
			caller:  "p2",
			wantErr: ErrForbidden,
		},
		{
			name:    "cannot start twice",
			setup:   func() State { return playingWith([]string{"p1"}) },
			caller:  "p1",
			wantErr: ErrInvalidState,
		},
		{
			name:   "host starts",
			setup:  func() State { return lobbyWith(t, e, "p1", "p2") },
			caller: "p1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.Apply(tc.setup(), Command{Type: CmdStart, PlayerID: tc.caller})
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestStart_DealsOneValidCardPerPlayer(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "p1", "p2", "p3")

	events, s, err := e.Apply(s, Command{Type: CmdStart, PlayerID: "p1"})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtGameStarted))
	assert.Equal(t, StatusPlaying, s.Status)
	assert.Empty(t, s.Draw.Drawn)
	assert.Equal(t, IntervalNormal.Seconds(), s.Draw.Countdown)
	require.Len(t, s.Cards, 3)
	for id, c := range s.Cards {
		require.NoError(t, card.Validate(c), "card for %s", id)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	e := newTestEngine()
	s := playingWith([]string{"p1"})

	_, next, err := e.Apply(s, Command{Type: CmdDraw, PlayerID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, s.Draw.Drawn)
	assert.Len(t, next.Draw.Drawn, 1)
}

func TestDraw_Guards(t *testing.T) {
	e := newTestEngine()

	paused := playingWith([]string{"p1", "p2"})
	paused.Paused = true

	waiting := NewState("S1")
	waiting.Players = []Player{{ID: "p1", Connected: true}}
	waiting.HostID = "p1"

	cases := []struct {
		name    string
		setup   State
		caller  string
		wantErr error
	}{
		{name: "host draws", setup: playingWith([]string{"p1", "p2"}), caller: "p1"},
		{name: "non host forbidden by default", setup: playingWith([]string{"p1", "p2"}), caller: "p2", wantErr: ErrForbidden},
		{name: "paused", setup: paused, caller: "p1", wantErr: ErrInvalidState},
		{name: "not started", setup: waiting, caller: "p1", wantErr: ErrInvalidState},
		{name: "stranger", setup: playingWith([]string{"p1"}), caller: "x", wantErr: ErrUnknownPlayer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, _, err := e.Apply(tc.setup, Command{Type: CmdDraw, PlayerID: tc.caller})
			if tc.wantErr == nil {
				require.NoError(t, err)
				require.True(t, ContainsEvent(events, EvtNumberDrawn))
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			require.Empty(t, events)
		})
	}
}

func TestDraw_ExhaustedFinishesSession(t *testing.T) {
	e := newTestEngine()
	all := make([]int, 0, 90)
	for n := 1; n <= 90; n++ {
		all = append(all, n)
	}
	s := playingWith([]string{"p1"}, all...)

	events, next, err := e.Apply(s, Command{Type: CmdDraw, PlayerID: "p1"})
	require.ErrorIs(t, err, ErrExhausted)
	require.True(t, ContainsEvent(events, EvtStatusChanged))
	assert.Equal(t, StatusFinished, next.Status)
	assert.Len(t, next.Draw.Drawn, 90)
}

func TestClaim_OrderingIsEnforced(t *testing.T) {
	e := newTestEngine()
	// Every number on the card is drawn, so each tier is individually satisfied.
	s := playingWith([]string{"p1"}, testCard().Numbers()...)

	_, _, err := e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko2})
	require.ErrorIs(t, err, ErrInvalidState)

	_, _, err = e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierTombala})
	require.ErrorIs(t, err, ErrInvalidState)

	_, s, err = e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko1})
	require.NoError(t, err)

	_, _, err = e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierTombala})
	require.ErrorIs(t, err, ErrInvalidState)

	_, s, err = e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko2})
	require.NoError(t, err)
	require.NotNil(t, s.Wins.Cinko2)
}

func TestClaim_Rejections(t *testing.T) {
	e := newTestEngine()

	noCard := playingWith([]string{"p1"}, rowNumbers(0)...)
	noCard.Players = append(noCard.Players, Player{ID: "late", Connected: true})

	claimed := playingWith([]string{"p1", "p2"}, rowNumbers(0)...)
	claimed.Wins.Cinko1 = &Winner{PlayerID: "p2"}

	cases := []struct {
		name    string
		setup   State
		cmd     Command
		wantErr error
	}{
		{name: "not satisfied", setup: playingWith([]string{"p1"}, 1, 2, 3), cmd: Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko1}, wantErr: ErrClaimNotSatisfied},
		{name: "no card", setup: noCard, cmd: Command{Type: CmdClaim, PlayerID: "late", Tier: card.TierCinko1}, wantErr: ErrForbidden},
		{name: "already claimed", setup: claimed, cmd: Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko1}, wantErr: ErrAlreadyClaimed},
		{name: "unknown tier", setup: playingWith([]string{"p1"}), cmd: Command{Type: CmdClaim, PlayerID: "p1", Tier: "bingo"}, wantErr: ErrInvalidState},
		{name: "not playing", setup: lobbyWith(t, e, "p1"), cmd: Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko1}, wantErr: ErrInvalidState},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.Apply(tc.setup, tc.cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestClaim_FirstValidClaimWins(t *testing.T) {
	e := newTestEngine()
	s := playingWith([]string{"p1", "p2"}, rowNumbers(0)...)

	events, s, err := e.Apply(s, Command{Type: CmdClaim, PlayerID: "p2", Tier: card.TierCinko1})
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtClaimAccepted))

	_, _, err = e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: card.TierCinko1})
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	require.Equal(t, &Winner{PlayerID: "p2", PlayerName: "name-p2", Timestamp: fixedNow}, s.Wins.Cinko1)
}

// Scenario A: a single player draws until the card is full, claims every
// tier, and the session finishes.
func TestScenario_SinglePlayerTombala(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "p1")

	_, s, err := e.Apply(s, Command{Type: CmdStart, PlayerID: "p1"})
	require.NoError(t, err)
	c, ok := s.Card("p1")
	require.True(t, ok)

	for !card.Evaluate(c, s.Draw).Tombala {
		_, s, err = e.Apply(s, Command{Type: CmdDraw, PlayerID: "p1"})
		require.NoError(t, err)
	}

	for _, tier := range card.Tiers {
		_, s, err = e.Apply(s, Command{Type: CmdClaim, PlayerID: "p1", Tier: tier})
		require.NoError(t, err, "claim %s", tier)
	}

	require.NotNil(t, s.Wins.Tombala)
	assert.Equal(t, "p1", s.Wins.Tombala.PlayerID)
	assert.Equal(t, StatusFinished, s.Status)
	assert.True(t, s.Paused)

	_, _, err = e.Apply(s, Command{Type: CmdDraw, PlayerID: "p1"})
	require.ErrorIs(t, err, ErrInvalidState)
}

// Scenario B: draw permission is widened by the host.
func TestScenario_DrawPermission(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "host", "guest")
	_, s, err := e.Apply(s, Command{Type: CmdStart, PlayerID: "host"})
	require.NoError(t, err)

	_, _, err = e.Apply(s, Command{Type: CmdDraw, PlayerID: "guest"})
	require.ErrorIs(t, err, ErrForbidden)

	settings := s.Settings
	settings.DrawPermission = PermissionAllPlayers
	_, _, err = e.Apply(s, Command{Type: CmdUpdateSettings, PlayerID: "guest", Settings: settings})
	require.ErrorIs(t, err, ErrForbidden)

	events, s, err := e.Apply(s, Command{Type: CmdUpdateSettings, PlayerID: "host", Settings: settings})
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtSettingsChanged))

	events, _, err = e.Apply(s, Command{Type: CmdDraw, PlayerID: "guest"})
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtNumberDrawn))
}

func TestUpdateSettings_RejectsUnknownValues(t *testing.T) {
	e := newTestEngine()
	s := lobbyWith(t, e, "p1")
	_, _, err := e.Apply(s, Command{Type: CmdUpdateSettings, PlayerID: "p1", Settings: Settings{DrawPermission: "everyone", DrawInterval: IntervalFast}})
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestSetPaused(t *testing.T) {
	e := newTestEngine()
	s := playingWith([]string{"p1", "p2"}, 4, 5)
	s.Draw.Countdown = 10

	_, _, err := e.Apply(s, Command{Type: CmdSetPaused, PlayerID: "p2", Paused: true})
	require.ErrorIs(t, err, ErrForbidden)

	events, s, err := e.Apply(s, Command{Type: CmdSetPaused, PlayerID: "p1", Paused: true, Countdown: 3})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Type: EvtStatusChanged, Status: StatusPlaying, Paused: true, Countdown: 3}, events[0])
	assert.Equal(t, []int{4, 5}, s.Draw.Drawn)

	// Pausing twice is a no-op, so a retried request is harmless.
	events, _, err = e.Apply(s, Command{Type: CmdSetPaused, PlayerID: "p1", Paused: true})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, s, err = e.Apply(s, Command{Type: CmdSetPaused, PlayerID: "p1", Paused: false})
	require.NoError(t, err)
	assert.Equal(t, 3, events[0].Countdown)
	assert.False(t, s.Paused)
}

func TestNewGame_KeepsRosterAndSettings(t *testing.T) {
	e := newTestEngine()
	s := playingWith([]string{"p1", "p2"}, rowNumbers(0)...)
	s.Settings.DrawInterval = IntervalFast
	_, s, err := e.Apply(s, Command{Type: CmdClaim, PlayerID: "p2", Tier: card.TierCinko1})
	require.NoError(t, err)

	_, _, err = e.Apply(s, Command{Type: CmdNewGame, PlayerID: "p2"})
	require.ErrorIs(t, err, ErrForbidden)

	events, s, err := e.Apply(s, Command{Type: CmdNewGame, PlayerID: "p1"})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtGameReset))
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Empty(t, s.Draw.Drawn)
	assert.Nil(t, s.Wins.Cinko1)
	assert.Empty(t, s.Cards)
	assert.Len(t, s.Players, 2)
	assert.Equal(t, IntervalFast, s.Settings.DrawInterval)

	_, _, err = e.Apply(s, Command{Type: CmdNewGame, PlayerID: "p1"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestApply_UnsupportedCommand(t *testing.T) {
	e := newTestEngine()
	_, _, err := e.Apply(NewState("S1"), Command{Type: "Teleport"})
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}
