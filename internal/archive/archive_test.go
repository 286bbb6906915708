package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
)

func finishedState() engine.State {
	at := time.Date(2024, 4, 23, 20, 0, 0, 0, time.UTC)
	s := engine.NewState("ARC001")
	s.Status = engine.StatusFinished
	s.Players = []engine.Player{{ID: "p1", Name: "Ayse"}, {ID: "bot-1", Name: "Ali (bot)", Bot: true}}
	s.Draw.Drawn = []int{1, 2, 3}
	s.Wins = engine.Wins{
		Cinko1:  &engine.Winner{PlayerID: "bot-1", PlayerName: "Ali (bot)", Bot: true, Timestamp: at},
		Cinko2:  &engine.Winner{PlayerID: "p1", PlayerName: "Ayse", Timestamp: at.Add(time.Minute)},
		Tombala: &engine.Winner{PlayerID: "p1", PlayerName: "Ayse", Timestamp: at.Add(2 * time.Minute)},
	}
	return s
}

func TestWinnerRows(t *testing.T) {
	rows := winnerRows(finishedState())
	require.Len(t, rows, 3)
	assert.Equal(t, card.TierCinko1, rows[0].Tier)
	assert.True(t, rows[0].Bot)
	assert.Equal(t, card.TierTombala, rows[2].Tier)
	assert.Equal(t, "p1", rows[2].PlayerID)

	// exhausted game with no tombala
	s := finishedState()
	s.Wins.Tombala = nil
	assert.Len(t, winnerRows(s), 2)
	assert.Empty(t, winnerRows(engine.NewState("x")))
}

func TestArchive_Postgres(t *testing.T) {
	dsn := os.Getenv("TOMBALA_TEST_DSN")
	if dsn == "" {
		t.Skip("TOMBALA_TEST_DSN not set")
	}
	ctx := context.Background()
	a, err := New(ctx, dsn)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Migrate(ctx))

	require.NoError(t, a.RecordFinished(ctx, finishedState()))

	board, err := a.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, board)
	assert.Equal(t, "p1", board[0].PlayerID)
	assert.GreaterOrEqual(t, board[0].Tombalas, 1)
}
