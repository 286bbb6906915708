// Package archive records finished games in Postgres: one row per session
// game and one per awarded tier.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS tombala_games (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT        NOT NULL,
	players     INT         NOT NULL,
	draws       INT         NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tombala_winners (
	game_id     BIGINT      NOT NULL REFERENCES tombala_games(id) ON DELETE CASCADE,
	tier        TEXT        NOT NULL,
	player_id   TEXT        NOT NULL,
	player_name TEXT        NOT NULL,
	is_bot      BOOLEAN     NOT NULL,
	won_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, tier)
);`

type Archive struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Archive{db: pool}, nil
}

func (a *Archive) Migrate(ctx context.Context) error {
	_, err := a.db.Exec(ctx, schema)
	return err
}

// WinnerRow is one awarded tier of a finished game.
type WinnerRow struct {
	Tier       card.Tier
	PlayerID   string
	PlayerName string
	Bot        bool
	WonAt      time.Time
}

// winnerRows lists the awarded tiers in claim order.
func winnerRows(s engine.State) []WinnerRow {
	var rows []WinnerRow
	for _, tier := range card.Tiers {
		w := s.Wins.Get(tier)
		if w == nil {
			continue
		}
		rows = append(rows, WinnerRow{
			Tier:       tier,
			PlayerID:   w.PlayerID,
			PlayerName: w.PlayerName,
			Bot:        w.Bot,
			WonAt:      w.Timestamp,
		})
	}
	return rows
}

// RecordFinished stores a finished game and its winners in one transaction.
func (a *Archive) RecordFinished(ctx context.Context, s engine.State) error {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var gameID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO tombala_games (session_id, players, draws) VALUES ($1, $2, $3) RETURNING id`,
		s.SessionID, len(s.Players), len(s.Draw.Drawn),
	).Scan(&gameID)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	for _, w := range winnerRows(s) {
		_, err := tx.Exec(ctx,
			`INSERT INTO tombala_winners (game_id, tier, player_id, player_name, is_bot, won_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			gameID, string(w.Tier), w.PlayerID, w.PlayerName, w.Bot, w.WonAt,
		)
		if err != nil {
			return fmt.Errorf("insert %s winner: %w", w.Tier, err)
		}
	}

	return tx.Commit(ctx)
}

// Leaderboard counts tier wins per player, most first.
func (a *Archive) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	rows, err := a.db.Query(ctx,
		`SELECT player_id, max(player_name), count(*) FILTER (WHERE tier = 'tombala'), count(*)
		 FROM tombala_winners
		 GROUP BY player_id
		 ORDER BY 3 DESC, 4 DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var s Standing
		if err := rows.Scan(&s.PlayerID, &s.PlayerName, &s.Tombalas, &s.Tiers); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type Standing struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Tombalas   int    `json:"tombalas"`
	Tiers      int    `json:"tiers"`
}

func (a *Archive) Close() { a.db.Close() }
