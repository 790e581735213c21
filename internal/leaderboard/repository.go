package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
)

// Repository appends results to Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects a pool and ensures the results table exists.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	repo := &Repository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS game_results (
    id          BIGSERIAL PRIMARY KEY,
    room_code   TEXT        NOT NULL,
    game_type   TEXT        NOT NULL,
    rounds      INT         NOT NULL,
    scoreboard  JSONB       NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure game_results table: %w", err)
	}
	return nil
}

// Record implements Recorder.
func (r *Repository) Record(ctx context.Context, result models.GameResult) error {
	scoreboard, err := json.Marshal(result.Scoreboard)
	if err != nil {
		return fmt.Errorf("marshal scoreboard: %w", err)
	}
	const insert = `
INSERT INTO game_results (room_code, game_type, rounds, scoreboard, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.pool.Exec(ctx, insert,
		result.RoomCode, string(result.GameType), result.Rounds, scoreboard, result.StartedAt, result.EndedAt)
	if err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	log.Debug().Str("room", result.RoomCode).Str("game_type", string(result.GameType)).Msg("game result stored")
	return nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}
