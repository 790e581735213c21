// Package leaderboard persists finished game results. Recording is
// fire-and-forget after GAME_END: failures are logged and never touch
// the synchronization path.
package leaderboard

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
)

// Recorder appends one finished game result to a sink.
type Recorder interface {
	Record(ctx context.Context, result models.GameResult) error
}

// Multi fans a result out to several sinks, logging individual
// failures without aborting the rest.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, result models.GameResult) error {
	for _, r := range m {
		if err := r.Record(ctx, result); err != nil {
			log.Error().Err(err).Str("room", result.RoomCode).Msg("leaderboard sink failed")
		}
	}
	return nil
}

// Noop discards results, used when no sink is configured.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(ctx context.Context, result models.GameResult) error {
	log.Debug().Str("room", result.RoomCode).Str("game_type", string(result.GameType)).Msg("leaderboard sink disabled, result dropped")
	return nil
}
