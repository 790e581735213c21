package session

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/partydeck/partydeck/internal/models"
)

// Game is the contract each concrete minigame implements. All hooks are
// invoked with the owning room's lock held, so implementations never
// need their own synchronization. Per-player state inside a game must
// be keyed by the stable player identity token, never by connection id.
type Game interface {
	// Type identifies the minigame.
	Type() models.GameType

	// Init builds the initial game state. It must be deterministic
	// given the player set, the settings, and the Runtime's rng.
	Init(rt *Runtime) error

	// StartRound arms per-round data and clears transients from the
	// previous round. Called on every PLAYING entry, including the
	// first.
	StartRound(rt *Runtime) error

	// HandleAction applies a validated player action. The core has
	// already checked session state and the once-per-round rule;
	// implementations validate their own payload and return
	// ErrValidation or ErrStateConflict for anything they reject.
	HandleAction(rt *Runtime, identity, action string, data json.RawMessage) error

	// EndRound scores the finished round and returns the points to
	// award per player identity.
	EndRound(rt *Runtime) map[string]int

	// ClientState returns the personalized projection for one player.
	// Secrets (correct answers, other players' grids) are withheld
	// until the session is in ROUND_END or GAME_END.
	ClientState(rt *Runtime, identity string) map[string]any

	// DisplayState returns the shared host-display projection.
	DisplayState(rt *Runtime) map[string]any
}

// Roster exposes the room's live player set to the session. Implemented
// by the room aggregate; called only under the room lock.
type Roster interface {
	Players() []*models.Player
}

// Runtime is the view of the session a minigame works against.
type Runtime struct {
	s *Session
}

// Players returns the current roster, connected or not.
func (rt *Runtime) Players() []*models.Player {
	return rt.s.roster.Players()
}

// ConnectedIdentities returns the identities of players that currently
// hold a live connection.
func (rt *Runtime) ConnectedIdentities() []string {
	var ids []string
	for _, p := range rt.s.roster.Players() {
		if p.Connected() {
			ids = append(ids, p.Identity)
		}
	}
	return ids
}

// Settings returns the room settings the session was built with.
func (rt *Runtime) Settings() models.RoomSettings {
	return rt.s.settings
}

// State returns the current lifecycle state.
func (rt *Runtime) State() models.SessionState {
	return rt.s.state
}

// Round returns the current round number, 1-based while playing.
func (rt *Runtime) Round() int {
	return rt.s.round
}

// MaxRounds returns the configured round count.
func (rt *Runtime) MaxRounds() int {
	return rt.s.maxRounds
}

// RoundLimit returns the round timer duration.
func (rt *Runtime) RoundLimit() time.Duration {
	return time.Duration(rt.s.settings.RoundSeconds) * time.Second
}

// Elapsed returns how long the current round has been running.
func (rt *Runtime) Elapsed() time.Duration {
	if rt.s.roundStartedAt.IsZero() {
		return 0
	}
	return rt.s.clock.Since(rt.s.roundStartedAt)
}

// Now returns the session clock's current time.
func (rt *Runtime) Now() time.Time {
	return rt.s.clock.Now()
}

// Rand returns the session's seeded rng, used for deck shuffling so
// initial state stays deterministic under a fixed seed.
func (rt *Runtime) Rand() *rand.Rand {
	return rt.s.rng
}

// Order returns the zero-based submission sequence of the action
// currently being processed. Games use it to break first-submitted
// ties.
func (rt *Runtime) Order() int {
	return rt.s.order
}

// Score returns a player's current total.
func (rt *Runtime) Score(identity string) int {
	return rt.s.scores[identity]
}
