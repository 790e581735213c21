package session

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
)

// Listener receives session lifecycle notifications. Callbacks run with
// the room lock held, so implementations must not block and must not
// call back into the session.
type Listener interface {
	// OnStateChanged fires after every state transition and after any
	// accepted player action that changed visible state.
	OnStateChanged(roomCode string)

	// OnSessionEnded fires exactly once when the session reaches
	// GAME_END, whether by playing out all rounds or by forced end.
	OnSessionEnded(roomCode string, result models.GameResult)
}

// Session is the authoritative state machine for one running minigame.
// All mutation happens under the owning room's mutex: exported methods
// document whether they expect the lock to be held by the caller or
// acquire it themselves. Timer callbacks re-acquire the lock and
// validate their captured epoch before touching anything, so a stale
// callback that lost a cancellation race degrades to a logged no-op.
type Session struct {
	mu       *sync.Mutex
	clock    clockwork.Clock
	game     Game
	roster   Roster
	listener Listener
	rng      *rand.Rand

	roomCode string
	settings models.RoomSettings

	state     models.SessionState
	prevState models.SessionState
	round     int
	maxRounds int
	startedAt time.Time

	roundStartedAt time.Time
	deadline       time.Time
	pauseRemaining time.Duration

	// epoch increments on every transition; scheduled work captures the
	// value at arm time and no-ops on mismatch.
	epoch uint64
	timer clockwork.Timer

	scores map[string]int
	acted  map[string]bool
	order  int // submission sequence within the current round
}

// Config carries everything needed to construct a session.
type Config struct {
	RoomCode string
	Game     Game
	Roster   Roster
	Settings models.RoomSettings
	Listener Listener
	Clock    clockwork.Clock
	Seed     int64
	Mu       *sync.Mutex
}

// New builds a session in LOBBY with round 0 and initializes the game
// plugin state. Caller must hold the room lock.
func New(cfg Config) (*Session, error) {
	s := &Session{
		mu:        cfg.Mu,
		clock:     cfg.Clock,
		game:      cfg.Game,
		roster:    cfg.Roster,
		listener:  cfg.Listener,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		roomCode:  cfg.RoomCode,
		settings:  cfg.Settings,
		state:     models.SessionStateLobby,
		maxRounds: cfg.Settings.MaxRounds,
		scores:    make(map[string]int),
		acted:     make(map[string]bool),
	}
	for _, p := range cfg.Roster.Players() {
		s.scores[p.Identity] = 0
	}
	if err := s.game.Init(s.runtime()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) runtime() *Runtime { return &Runtime{s: s} }

// State returns the current lifecycle state. Caller holds the lock.
func (s *Session) State() models.SessionState { return s.state }

// Round returns the current round number. Caller holds the lock.
func (s *Session) Round() int { return s.round }

// GameType returns the running minigame's type.
func (s *Session) GameType() models.GameType { return s.game.Type() }

// Scores returns the live score map keyed by player identity. Caller
// holds the lock and must not mutate the returned map.
func (s *Session) Scores() map[string]int { return s.scores }

// Start moves LOBBY → STARTING and arms the countdown. Caller holds the
// room lock.
func (s *Session) Start() error {
	if s.state != models.SessionStateLobby {
		return ErrStateConflict
	}
	s.startedAt = s.clock.Now()
	s.transition(models.SessionStateStarting)
	countdown := time.Duration(s.settings.CountdownSec) * time.Second
	s.schedule(countdown, func() { s.beginRound() })
	log.Info().
		Str("room", s.roomCode).
		Str("game_type", string(s.game.Type())).
		Dur("countdown", countdown).
		Msg("session starting")
	return nil
}

// beginRound enters PLAYING for the next round. Caller holds the lock.
func (s *Session) beginRound() {
	s.round++
	s.acted = make(map[string]bool)
	s.order = 0
	s.roundStartedAt = s.clock.Now()
	s.transition(models.SessionStatePlaying)

	if err := s.game.StartRound(s.runtime()); err != nil {
		log.Error().Err(err).Str("room", s.roomCode).Int("round", s.round).Msg("start round failed, ending session")
		s.finish()
		return
	}

	limit := time.Duration(s.settings.RoundSeconds) * time.Second
	s.deadline = s.roundStartedAt.Add(limit)
	s.schedule(limit, func() { s.endRound("timeout") })
	log.Info().
		Str("room", s.roomCode).
		Int("round", s.round).
		Dur("limit", limit).
		Msg("round started")
	s.listener.OnStateChanged(s.roomCode)
}

// HandleAction validates and applies a player action. Caller holds the
// room lock. Actions outside PLAYING or from a player that already
// acted this round are rejected with ErrStateConflict.
func (s *Session) HandleAction(identity, action string, data json.RawMessage) error {
	if s.state != models.SessionStatePlaying {
		return ErrStateConflict
	}
	if _, ok := s.scores[identity]; !ok {
		return ErrStateConflict
	}
	if s.acted[identity] {
		return ErrStateConflict
	}

	if err := s.game.HandleAction(s.runtime(), identity, action, data); err != nil {
		return err
	}
	s.acted[identity] = true
	s.order++

	if s.allConnectedActed() {
		log.Debug().Str("room", s.roomCode).Int("round", s.round).Msg("all connected players acted, ending round early")
		s.endRound("all acted")
		return nil
	}
	s.listener.OnStateChanged(s.roomCode)
	return nil
}

// allConnectedActed reports whether every currently connected player
// has submitted a valid action this round.
func (s *Session) allConnectedActed() bool {
	connected := 0
	for _, p := range s.roster.Players() {
		if !p.Connected() {
			continue
		}
		connected++
		if !s.acted[p.Identity] {
			return false
		}
	}
	return connected > 0
}

// MaybeEndEarly re-checks the early-termination rule. Called by the
// room when a player disconnects mid-round, since a departure can make
// the remaining connected set fully acted. Caller holds the lock.
func (s *Session) MaybeEndEarly() {
	if s.state == models.SessionStatePlaying && s.allConnectedActed() {
		log.Debug().Str("room", s.roomCode).Int("round", s.round).Msg("disconnect left all connected players acted, ending round")
		s.endRound("all acted after disconnect")
	}
}

// endRound scores the round and enters ROUND_END. Caller holds the lock.
func (s *Session) endRound(reason string) {
	if s.state != models.SessionStatePlaying {
		return
	}
	awards := s.game.EndRound(s.runtime())
	for identity, points := range awards {
		if _, ok := s.scores[identity]; ok && points > 0 {
			s.scores[identity] += points
		}
	}
	s.syncRosterScores()
	s.transition(models.SessionStateRoundEnd)

	reveal := time.Duration(s.settings.RevealSeconds) * time.Second
	s.deadline = s.clock.Now().Add(reveal)
	last := s.round >= s.maxRounds
	s.schedule(reveal, func() {
		if last {
			s.finish()
		} else {
			s.beginRound()
		}
	})
	log.Info().
		Str("room", s.roomCode).
		Int("round", s.round).
		Str("reason", reason).
		Bool("last_round", last).
		Msg("round ended")
	s.listener.OnStateChanged(s.roomCode)
}

// Pause suspends the session from PLAYING or ROUND_END, remembering the
// interrupted state and the remaining time on its timer. Caller holds
// the room lock.
func (s *Session) Pause() error {
	if s.state != models.SessionStatePlaying && s.state != models.SessionStateRoundEnd {
		return ErrStateConflict
	}
	s.prevState = s.state
	s.pauseRemaining = s.deadline.Sub(s.clock.Now())
	if s.pauseRemaining < 0 {
		s.pauseRemaining = 0
	}
	s.transition(models.SessionStatePaused)
	log.Info().
		Str("room", s.roomCode).
		Str("resume_state", string(s.prevState)).
		Dur("remaining", s.pauseRemaining).
		Msg("session paused")
	s.listener.OnStateChanged(s.roomCode)
	return nil
}

// Resume returns to the state held before pausing and re-arms the
// interrupted timer with its remaining duration. Caller holds the lock.
func (s *Session) Resume() error {
	if s.state != models.SessionStatePaused {
		return ErrStateConflict
	}
	resumed := s.prevState
	s.state = resumed
	s.epoch++
	s.deadline = s.clock.Now().Add(s.pauseRemaining)

	last := s.round >= s.maxRounds
	switch resumed {
	case models.SessionStatePlaying:
		s.schedule(s.pauseRemaining, func() { s.endRound("timeout") })
	case models.SessionStateRoundEnd:
		s.schedule(s.pauseRemaining, func() {
			if last {
				s.finish()
			} else {
				s.beginRound()
			}
		})
	}
	log.Info().
		Str("room", s.roomCode).
		Str("state", string(resumed)).
		Dur("remaining", s.pauseRemaining).
		Msg("session resumed")
	s.listener.OnStateChanged(s.roomCode)
	return nil
}

// End force-terminates the session from any state. Caller holds the
// room lock. Safe to call repeatedly.
func (s *Session) End() {
	if s.state == models.SessionStateGameEnd {
		return
	}
	s.finish()
}

// finish enters GAME_END, cancels pending work and reports the result.
func (s *Session) finish() {
	s.transition(models.SessionStateGameEnd)
	result := models.GameResult{
		RoomCode:   s.roomCode,
		GameType:   s.game.Type(),
		Rounds:     s.round,
		Scoreboard: s.Scoreboard(),
		StartedAt:  s.startedAt,
		EndedAt:    s.clock.Now(),
	}
	log.Info().
		Str("room", s.roomCode).
		Str("game_type", string(s.game.Type())).
		Int("rounds", s.round).
		Msg("session ended")
	s.listener.OnStateChanged(s.roomCode)
	s.listener.OnSessionEnded(s.roomCode, result)
}

// syncRosterScores mirrors session scores onto the roster records so a
// player's score survives the session (and rides along on reconnect
// snapshots).
func (s *Session) syncRosterScores() {
	for _, p := range s.roster.Players() {
		if score, ok := s.scores[p.Identity]; ok {
			p.Score = score
		}
	}
}

// transition switches state and invalidates all scheduled work by
// bumping the epoch and stopping the pending timer.
func (s *Session) transition(next models.SessionState) {
	s.state = next
	s.epoch++
	s.stopTimer()
}

// schedule arms a one-shot timer whose callback re-acquires the room
// lock and runs only if the session epoch is unchanged. Cancellation is
// epoch-based: a timer that fires after a transition finds a bumped
// epoch and no-ops, so lost Stop races are harmless.
func (s *Session) schedule(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	armed := s.epoch
	timer := s.clock.NewTimer(d)
	s.timer = timer
	go func() {
		<-timer.Chan()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != armed {
			log.Debug().
				Str("room", s.roomCode).
				Uint64("armed_epoch", armed).
				Uint64("current_epoch", s.epoch).
				Msg("stale timer fired, ignoring")
			return
		}
		fn()
	}()
}

// stopTimer stops and drains the pending timer. The epoch guard is the
// real cancellation; Stop just releases the goroutine early when it
// wins the race.
func (s *Session) stopTimer() {
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.Chan():
		default:
		}
	}
	s.timer = nil
}

// TimeRemaining returns the time left on the pending round or reveal
// timer, zero when idle or paused. Caller holds the lock.
func (s *Session) TimeRemaining() time.Duration {
	switch s.state {
	case models.SessionStatePlaying, models.SessionStateRoundEnd:
		remaining := s.deadline.Sub(s.clock.Now())
		if remaining < 0 {
			return 0
		}
		return remaining
	case models.SessionStatePaused:
		return s.pauseRemaining
	default:
		return 0
	}
}

// Scoreboard returns score entries ordered by rank. Caller holds the
// lock.
func (s *Session) Scoreboard() []models.ScoreEntry {
	byIdentity := make(map[string]*models.Player)
	for _, p := range s.roster.Players() {
		byIdentity[p.Identity] = p
	}
	entries := make([]models.ScoreEntry, 0, len(s.scores))
	for identity, score := range s.scores {
		entry := models.ScoreEntry{Identity: identity, Score: score}
		if p, ok := byIdentity[identity]; ok {
			entry.Name = p.Name
			entry.Avatar = p.Avatar
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// ClientState builds the personalized projection for one player,
// merging the session envelope with the game's own fields. Caller holds
// the lock.
func (s *Session) ClientState(identity string) map[string]any {
	view := s.baseState()
	for k, v := range s.game.ClientState(s.runtime(), identity) {
		view[k] = v
	}
	view["your_score"] = s.scores[identity]
	return view
}

// DisplayState builds the shared host-display projection. Caller holds
// the lock.
func (s *Session) DisplayState() map[string]any {
	view := s.baseState()
	for k, v := range s.game.DisplayState(s.runtime()) {
		view[k] = v
	}
	return view
}

func (s *Session) baseState() map[string]any {
	return map[string]any{
		"game_type":          s.game.Type(),
		"state":              s.state,
		"round":              s.round,
		"max_rounds":         s.maxRounds,
		"scores":             s.scores,
		"scoreboard":         s.Scoreboard(),
		"time_remaining_sec": int(s.TimeRemaining().Seconds()),
	}
}

// ReleaseTimers invalidates every scheduled callback, used when the
// room is torn down without a clean GAME_END. Caller holds the lock.
func (s *Session) ReleaseTimers() {
	s.epoch++
	s.stopTimer()
}
