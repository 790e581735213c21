// Package admission rate-limits inbound actions per connection with a
// token bucket. Rejections are explicit: the caller returns an error to
// the sender, actions are never silently dropped and never queued.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a connection exceeds its action
// budget.
var ErrRateLimited = errors.New("too many actions, slow down")

// Config tunes the per-connection token bucket.
type Config struct {
	// ActionsPerSecond is the sustained refill rate.
	ActionsPerSecond float64

	// Burst is the bucket depth.
	Burst int

	// IdleEviction is how long an idle connection's bucket is kept.
	IdleEviction time.Duration

	// SweepInterval is how often idle buckets are evicted.
	SweepInterval time.Duration
}

// DefaultConfig returns limits generous enough for frantic tapping but
// tight enough to stop scripted flooding.
func DefaultConfig() Config {
	return Config{
		ActionsPerSecond: 5,
		Burst:            10,
		IdleEviction:     10 * time.Minute,
		SweepInterval:    time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Guard holds one token bucket per connection id.
type Guard struct {
	mu      sync.Mutex
	config  Config
	clock   clockwork.Clock
	buckets map[string]*entry
}

// NewGuard creates an empty guard.
func NewGuard(config Config, clock clockwork.Clock) *Guard {
	return &Guard{
		config:  config,
		clock:   clock,
		buckets: make(map[string]*entry),
	}
}

// Start evicts idle buckets until ctx is cancelled.
func (g *Guard) Start(ctx context.Context) {
	ticker := g.clock.NewTicker(g.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			g.sweep()
		}
	}
}

// Allow consumes one token for the connection, returning ErrRateLimited
// when the bucket is empty.
func (g *Guard) Allow(connID string) error {
	g.mu.Lock()
	e, ok := g.buckets[connID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(g.config.ActionsPerSecond), g.config.Burst)}
		g.buckets[connID] = e
	}
	e.lastSeen = g.clock.Now()
	g.mu.Unlock()

	if !e.limiter.Allow() {
		log.Warn().Str("conn", connID).Msg("action rate limited")
		return ErrRateLimited
	}
	return nil
}

// Forget drops a connection's bucket on disconnect.
func (g *Guard) Forget(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buckets, connID)
}

func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.clock.Now().Add(-g.config.IdleEviction)
	for connID, e := range g.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(g.buckets, connID)
		}
	}
}
