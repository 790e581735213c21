package room

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
)

// Config tunes room lifecycle windows.
type Config struct {
	// RoomTTL is how long an idle room survives; any mutation renews it.
	RoomTTL time.Duration

	// PlayerGrace is how long a disconnected player is kept on the
	// roster awaiting reconnection.
	PlayerGrace time.Duration

	// HostGrace is how long a room survives a host disconnect.
	HostGrace time.Duration

	// SweepInterval is how often expired rooms are collected.
	SweepInterval time.Duration
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		RoomTTL:       2 * time.Hour,
		PlayerGrace:   2 * time.Minute,
		HostGrace:     60 * time.Second,
		SweepInterval: time.Minute,
	}
}

// Observer receives registry-initiated changes. Roster and destroy
// callbacks run with the affected room's lock held; implementations
// must not block or re-enter the registry.
type Observer interface {
	// OnRosterChanged fires after any roster mutation: join, leave,
	// kick, disconnect, grace expiry, reconnect.
	OnRosterChanged(r *Room)

	// OnSettingsChanged fires after the host updates room settings.
	OnSettingsChanged(r *Room)

	// OnRoomDestroyed fires once per room teardown with the connection
	// ids that were attached at that moment.
	OnRoomDestroyed(code string, connIDs []string, reason string)
}

// Registry owns the room-code → Room mapping. It is the only place
// rooms are created and destroyed; everything else borrows a *Room and
// mutates it under the room's own lock.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	config   Config
	clock    clockwork.Clock
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, clock clockwork.Clock, observer Observer) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		config:   config,
		clock:    clock,
		observer: observer,
	}
}

// Start runs the idle-expiry sweep until ctx is cancelled.
func (reg *Registry) Start(ctx context.Context) {
	ticker := reg.clock.NewTicker(reg.config.SweepInterval)
	defer ticker.Stop()
	log.Info().Dur("interval", reg.config.SweepInterval).Msg("room expiry sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room expiry sweep stopped")
			return
		case <-ticker.Chan():
			reg.sweepExpired()
		}
	}
}

// CreateRoom allocates a room with a fresh code for a connecting host.
func (reg *Registry) CreateRoom(hostConnID string, role models.HostRole, settings models.RoomSettings) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var code string
	for attempt := 0; attempt < 5; attempt++ {
		c, err := generateCode()
		if err != nil {
			return nil, err
		}
		if _, taken := reg.rooms[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		return nil, fmt.Errorf("could not allocate a unique room code")
	}

	now := reg.clock.Now()
	host := &models.Host{
		Identity: uuid.New().String(),
		Status:   models.PlayerStatusConnected,
		LastSeen: now,
	}
	switch role {
	case models.HostRoleDisplay:
		host.DisplayConnID = hostConnID
	default:
		host.ControlConnID = hostConnID
	}

	r := &Room{
		Code:      code,
		Host:      host,
		Settings:  settings,
		CreatedAt: now,
		ExpiresAt: now.Add(reg.config.RoomTTL),
		players:   make(map[string]*models.Player),
	}
	reg.rooms[code] = r
	log.Info().Str("room", code).Str("host", host.Identity).Msg("room created")
	return r, nil
}

// Get returns a room by code.
func (reg *Registry) Get(code string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// JoinRequest carries the fields a joining player supplies.
type JoinRequest struct {
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Language string `json:"language"`
}

// JoinRoom adds a player to a room with a fresh identity token.
func (reg *Registry) JoinRoom(code, connID string, req JoinRequest) (*Room, *models.Player, error) {
	r, err := reg.Get(code)
	if err != nil {
		return nil, nil, err
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, nil, ErrInvalidName
	}
	if len(r.players) >= r.Settings.MaxPlayers {
		return nil, nil, ErrRoomFull
	}
	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			return nil, nil, ErrNameTaken
		}
	}

	now := reg.clock.Now()
	p := &models.Player{
		Identity: uuid.New().String(),
		ConnID:   connID,
		Name:     name,
		Avatar:   req.Avatar,
		Status:   models.PlayerStatusConnected,
		LastSeen: now,
		Language: req.Language,
		JoinedAt: now,
	}
	r.players[p.Identity] = p
	reg.touchLocked(r)
	log.Info().Str("room", r.Code).Str("player", p.Identity).Str("name", p.Name).Msg("player joined")
	reg.observer.OnRosterChanged(r)
	return r, p, nil
}

// RemovePlayer permanently removes a player on explicit leave or kick
// and returns the removed record so the caller can close its transport.
func (reg *Registry) RemovePlayer(code, identity, reason string) (*models.Player, error) {
	r, err := reg.Get(code)
	if err != nil {
		return nil, err
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	p, ok := r.players[identity]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	delete(r.players, identity)
	reg.touchLocked(r)
	log.Info().Str("room", r.Code).Str("player", identity).Str("reason", reason).Msg("player removed")
	if s := r.Session(); s != nil {
		s.MaybeEndEarly()
	}
	reg.observer.OnRosterChanged(r)
	return p, nil
}

// MarkPlayerDisconnected flags a dropped transport without deleting the
// player, arming the reconnection grace timer. The record and score
// stay; only ReconnectionCoordinator or the grace expiry touch it next.
func (reg *Registry) MarkPlayerDisconnected(code, identity string) {
	r, err := reg.Get(code)
	if err != nil {
		return
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	p, ok := r.players[identity]
	if !ok || p.Status == models.PlayerStatusDisconnected {
		return
	}
	p.Status = models.PlayerStatusDisconnected
	p.ConnID = ""
	p.LastSeen = reg.clock.Now()
	log.Info().Str("room", r.Code).Str("player", identity).Dur("grace", reg.config.PlayerGrace).Msg("player disconnected, grace timer armed")

	reg.afterGrace(r, reg.config.PlayerGrace, func() {
		current, ok := r.players[identity]
		if !ok || current.Status != models.PlayerStatusDisconnected {
			return
		}
		if reg.clock.Now().Before(current.LastSeen.Add(reg.config.PlayerGrace)) {
			// A later disconnect re-armed the window.
			return
		}
		delete(r.players, identity)
		log.Info().Str("room", r.Code).Str("player", identity).Msg("grace expired, player removed")
		if s := r.Session(); s != nil {
			s.MaybeEndEarly()
		}
		reg.observer.OnRosterChanged(r)
	})

	if s := r.Session(); s != nil {
		s.MaybeEndEarly()
	}
	reg.observer.OnRosterChanged(r)
}

// MarkHostDisconnected arms the host grace timer. The room, its code,
// settings and any active session survive untouched until it expires.
func (reg *Registry) MarkHostDisconnected(code, connID string) {
	r, err := reg.Get(code)
	if err != nil {
		return
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	switch connID {
	case r.Host.ControlConnID:
		r.Host.ControlConnID = ""
	case r.Host.DisplayConnID:
		r.Host.DisplayConnID = ""
	default:
		return
	}
	if r.Host.ControlConnID != "" || r.Host.DisplayConnID != "" {
		// The other host connection is still live.
		return
	}
	r.Host.Status = models.PlayerStatusDisconnected
	r.Host.LastSeen = reg.clock.Now()
	log.Info().Str("room", r.Code).Dur("grace", reg.config.HostGrace).Msg("host disconnected, room kept alive")

	reg.afterGrace(r, reg.config.HostGrace, func() {
		if r.Host.Status != models.PlayerStatusDisconnected {
			return
		}
		if reg.clock.Now().Before(r.Host.LastSeen.Add(reg.config.HostGrace)) {
			return
		}
		log.Info().Str("room", r.Code).Msg("host grace expired, tearing down room")
		reg.destroyLocked(r, "host grace expired")
	})
}

// UpdateSettings applies host-edited settings from the lobby.
func (reg *Registry) UpdateSettings(code string, settings models.RoomSettings) error {
	r, err := reg.Get(code)
	if err != nil {
		return err
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.Settings = settings
	reg.touchLocked(r)
	log.Info().Str("room", r.Code).Msg("settings updated")
	reg.observer.OnSettingsChanged(r)
	return nil
}

// Touch renews a room's idle expiry. Caller holds the room lock.
func (reg *Registry) Touch(r *Room) {
	reg.touchLocked(r)
}

func (reg *Registry) touchLocked(r *Room) {
	r.ExpiresAt = reg.clock.Now().Add(reg.config.RoomTTL)
}

// DestroyRoom tears a room down on explicit end.
func (reg *Registry) DestroyRoom(code, reason string) {
	r, err := reg.Get(code)
	if err != nil {
		return
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	reg.destroyLocked(r, reason)
}

// destroyLocked cancels every pending timer, removes the room from the
// map and notifies the observer. Caller holds the room lock.
func (reg *Registry) destroyLocked(r *Room, reason string) {
	if r.destroyed {
		return
	}
	r.destroyed = true
	if s := r.Session(); s != nil {
		s.ReleaseTimers()
		r.SetSession(nil)
	}
	connIDs := r.ConnectedConnIDs()

	reg.mu.Lock()
	delete(reg.rooms, r.Code)
	reg.mu.Unlock()

	log.Info().Str("room", r.Code).Str("reason", reason).Int("connections", len(connIDs)).Msg("room destroyed")
	reg.observer.OnRoomDestroyed(r.Code, connIDs, reason)
}

// afterGrace arms a grace callback for a room. The callback re-acquires
// the room lock and must re-validate its predicate: the timer is never
// trusted as the source of truth, a reconnect or teardown that happened
// in between makes it a no-op.
func (reg *Registry) afterGrace(r *Room, d time.Duration, fn func()) {
	timer := reg.clock.NewTimer(d)
	go func() {
		<-timer.Chan()
		r.Mu.Lock()
		defer r.Mu.Unlock()
		if r.destroyed {
			return
		}
		fn()
	}()
}

// sweepExpired destroys rooms past their idle deadline.
func (reg *Registry) sweepExpired() {
	reg.mu.RLock()
	candidates := make([]*Room, 0, len(reg.rooms))
	now := reg.clock.Now()
	for _, r := range reg.rooms {
		candidates = append(candidates, r)
	}
	reg.mu.RUnlock()

	for _, r := range candidates {
		r.Mu.Lock()
		if !r.destroyed && now.After(r.ExpiresAt) {
			log.Info().Str("room", r.Code).Msg("room idle expiry reached")
			reg.destroyLocked(r, "idle expiry")
		}
		r.Mu.Unlock()
	}
}
