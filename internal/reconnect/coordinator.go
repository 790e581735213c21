// Package reconnect restores disconnected identities onto fresh
// transport connections: the player (or host) record, the active
// session state and the sync engine's ack bookkeeping all migrate under
// the room lock in one step, so no timer or broadcast can observe a
// half-migrated identity.
package reconnect

import (
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/room"
	"github.com/partydeck/partydeck/internal/statesync"
)

// Request is a player reconnection attempt arriving on a new
// connection.
type Request struct {
	RoomCode             string `json:"room_code"`
	ClaimedName          string `json:"claimed_name"`
	PreviousIdentityHint string `json:"previous_identity_hint,omitempty"`
}

// HostRequest is a host reconnection attempt. The host proves identity
// with the token issued at room creation rather than a display name.
type HostRequest struct {
	RoomCode  string          `json:"room_code"`
	HostToken string          `json:"host_token"`
	Role      models.HostRole `json:"role"`
}

// Result reports a successful player reconnection.
type Result struct {
	Room          *room.Room
	Player        *models.Player
	RestoredScore int
	Snapshot      models.RoomSnapshot
}

// Coordinator performs identity migration across the registry and the
// sync engine.
type Coordinator struct {
	registry *room.Registry
	engine   *statesync.Engine
	clock    clockwork.Clock
}

// NewCoordinator wires a coordinator.
func NewCoordinator(registry *room.Registry, engine *statesync.Engine, clock clockwork.Clock) *Coordinator {
	return &Coordinator{registry: registry, engine: engine, clock: clock}
}

// ReconnectPlayer locates a disconnected player matching the claimed
// name (case-insensitive), preferring an exact identity-hint match, and
// swaps the new connection id in. Ack history for the old connection is
// gone; the caller must follow up with a full resync, never incremental
// updates.
func (c *Coordinator) ReconnectPlayer(req Request, newConnID string) (*Result, error) {
	r, err := c.registry.Get(req.RoomCode)
	if err != nil {
		return nil, room.ErrReconnectNotFound
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	p := findDisconnected(r, req)
	if p == nil {
		log.Info().
			Str("room", r.Code).
			Str("claimed_name", req.ClaimedName).
			Msg("reconnect rejected, no matching disconnected player")
		return nil, room.ErrReconnectNotFound
	}

	p.ConnID = newConnID
	p.Status = models.PlayerStatusConnected
	p.LastSeen = c.clock.Now()
	c.registry.Touch(r)

	// Fresh ack rows: the new connection starts at version 0 and is
	// brought up to date by a full-state push.
	c.engine.RegisterClient(r.Code, newConnID)

	log.Info().
		Str("room", r.Code).
		Str("player", p.Identity).
		Str("name", p.Name).
		Int("restored_score", p.Score).
		Msg("player reconnected")

	return &Result{
		Room:          r,
		Player:        p,
		RestoredScore: p.Score,
		Snapshot:      r.Snapshot(),
	}, nil
}

// ReconnectHost re-attaches a host connection within the grace window.
// The room code, settings, active session and version counters survive
// unchanged, so players see a continuous version sequence with no
// resync discontinuity.
func (c *Coordinator) ReconnectHost(req HostRequest, newConnID string) (*room.Room, error) {
	r, err := c.registry.Get(req.RoomCode)
	if err != nil {
		return nil, room.ErrReconnectNotFound
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	if req.HostToken == "" || req.HostToken != r.Host.Identity {
		log.Info().Str("room", r.Code).Msg("host reconnect rejected, token mismatch")
		return nil, room.ErrReconnectNotFound
	}

	switch req.Role {
	case models.HostRoleDisplay:
		r.Host.DisplayConnID = newConnID
	default:
		r.Host.ControlConnID = newConnID
	}
	r.Host.Status = models.PlayerStatusConnected
	r.Host.LastSeen = c.clock.Now()
	c.registry.Touch(r)
	c.engine.RegisterClient(r.Code, newConnID)

	log.Info().Str("room", r.Code).Str("role", string(req.Role)).Msg("host reconnected")
	return r, nil
}

// findDisconnected applies the match rules: exact identity hint first,
// then case-insensitive claimed name; only DISCONNECTED players
// qualify. A matching player that is already connected means someone
// else holds that seat, so the attempt fails rather than hijacking it.
func findDisconnected(r *room.Room, req Request) *models.Player {
	if req.PreviousIdentityHint != "" {
		if p, ok := r.Player(req.PreviousIdentityHint); ok {
			if p.Status == models.PlayerStatusDisconnected &&
				strings.EqualFold(p.Name, strings.TrimSpace(req.ClaimedName)) {
				return p
			}
			return nil
		}
	}
	name := strings.TrimSpace(req.ClaimedName)
	for _, p := range r.Players() {
		if strings.EqualFold(p.Name, name) {
			if p.Status == models.PlayerStatusDisconnected {
				return p
			}
			return nil
		}
	}
	return nil
}
