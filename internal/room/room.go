package room

import (
	"sort"
	"sync"
	"time"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/session"
)

// Room is the top-level aggregate for one party. All mutation of the
// room, its roster and its session happens under Mu, which is shared
// with the session so timer callbacks and player actions serialize
// against each other. Multiple rooms proceed independently.
type Room struct {
	Mu sync.Mutex

	Code     string
	Host     *models.Host
	Settings models.RoomSettings

	CreatedAt time.Time
	ExpiresAt time.Time

	players map[string]*models.Player
	session *session.Session

	// destroyed marks a torn-down room so grace and sweep callbacks
	// that lost the race become no-ops.
	destroyed bool
}

// Players implements session.Roster. Returns the roster in stable join
// order. Caller holds Mu.
func (r *Room) Players() []*models.Player {
	out := make([]*models.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Player returns a roster entry by identity. Caller holds Mu.
func (r *Room) Player(identity string) (*models.Player, bool) {
	p, ok := r.players[identity]
	return p, ok
}

// PlayerByConn resolves the current holder of a connection id. Caller
// holds Mu.
func (r *Room) PlayerByConn(connID string) (*models.Player, bool) {
	for _, p := range r.players {
		if p.ConnID == connID {
			return p, true
		}
	}
	return nil, false
}

// ConnectedConnIDs returns the connection ids of all connected players
// plus the host connections. Caller holds Mu.
func (r *Room) ConnectedConnIDs() []string {
	var ids []string
	for _, p := range r.players {
		if p.Connected() && p.ConnID != "" {
			ids = append(ids, p.ConnID)
		}
	}
	if r.Host.Status == models.PlayerStatusConnected {
		if r.Host.ControlConnID != "" {
			ids = append(ids, r.Host.ControlConnID)
		}
		if r.Host.DisplayConnID != "" {
			ids = append(ids, r.Host.DisplayConnID)
		}
	}
	return ids
}

// Session returns the active game session, nil when idle. Caller holds
// Mu.
func (r *Room) Session() *session.Session {
	return r.session
}

// SetSession installs or clears the active session. Caller holds Mu.
func (r *Room) SetSession(s *session.Session) {
	r.session = s
}

// Snapshot builds the wire representation handed out on join and
// reconnect. Caller holds Mu.
func (r *Room) Snapshot() models.RoomSnapshot {
	snap := models.RoomSnapshot{
		Code:        r.Code,
		Players:     r.Players(),
		PlayerCount: len(r.players),
		Settings:    r.Settings,
		CreatedAt:   r.CreatedAt,
	}
	if r.session != nil && r.session.State() != models.SessionStateGameEnd {
		snap.GameActive = true
		snap.GameType = r.session.GameType()
	}
	return snap
}
