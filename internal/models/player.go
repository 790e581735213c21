package models

import (
	"time"
)

// PlayerStatus defines the connection status of a player.
type PlayerStatus string

const (
	PlayerStatusConnected    PlayerStatus = "CONNECTED"
	PlayerStatusDisconnected PlayerStatus = "DISCONNECTED"
)

// Player represents one roster entry in a room. Identity is the stable
// token that survives reconnects; ConnID is the current transport
// address and is swapped on reconnection.
type Player struct {
	Identity string       `json:"identity"`
	ConnID   string       `json:"-"`
	Name     string       `json:"name"`
	Avatar   string       `json:"avatar"`
	Score    int          `json:"score"`
	Status   PlayerStatus `json:"status"`
	LastSeen time.Time    `json:"last_seen"`
	Language string       `json:"language,omitempty"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Connected reports whether the player currently has a live transport.
func (p *Player) Connected() bool {
	return p.Status == PlayerStatusConnected
}

// HostRole distinguishes the two session roles a host credential can
// hold. Both roles share one host identity token; the display is just a
// second connection bound to the same principal.
type HostRole string

const (
	HostRoleControl HostRole = "control"
	HostRoleDisplay HostRole = "display"
)

// Host represents the room owner. The host is not part of the player
// roster and never appears in session scores.
type Host struct {
	Identity      string       `json:"identity"`
	ControlConnID string       `json:"-"`
	DisplayConnID string       `json:"-"`
	Status        PlayerStatus `json:"status"`
	LastSeen      time.Time    `json:"last_seen"`
}
