package models

import (
	"time"
)

// RoomSettings holds per-room configuration supplied by the host at
// creation time and adjustable from the lobby.
type RoomSettings struct {
	MaxPlayers      int     `json:"max_players" yaml:"max_players"`
	Language        string  `json:"language" yaml:"language"`
	RoundSeconds    int     `json:"round_seconds" yaml:"round_seconds"`
	CountdownSec    int     `json:"countdown_seconds" yaml:"countdown_seconds"`
	RevealSeconds   int     `json:"reveal_seconds" yaml:"reveal_seconds"`
	MaxRounds       int     `json:"max_rounds" yaml:"max_rounds"`
	ScoreMultiplier float64 `json:"score_multiplier" yaml:"score_multiplier"`
}

// DefaultRoomSettings returns the settings applied when the host does
// not override anything.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		MaxPlayers:      8,
		Language:        "en",
		RoundSeconds:    15,
		CountdownSec:    3,
		RevealSeconds:   5,
		MaxRounds:       10,
		ScoreMultiplier: 1.0,
	}
}

// RoomSnapshot is the wire representation of a room handed to clients
// on join and reconnect.
type RoomSnapshot struct {
	Code        string       `json:"code"`
	Players     []*Player    `json:"players"`
	PlayerCount int          `json:"player_count"`
	Settings    RoomSettings `json:"settings"`
	GameActive  bool         `json:"game_active"`
	GameType    GameType     `json:"game_type,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
