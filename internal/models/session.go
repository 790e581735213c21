package models

import (
	"time"
)

// GameType identifies a concrete minigame plugin.
type GameType string

const (
	GameTypeTrivia    GameType = "trivia"
	GameTypePriceHunt GameType = "pricehunt"
	GameTypeMajority  GameType = "majority"
	GameTypeBingo     GameType = "bingo"
)

// SessionState defines the lifecycle state of a game session.
type SessionState string

const (
	SessionStateLobby    SessionState = "LOBBY"
	SessionStateStarting SessionState = "STARTING"
	SessionStatePlaying  SessionState = "PLAYING"
	SessionStateRoundEnd SessionState = "ROUND_END"
	SessionStateGameEnd  SessionState = "GAME_END"
	SessionStatePaused   SessionState = "PAUSED"
)

// ScoreEntry is one scoreboard row, ordered by rank.
type ScoreEntry struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// GameResult is the final outcome of a finished session, appended to
// the leaderboard sink after GAME_END.
type GameResult struct {
	RoomCode   string       `json:"room_code"`
	GameType   GameType     `json:"game_type"`
	Rounds     int          `json:"rounds"`
	Scoreboard []ScoreEntry `json:"scoreboard"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"ended_at"`
}
