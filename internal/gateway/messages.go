package gateway

import (
	"encoding/json"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/room"
)

// ClientMessage is the single inbound frame shape. Data is decoded per
// action.
type ClientMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Inbound actions.
const (
	ActionCreateRoom     = "create_room"
	ActionJoinRoom       = "join_room"
	ActionReconnect      = "reconnect"
	ActionHostReconnect  = "host_reconnect"
	ActionStartGame      = "start_game"
	ActionPauseGame      = "pause_game"
	ActionResumeGame     = "resume_game"
	ActionEndGame        = "end_game"
	ActionCloseRoom      = "close_room"
	ActionPlayerAction   = "player_action"
	ActionAck            = "ack"
	ActionLeaveRoom      = "leave_room"
	ActionKickPlayer     = "kick_player"
	ActionUpdateSettings = "update_settings"
)

// Command reply events, sent directly to the requesting connection in
// the fire-and-forget frame shape.
const (
	replyRoomCreated     = "room_created"
	replyJoined          = "joined"
	replyReconnected     = "reconnected"
	replyHostReconnected = "host_reconnected"
	replyError           = "error"
)

type createRoomPayload struct {
	Role     models.HostRole      `json:"role,omitempty"`
	Settings *models.RoomSettings `json:"settings,omitempty"`
}

type joinRoomPayload struct {
	RoomCode string `json:"room_code"`
	room.JoinRequest
}

type startGamePayload struct {
	GameType models.GameType `json:"game_type"`
}

type playerActionPayload struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type kickPlayerPayload struct {
	Identity string `json:"identity"`
}

type updateSettingsPayload struct {
	Settings models.RoomSettings `json:"settings"`
}

type roomCreatedReply struct {
	RoomCode  string              `json:"room_code"`
	HostToken string              `json:"host_token"`
	JoinURL   string              `json:"join_url"`
	Settings  models.RoomSettings `json:"settings"`
}

type joinedReply struct {
	Identity string              `json:"identity"`
	Snapshot models.RoomSnapshot `json:"snapshot"`
}

type reconnectedReply struct {
	Identity      string              `json:"identity"`
	RestoredScore int                 `json:"restored_score"`
	Snapshot      models.RoomSnapshot `json:"snapshot"`
}

type hostReconnectedReply struct {
	Snapshot models.RoomSnapshot `json:"snapshot"`
}

type errorReply struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// rosterView is the payload broadcast under the roster message type.
type rosterView struct {
	Players     []*models.Player `json:"players"`
	PlayerCount int              `json:"player_count"`
	HostOnline  bool             `json:"host_online"`
}

// settingsView is the payload broadcast under the settings message type.
type settingsView struct {
	Settings models.RoomSettings `json:"settings"`
}
