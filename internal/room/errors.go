package room

import "errors"

var (
	// ErrRoomNotFound is returned when no room exists for a code.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when a join would exceed max players.
	ErrRoomFull = errors.New("room is full")

	// ErrNameTaken is returned when a joining name collides with an
	// active player in the room.
	ErrNameTaken = errors.New("name already taken")

	// ErrInvalidName is returned when a joining name is empty after
	// trimming.
	ErrInvalidName = errors.New("invalid name")

	// ErrReconnectNotFound is returned when no disconnected identity
	// matches a reconnection request.
	ErrReconnectNotFound = errors.New("no matching disconnected player")

	// ErrPlayerNotFound is returned for operations on an unknown
	// player identity.
	ErrPlayerNotFound = errors.New("player not found")
)
