package session

import "errors"

var (
	// ErrValidation is returned for malformed or unparseable actions.
	ErrValidation = errors.New("invalid action")

	// ErrStateConflict is returned when an action does not match the
	// current session state or round (wrong phase, already acted,
	// unknown player). The action is ignored and the session state is
	// left untouched.
	ErrStateConflict = errors.New("action conflicts with current state")

	// ErrSessionActive is returned when starting a game while another
	// session is still running in the room.
	ErrSessionActive = errors.New("a game session is already active")
)
