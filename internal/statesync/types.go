package statesync

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the critical message types that participate in
// version counters and ACK bookkeeping. This set is closed: adding a
// type here means every client must acknowledge it and the gap monitor
// will watch it. Ephemeral notifications go through Event instead and
// must never be added here.
type MessageType string

const (
	MessageTypeGameState MessageType = "game_state"
	MessageTypeRoster    MessageType = "roster"
	MessageTypeSettings  MessageType = "settings"
)

// CriticalTypes lists every ACK-tracked message type.
var CriticalTypes = []MessageType{MessageTypeGameState, MessageTypeRoster, MessageTypeSettings}

// Valid reports whether mt is one of the critical types. Used at the
// network boundary before trusting a client-supplied ack.
func (mt MessageType) Valid() bool {
	switch mt {
	case MessageTypeGameState, MessageTypeRoster, MessageTypeSettings:
		return true
	}
	return false
}

// Envelope is the wire frame for a critical versioned message. All
// emissions for one mutation share a single version number; clients
// acknowledge {version, type} on receipt. When Encoding is "zstd" the
// Data field is a base64 string holding the compressed JSON payload;
// compression only shrinks bytes and never substitutes for the version
// comparison.
type Envelope struct {
	Type     MessageType     `json:"type"`
	Version  uint64          `json:"version"`
	Encoding string          `json:"encoding,omitempty"`
	Data     json.RawMessage `json:"data"`
	SentAt   time.Time       `json:"sent_at"`
}

// EventKind enumerates fire-and-forget notifications. These carry no
// version, are never cached and never enter the ack tables.
type EventKind string

const (
	EventKindPlayerActed EventKind = "player_acted"
	EventKindAudioCue    EventKind = "audio_cue"
	EventKindActionError EventKind = "action_error"
	EventKindPlayerLeft  EventKind = "player_left"
	EventKindRoomClosed  EventKind = "room_closed"
)

// Event is the wire frame for a fire-and-forget notification.
type Event struct {
	Event  EventKind `json:"event"`
	Data   any       `json:"data,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Ack is the client acknowledgment for a critical message.
type Ack struct {
	Version     uint64      `json:"version"`
	MessageType MessageType `json:"message_type"`
	Timestamp   int64       `json:"timestamp"`
}

// Sender delivers a marshaled frame to one connection. Implementations
// must not block: a send to a dead or slow client may simply fail, the
// ack/resync cycle heals the gap.
type Sender interface {
	Send(roomCode, connID string, payload []byte) bool
}

// ackRecord tracks one client's progress for one message type.
type ackRecord struct {
	version    uint64
	lastAck    time.Time
	lastResync time.Time
}
