package statesync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Config tunes the engine.
type Config struct {
	// GapTolerance is how long a client may lag behind the current
	// version before the monitor forces a full resync.
	GapTolerance time.Duration

	// MonitorInterval is how often the gap monitor scans ack tables.
	MonitorInterval time.Duration

	// ResyncBackoff is the minimum spacing between forced resyncs to
	// the same client and type.
	ResyncBackoff time.Duration

	// CompressThreshold is the payload size in bytes above which the
	// data field is zstd-compressed. Zero disables compression.
	CompressThreshold int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		GapTolerance:      5 * time.Second,
		MonitorInterval:   2 * time.Second,
		ResyncBackoff:     3 * time.Second,
		CompressThreshold: 8 * 1024,
	}
}

// Engine versions and delivers personalized room state to connected
// clients and tracks their acknowledgments. Convergence rests on
// version comparison: every mutation bumps the room's counter for that
// message type, all N personalized emissions carry the identical
// version, and a client whose acked version stays behind for longer
// than the tolerance gets a full re-push of the cached latest payload
// rather than any incremental repair.
type Engine struct {
	mu     sync.RWMutex
	config Config
	sender Sender
	clock  clockwork.Clock

	// versions: room → type → current version. Strictly increasing for
	// the lifetime of the room, including across host reconnects.
	versions map[string]map[MessageType]uint64

	// lastEmit: room → type → time of the latest versioned emission.
	lastEmit map[string]map[MessageType]time.Time

	// acks: room → conn → type → highest acked version.
	acks map[string]map[string]map[MessageType]*ackRecord

	// cache: room → conn → type → latest marshaled envelope, re-pushed
	// verbatim on forced resync.
	cache map[string]map[string]map[MessageType][]byte
}

// NewEngine creates an engine delivering through sender.
func NewEngine(config Config, sender Sender, clock clockwork.Clock) *Engine {
	return &Engine{
		config:   config,
		sender:   sender,
		clock:    clock,
		versions: make(map[string]map[MessageType]uint64),
		lastEmit: make(map[string]map[MessageType]time.Time),
		acks:     make(map[string]map[string]map[MessageType]*ackRecord),
		cache:    make(map[string]map[string]map[MessageType][]byte),
	}
}

// Start runs the gap monitor until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ticker := e.clock.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()
	log.Info().Dur("interval", e.config.MonitorInterval).Msg("sync gap monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync gap monitor stopped")
			return
		case <-ticker.Chan():
			e.scanForGaps()
		}
	}
}

// RegisterClient adds a connection to the ack tables so the monitor
// tracks it. A fresh client starts at version 0 for every type and
// receives full state via SendCurrent, never incremental updates.
func (e *Engine) RegisterClient(roomCode, connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acks[roomCode] == nil {
		e.acks[roomCode] = make(map[string]map[MessageType]*ackRecord)
	}
	rows := make(map[MessageType]*ackRecord, len(CriticalTypes))
	now := e.clock.Now()
	for _, mt := range CriticalTypes {
		rows[mt] = &ackRecord{lastAck: now}
	}
	e.acks[roomCode][connID] = rows
	log.Debug().Str("room", roomCode).Str("conn", connID).Msg("sync client registered")
}

// DropClient removes every trace of a connection. Called on disconnect
// and on reconnection for the superseded connection id; the replacement
// id starts clean and gets a full resync.
func (e *Engine) DropClient(roomCode, connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conns, ok := e.acks[roomCode]; ok {
		delete(conns, connID)
	}
	if conns, ok := e.cache[roomCode]; ok {
		delete(conns, connID)
	}
}

// DropRoom removes all bookkeeping for a room.
func (e *Engine) DropRoom(roomCode string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.versions, roomCode)
	delete(e.lastEmit, roomCode)
	delete(e.acks, roomCode)
	delete(e.cache, roomCode)
}

// Broadcast emits one mutation of a critical message type: a single
// version increment, then one personalized envelope per connection, all
// carrying the identical version number.
func (e *Engine) Broadcast(roomCode string, mt MessageType, views map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	version := e.bumpVersion(roomCode, mt)
	for connID, view := range views {
		e.emit(roomCode, connID, mt, version, view)
	}
	log.Debug().
		Str("room", roomCode).
		Str("type", string(mt)).
		Uint64("version", version).
		Int("clients", len(views)).
		Msg("state broadcast")
}

// SendCurrent pushes a freshly built projection to a single client at
// the room's current version, without incrementing it. Used for late
// joins and post-reconnect full resyncs.
func (e *Engine) SendCurrent(roomCode, connID string, mt MessageType, view any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	version := e.currentVersion(roomCode, mt)
	e.emit(roomCode, connID, mt, version, view)
	log.Debug().
		Str("room", roomCode).
		Str("conn", connID).
		Str("type", string(mt)).
		Uint64("version", version).
		Msg("full state sent")
}

// Version returns the current version for a room and type.
func (e *Engine) Version(roomCode string, mt MessageType) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentVersion(roomCode, mt)
}

// AckedVersion returns the highest version a connection acknowledged
// for a type.
func (e *Engine) AckedVersion(roomCode, connID string, mt MessageType) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rec := e.record(roomCode, connID, mt); rec != nil {
		return rec.version
	}
	return 0
}

// Acknowledge records a client ack. Stale and duplicate acks are
// idempotent no-ops; an ack beyond the room's current version is
// ignored and logged, a client cannot fast-forward the bookkeeping.
func (e *Engine) Acknowledge(roomCode, connID string, ack Ack) error {
	if !ack.MessageType.Valid() {
		return fmt.Errorf("unknown message type %q", ack.MessageType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.record(roomCode, connID, ack.MessageType)
	if rec == nil {
		// Unknown connection, e.g. an ack raced its own disconnect.
		return nil
	}
	current := e.currentVersion(roomCode, ack.MessageType)
	if ack.Version > current {
		log.Warn().
			Str("room", roomCode).
			Str("conn", connID).
			Str("type", string(ack.MessageType)).
			Uint64("acked", ack.Version).
			Uint64("current", current).
			Msg("ack ahead of current version, ignoring")
		return nil
	}
	if ack.Version > rec.version {
		rec.version = ack.Version
	}
	rec.lastAck = e.clock.Now()
	return nil
}

// EmitEvent sends a fire-and-forget notification to every connection in
// views' key set. No version, no cache, no ack bookkeeping.
func (e *Engine) EmitEvent(roomCode string, connIDs []string, kind EventKind, data any) {
	payload, err := json.Marshal(Event{Event: kind, Data: data, SentAt: e.clock.Now()})
	if err != nil {
		log.Error().Err(err).Str("event", string(kind)).Msg("marshal event")
		return
	}
	for _, connID := range connIDs {
		e.sender.Send(roomCode, connID, payload)
	}
}

// EmitEventTo sends a fire-and-forget notification to one connection.
func (e *Engine) EmitEventTo(roomCode, connID string, kind EventKind, data any) {
	e.EmitEvent(roomCode, []string{connID}, kind, data)
}

// scanForGaps forces a resync for every client whose acked version has
// trailed the room's current version beyond the tolerance window.
func (e *Engine) scanForGaps() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	for roomCode, conns := range e.acks {
		for connID, rows := range conns {
			for mt, rec := range rows {
				current := e.currentVersion(roomCode, mt)
				if rec.version >= current {
					continue
				}
				emitted := e.lastEmit[roomCode][mt]
				behindSince := rec.lastAck
				if emitted.After(behindSince) {
					behindSince = emitted
				}
				if now.Sub(behindSince) < e.config.GapTolerance {
					continue
				}
				if now.Sub(rec.lastResync) < e.config.ResyncBackoff {
					continue
				}
				payload := e.cache[roomCode][connID][mt]
				if payload == nil {
					continue
				}
				log.Warn().
					Str("room", roomCode).
					Str("conn", connID).
					Str("type", string(mt)).
					Uint64("acked", rec.version).
					Uint64("current", current).
					Msg("version gap detected, forcing resync")
				rec.lastResync = now
				e.sender.Send(roomCode, connID, payload)
			}
		}
	}
}

// bumpVersion increments and returns the counter. Caller holds e.mu.
func (e *Engine) bumpVersion(roomCode string, mt MessageType) uint64 {
	if e.versions[roomCode] == nil {
		e.versions[roomCode] = make(map[MessageType]uint64)
	}
	e.versions[roomCode][mt]++
	return e.versions[roomCode][mt]
}

func (e *Engine) currentVersion(roomCode string, mt MessageType) uint64 {
	return e.versions[roomCode][mt]
}

func (e *Engine) record(roomCode, connID string, mt MessageType) *ackRecord {
	conns, ok := e.acks[roomCode]
	if !ok {
		return nil
	}
	rows, ok := conns[connID]
	if !ok {
		return nil
	}
	return rows[mt]
}

// emit marshals, wraps, caches and sends one envelope. Caller holds
// e.mu.
func (e *Engine) emit(roomCode, connID string, mt MessageType, version uint64, view any) {
	data, err := json.Marshal(view)
	if err != nil {
		log.Error().Err(err).Str("room", roomCode).Str("type", string(mt)).Msg("marshal state view")
		return
	}

	env := Envelope{Type: mt, Version: version, SentAt: e.clock.Now()}
	if e.config.CompressThreshold > 0 && len(data) > e.config.CompressThreshold {
		compressed, cerr := compress(data)
		if cerr != nil {
			log.Error().Err(cerr).Str("room", roomCode).Msg("compress state payload")
			env.Data = data
		} else {
			encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(compressed))
			env.Encoding = "zstd"
			env.Data = encoded
		}
	} else {
		env.Data = data
	}

	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("room", roomCode).Str("type", string(mt)).Msg("marshal envelope")
		return
	}

	if e.cache[roomCode] == nil {
		e.cache[roomCode] = make(map[string]map[MessageType][]byte)
	}
	if e.cache[roomCode][connID] == nil {
		e.cache[roomCode][connID] = make(map[MessageType][]byte)
	}
	e.cache[roomCode][connID][mt] = payload
	if e.lastEmit[roomCode] == nil {
		e.lastEmit[roomCode] = make(map[MessageType]time.Time)
	}
	e.lastEmit[roomCode][mt] = e.clock.Now()

	e.sender.Send(roomCode, connID, payload)
}

// compress applies zstd at the fastest level; state payloads are bursty
// JSON and compress well.
func compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	w, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}
