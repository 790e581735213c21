package statesync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSender records every frame per connection.
type captureSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newCaptureSender() *captureSender {
	return &captureSender{frames: make(map[string][][]byte)}
}

func (s *captureSender) Send(roomCode, connID string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[connID] = append(s.frames[connID], payload)
	return true
}

func (s *captureSender) count(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames[connID])
}

func (s *captureSender) last(t *testing.T, connID string) Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.frames[connID]
	require.NotEmpty(t, frames, "no frames for %s", connID)
	var env Envelope
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &env))
	return env
}

func newTestEngine() (*Engine, *captureSender, *clockwork.FakeClock) {
	sender := newCaptureSender()
	clock := clockwork.NewFakeClock()
	engine := NewEngine(DefaultConfig(), sender, clock)
	return engine, sender, clock
}

func TestBroadcastSharesOneVersionAcrossClients(t *testing.T) {
	engine, sender, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")
	engine.RegisterClient("ROOM", "c2")

	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{
		"c1": map[string]any{"secret": "mine"},
		"c2": map[string]any{"secret": "yours"},
	})

	env1 := sender.last(t, "c1")
	env2 := sender.last(t, "c2")
	assert.Equal(t, uint64(1), env1.Version)
	assert.Equal(t, env1.Version, env2.Version, "one mutation, one version for everyone")
	assert.NotEqual(t, string(env1.Data), string(env2.Data), "payloads stay personalized")

	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{"c1": "x", "c2": "y"})
	assert.Equal(t, uint64(2), sender.last(t, "c1").Version)
}

func TestVersionCountersPerTypeAndRoom(t *testing.T) {
	engine, _, _ := newTestEngine()

	engine.Broadcast("A", MessageTypeRoster, map[string]any{"c1": "x"})
	engine.Broadcast("A", MessageTypeRoster, map[string]any{"c1": "x"})
	engine.Broadcast("A", MessageTypeSettings, map[string]any{"c1": "x"})
	engine.Broadcast("B", MessageTypeRoster, map[string]any{"c2": "x"})

	assert.Equal(t, uint64(2), engine.Version("A", MessageTypeRoster))
	assert.Equal(t, uint64(1), engine.Version("A", MessageTypeSettings))
	assert.Equal(t, uint64(0), engine.Version("A", MessageTypeGameState))
	assert.Equal(t, uint64(1), engine.Version("B", MessageTypeRoster))
}

func TestSendCurrentDoesNotIncrement(t *testing.T) {
	engine, sender, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	engine.Broadcast("ROOM", MessageTypeRoster, map[string]any{"c1": "a"})
	engine.SendCurrent("ROOM", "c2", MessageTypeRoster, "late-join-view")

	assert.Equal(t, uint64(1), engine.Version("ROOM", MessageTypeRoster))
	assert.Equal(t, uint64(1), sender.last(t, "c2").Version)
}

func TestAcknowledgeIsIdempotentAndMonotonic(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	engine.Broadcast("ROOM", MessageTypeRoster, map[string]any{"c1": "a"})
	engine.Broadcast("ROOM", MessageTypeRoster, map[string]any{"c1": "b"})

	require.NoError(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 2, MessageType: MessageTypeRoster}))
	assert.Equal(t, uint64(2), engine.AckedVersion("ROOM", "c1", MessageTypeRoster))

	// Duplicate and stale acks change nothing.
	require.NoError(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 2, MessageType: MessageTypeRoster}))
	require.NoError(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 1, MessageType: MessageTypeRoster}))
	assert.Equal(t, uint64(2), engine.AckedVersion("ROOM", "c1", MessageTypeRoster))
}

func TestAcknowledgeAheadOfCurrentIgnored(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")
	engine.Broadcast("ROOM", MessageTypeRoster, map[string]any{"c1": "a"})

	require.NoError(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 99, MessageType: MessageTypeRoster}))
	assert.Equal(t, uint64(0), engine.AckedVersion("ROOM", "c1", MessageTypeRoster))
}

func TestAcknowledgeRejectsUnknownType(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")
	assert.Error(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 1, MessageType: "player_acted"}))
}

func TestAcknowledgeForUnknownConnIsNoOp(t *testing.T) {
	engine, _, _ := newTestEngine()
	assert.NoError(t, engine.Acknowledge("ROOM", "ghost", Ack{Version: 1, MessageType: MessageTypeRoster}))
}

func TestGapMonitorForcesResync(t *testing.T) {
	engine, sender, clock := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)
	clock.BlockUntil(1)

	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{"c1": "state"})
	sent := sender.count("c1")

	// Within tolerance: no resync yet.
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	assert.Equal(t, sent, sender.count("c1"))

	// Past tolerance: the cached envelope is re-pushed verbatim.
	clock.Advance(4 * time.Second)
	require.Eventually(t, func() bool {
		return sender.count("c1") > sent
	}, 2*time.Second, 5*time.Millisecond)

	env := sender.last(t, "c1")
	assert.Equal(t, MessageTypeGameState, env.Type)
	assert.Equal(t, uint64(1), env.Version, "resync re-sends the current version, no increment")
}

func TestGapMonitorBacksOffBetweenResyncs(t *testing.T) {
	engine, sender, clock := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)
	clock.BlockUntil(1)

	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{"c1": "state"})

	clock.Advance(6 * time.Second)
	require.Eventually(t, func() bool {
		return sender.count("c1") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	afterFirst := sender.count("c1")

	// The next monitor tick lands inside the resync backoff.
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	assert.Equal(t, afterFirst, sender.count("c1"))
}

func TestAckedClientNeverResynced(t *testing.T) {
	engine, sender, clock := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)
	clock.BlockUntil(1)

	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{"c1": "state"})
	require.NoError(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 1, MessageType: MessageTypeGameState}))
	sent := sender.count("c1")

	clock.Advance(time.Minute)
	clock.BlockUntil(1)
	assert.Equal(t, sent, sender.count("c1"))
}

func TestEventsBypassVersioning(t *testing.T) {
	engine, sender, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	engine.EmitEvent("ROOM", []string{"c1"}, EventKindPlayerActed, map[string]any{"identity": "p1"})

	var ev Event
	require.Equal(t, 1, sender.count("c1"))
	sender.mu.Lock()
	require.NoError(t, json.Unmarshal(sender.frames["c1"][0], &ev))
	sender.mu.Unlock()
	assert.Equal(t, EventKindPlayerActed, ev.Event)

	assert.Equal(t, uint64(0), engine.Version("ROOM", MessageTypeGameState), "events never touch version counters")
}

func TestDropClientClearsBookkeeping(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")
	engine.Broadcast("ROOM", MessageTypeRoster, map[string]any{"c1": "a"})
	require.NoError(t, engine.Acknowledge("ROOM", "c1", Ack{Version: 1, MessageType: MessageTypeRoster}))

	engine.DropClient("ROOM", "c1")

	assert.Equal(t, uint64(0), engine.AckedVersion("ROOM", "c1", MessageTypeRoster))
	// The room version survives the client; reconnects continue the
	// sequence instead of restarting it.
	assert.Equal(t, uint64(1), engine.Version("ROOM", MessageTypeRoster))
}

func TestDropRoomClearsEverything(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")
	engine.Broadcast("ROOM", MessageTypeRoster, map[string]any{"c1": "a"})

	engine.DropRoom("ROOM")
	assert.Equal(t, uint64(0), engine.Version("ROOM", MessageTypeRoster))
}

func TestLargePayloadCompressed(t *testing.T) {
	sender := newCaptureSender()
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.CompressThreshold = 64
	engine := NewEngine(cfg, sender, clock)
	engine.RegisterClient("ROOM", "c1")

	big := make([]string, 100)
	for i := range big {
		big[i] = "the same repeated sentence compresses very well"
	}
	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{"c1": big})

	env := sender.last(t, "c1")
	assert.Equal(t, "zstd", env.Encoding)

	var encoded string
	require.NoError(t, json.Unmarshal(env.Data, &encoded))
	assert.NotEmpty(t, encoded)
}

func TestSmallPayloadUncompressed(t *testing.T) {
	engine, sender, _ := newTestEngine()
	engine.RegisterClient("ROOM", "c1")

	engine.Broadcast("ROOM", MessageTypeGameState, map[string]any{"c1": map[string]any{"round": 1}})

	env := sender.last(t, "c1")
	assert.Empty(t, env.Encoding)
}
