package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Manager owns every WebSocket connection. Connections arrive unbound;
// once a create, join or reconnect succeeds they are bound to a room so
// the sync engine can address them by (roomCode, connID).
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	// roomConns groups bound connections per room for teardown.
	roomConns map[string]map[string]*Connection

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// onMessage and onDisconnect are installed by the service before the
	// HTTP listener starts accepting.
	onMessage    func(c *Connection, message []byte)
	onDisconnect func(connID string)
}

// Connection represents one WebSocket client.
type Connection struct {
	ID       string
	RoomCode string // guarded by Manager.mu
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *Manager

	ConnectedAt time.Time
	LastPing    time.Time

	closeOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewManager creates a WebSocket connection manager.
func NewManager(config ConnectionConfig) *Manager {
	return &Manager{
		conns:     make(map[string]*Connection),
		roomConns: make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// SetHandlers installs the inbound message and disconnect callbacks.
func (m *Manager) SetHandlers(onMessage func(c *Connection, message []byte), onDisconnect func(connID string)) {
	m.onMessage = onMessage
	m.onDisconnect = onDisconnect
}

// UpgradeConnection upgrades an HTTP request to a WebSocket and starts
// its pumps.
func (m *Manager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     m,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	m.mu.Lock()
	m.conns[connection.ID] = connection
	m.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.ID).Msg("WebSocket connection established")
	return connection, nil
}

// BindRoom attaches a connection to a room pool.
func (m *Manager) BindRoom(connID, roomCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return
	}
	if c.RoomCode != "" {
		m.unbindLocked(c)
	}
	c.RoomCode = roomCode
	if m.roomConns[roomCode] == nil {
		m.roomConns[roomCode] = make(map[string]*Connection)
	}
	m.roomConns[roomCode][connID] = c
	log.Debug().
		Str("connection_id", connID).
		Str("room", roomCode).
		Int("room_connections", len(m.roomConns[roomCode])).
		Msg("connection bound to room")
}

// Unbind detaches a connection from its room pool without closing it.
func (m *Manager) Unbind(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[connID]; ok {
		m.unbindLocked(c)
	}
}

func (m *Manager) unbindLocked(c *Connection) {
	if c.RoomCode == "" {
		return
	}
	if pool, ok := m.roomConns[c.RoomCode]; ok {
		delete(pool, c.ID)
		if len(pool) == 0 {
			delete(m.roomConns, c.RoomCode)
		}
	}
	c.RoomCode = ""
}

// Send delivers a marshaled frame to one connection. It never blocks: a
// full send buffer means the client is too slow to keep up, and the
// connection is closed so the reconnect path can take over.
func (m *Manager) Send(roomCode, connID string, payload []byte) bool {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case c.Send <- payload:
		return true
	default:
		log.Warn().
			Str("connection_id", connID).
			Str("room", roomCode).
			Msg("connection send buffer full, closing connection")
		m.Evict(connID)
		return false
	}
}

// Evict tears down a connection that can no longer keep up and reports
// it through the disconnect callback, exactly as if the socket had
// dropped. The callback runs on its own goroutine: sends happen under
// the room lock and the disconnect path needs to take it again.
func (m *Manager) Evict(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		m.unbindLocked(c)
		delete(m.conns, connID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	if m.onDisconnect != nil {
		go m.onDisconnect(connID)
	}
}

// SendDirect delivers a frame to a connection that may not be bound to
// any room yet, e.g. command replies during create or join.
func (m *Manager) SendDirect(connID string, payload []byte) bool {
	return m.Send("", connID, payload)
}

// CloseConn tears down a single connection.
func (m *Manager) CloseConn(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		m.unbindLocked(c)
		delete(m.conns, connID)
	}
	m.mu.Unlock()
	if ok {
		c.close()
	}
}

// CloseRoom tears down every connection bound to a room.
func (m *Manager) CloseRoom(roomCode string) {
	m.mu.Lock()
	pool := m.roomConns[roomCode]
	victims := make([]*Connection, 0, len(pool))
	for _, c := range pool {
		c.RoomCode = ""
		delete(m.conns, c.ID)
		victims = append(victims, c)
	}
	delete(m.roomConns, roomCode)
	m.mu.Unlock()

	for _, c := range victims {
		c.close()
	}
}

// Stats returns connection counts for the health endpoint.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roomCounts := make(map[string]int)
	for code, pool := range m.roomConns {
		roomCounts[code] = len(pool)
	}
	return map[string]interface{}{
		"total_connections": len(m.conns),
		"active_rooms":      len(m.roomConns),
		"room_connections":  roomCounts,
	}
}

// remove drops the connection from the maps after a pump exits.
func (m *Manager) remove(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[c.ID]; !ok {
		return false
	}
	m.unbindLocked(c)
	delete(m.conns, c.ID)
	return true
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
		c.Conn.Close()
	})
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		removed := c.Manager.remove(c)
		c.close()
		if removed && c.Manager.onDisconnect != nil {
			c.Manager.onDisconnect(c.ID)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.onMessage != nil {
			c.Manager.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
