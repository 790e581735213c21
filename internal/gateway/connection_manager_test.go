package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// dialManager serves a manager over httptest and dials it, returning the
// client socket plus the server-side connection.
func dialManager(t *testing.T, m *Manager) (*websocket.Conn, *Connection) {
	t.Helper()
	accepted := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := m.UpgradeConnection(w, r)
		if err != nil {
			return
		}
		accepted <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-accepted:
		return client, c
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func TestSlowClientEvictionReportsDisconnect(t *testing.T) {
	m := NewManager(DefaultConnectionConfig())
	var disconnects atomic.Int32
	m.SetHandlers(func(*Connection, []byte) {}, func(string) { disconnects.Add(1) })

	_, c := dialManager(t, m)
	m.BindRoom(c.ID, "ROOM")

	// The client never reads, so the send buffer behind the blocked
	// write pump fills and the connection is evicted.
	payload := []byte(strings.Repeat("x", 4096))
	evicted := false
	for i := 0; i < 10000; i++ {
		if !m.Send("ROOM", c.ID, payload) {
			evicted = true
			break
		}
	}
	require.True(t, evicted, "send kept succeeding against a client that never reads")

	require.Eventually(t, func() bool {
		return disconnects.Load() == 1
	}, 2*time.Second, 5*time.Millisecond, "eviction must surface as a disconnect")

	stats := m.Stats()
	require.Equal(t, 0, stats["total_connections"])
	require.Equal(t, 0, stats["active_rooms"])
}

func TestCloseConnStaysSilent(t *testing.T) {
	m := NewManager(DefaultConnectionConfig())
	var disconnects atomic.Int32
	m.SetHandlers(func(*Connection, []byte) {}, func(string) { disconnects.Add(1) })

	_, c := dialManager(t, m)
	m.BindRoom(c.ID, "ROOM")

	// Leave and kick clean their own bindings before closing, so the
	// explicit close path must not double-report.
	m.CloseConn(c.ID)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), disconnects.Load())
	require.Equal(t, 0, m.Stats()["total_connections"])
}
