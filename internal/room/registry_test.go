package room

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/models"
)

// recordingObserver counts callbacks; safe for the registry's
// under-lock invocation pattern.
type recordingObserver struct {
	mu        sync.Mutex
	roster    int
	settings  int
	destroyed []string
	reasons   []string
}

func (o *recordingObserver) OnRosterChanged(r *Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.roster++
}

func (o *recordingObserver) OnSettingsChanged(r *Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings++
}

func (o *recordingObserver) OnRoomDestroyed(code string, connIDs []string, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed = append(o.destroyed, code)
	o.reasons = append(o.reasons, reason)
}

func (o *recordingObserver) destroyedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.destroyed)
}

func newTestRegistry() (*Registry, *recordingObserver, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	obs := &recordingObserver{}
	reg := NewRegistry(DefaultConfig(), clock, obs)
	return reg, obs, clock
}

func TestCreateRoomIssuesCodeAndHostToken(t *testing.T) {
	reg, _, _ := newTestRegistry()

	r, err := reg.CreateRoom("host-conn", models.HostRoleControl, models.DefaultRoomSettings())
	require.NoError(t, err)
	assert.Len(t, r.Code, 4)
	assert.NotEmpty(t, r.Host.Identity)
	assert.Equal(t, "host-conn", r.Host.ControlConnID)
	assert.Empty(t, r.Host.DisplayConnID)
	assert.Equal(t, models.PlayerStatusConnected, r.Host.Status)

	got, err := reg.Get(r.Code)
	require.NoError(t, err)
	assert.Same(t, r, got)
}

func TestGetNormalizesCode(t *testing.T) {
	reg, _, _ := newTestRegistry()
	r, err := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())
	require.NoError(t, err)

	got, err := reg.Get("  " + r.Code + " ")
	require.NoError(t, err)
	assert.Same(t, r, got)

	_, err = reg.Get("NOPE")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomValidation(t *testing.T) {
	reg, obs, _ := newTestRegistry()
	settings := models.DefaultRoomSettings()
	settings.MaxPlayers = 2
	r, err := reg.CreateRoom("h", models.HostRoleControl, settings)
	require.NoError(t, err)

	_, p1, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, p1.Identity)
	assert.Equal(t, 1, obs.roster)

	_, _, err = reg.JoinRoom(r.Code, "c2", JoinRequest{Name: "  alice "})
	assert.ErrorIs(t, err, ErrNameTaken, "names are unique case-insensitively")

	_, _, err = reg.JoinRoom(r.Code, "c2", JoinRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidName, "blank names are invalid, not collisions")

	_, _, err = reg.JoinRoom(r.Code, "c2", JoinRequest{Name: "Bob"})
	require.NoError(t, err)

	_, _, err = reg.JoinRoom(r.Code, "c3", JoinRequest{Name: "Carol"})
	assert.ErrorIs(t, err, ErrRoomFull)

	_, _, err = reg.JoinRoom("XXXX", "c4", JoinRequest{Name: "Dave"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRemovePlayerReturnsRecord(t *testing.T) {
	reg, obs, _ := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())
	_, p, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)

	removed, err := reg.RemovePlayer(r.Code, p.Identity, "kicked")
	require.NoError(t, err)
	assert.Equal(t, "c1", removed.ConnID)
	assert.Equal(t, 2, obs.roster)

	_, err = reg.RemovePlayer(r.Code, p.Identity, "kicked")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestDisconnectedPlayerRemovedAfterGrace(t *testing.T) {
	reg, _, clock := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())
	_, p, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)

	reg.MarkPlayerDisconnected(r.Code, p.Identity)

	r.Mu.Lock()
	got, ok := r.Player(p.Identity)
	require.True(t, ok, "record survives the disconnect")
	assert.Equal(t, models.PlayerStatusDisconnected, got.Status)
	assert.Empty(t, got.ConnID)
	r.Mu.Unlock()

	clock.Advance(DefaultConfig().PlayerGrace + time.Second)
	require.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		_, ok := r.Player(p.Identity)
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "grace expiry removes the player")
}

func TestReconnectBeforeGraceKeepsPlayer(t *testing.T) {
	reg, _, clock := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())
	_, p, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)

	reg.MarkPlayerDisconnected(r.Code, p.Identity)

	// Reconnect inside the window: status flips back, so the grace
	// callback must re-validate and no-op.
	r.Mu.Lock()
	p.Status = models.PlayerStatusConnected
	p.ConnID = "c2"
	r.Mu.Unlock()

	clock.Advance(DefaultConfig().PlayerGrace + time.Second)
	time.Sleep(20 * time.Millisecond)

	r.Mu.Lock()
	_, ok := r.Player(p.Identity)
	r.Mu.Unlock()
	assert.True(t, ok, "reconnected player survives the stale grace timer")
}

func TestHostGraceDestroysRoom(t *testing.T) {
	reg, obs, clock := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())
	_, _, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)

	reg.MarkHostDisconnected(r.Code, "h")

	// Room survives the host drop until the grace window closes.
	_, err = reg.Get(r.Code)
	require.NoError(t, err)

	clock.Advance(DefaultConfig().HostGrace + time.Second)
	require.Eventually(t, func() bool {
		_, err := reg.Get(r.Code)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, obs.destroyedCount())
}

func TestHostGraceNotArmedWhileOtherRoleConnected(t *testing.T) {
	reg, _, clock := newTestRegistry()
	r, _ := reg.CreateRoom("ctrl", models.HostRoleControl, models.DefaultRoomSettings())

	r.Mu.Lock()
	r.Host.DisplayConnID = "disp"
	r.Mu.Unlock()

	// Only the control connection drops; the display keeps the room.
	reg.MarkHostDisconnected(r.Code, "ctrl")
	clock.Advance(DefaultConfig().HostGrace + time.Minute)
	time.Sleep(20 * time.Millisecond)

	_, err := reg.Get(r.Code)
	assert.NoError(t, err)
	r.Mu.Lock()
	assert.Equal(t, models.PlayerStatusConnected, r.Host.Status)
	r.Mu.Unlock()
}

func TestHostReconnectBeforeGraceKeepsRoom(t *testing.T) {
	reg, _, clock := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())

	reg.MarkHostDisconnected(r.Code, "h")

	r.Mu.Lock()
	r.Host.ControlConnID = "h2"
	r.Host.Status = models.PlayerStatusConnected
	r.Mu.Unlock()

	clock.Advance(DefaultConfig().HostGrace + time.Second)
	time.Sleep(20 * time.Millisecond)

	_, err := reg.Get(r.Code)
	assert.NoError(t, err, "room survives when the host returned in time")
}

func TestUpdateSettingsNotifiesObserver(t *testing.T) {
	reg, obs, _ := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())

	settings := models.DefaultRoomSettings()
	settings.MaxRounds = 5
	require.NoError(t, reg.UpdateSettings(r.Code, settings))

	r.Mu.Lock()
	assert.Equal(t, 5, r.Settings.MaxRounds)
	r.Mu.Unlock()
	assert.Equal(t, 1, obs.settings)
}

func TestDestroyRoomReportsConnections(t *testing.T) {
	reg, obs, _ := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())
	_, _, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)

	reg.DestroyRoom(r.Code, "closed by host")

	require.Equal(t, 1, obs.destroyedCount())
	assert.Equal(t, "closed by host", obs.reasons[0])
	_, err = reg.Get(r.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// Repeat destroys are no-ops.
	reg.DestroyRoom(r.Code, "again")
	assert.Equal(t, 1, obs.destroyedCount())
}

func TestIdleSweepDestroysExpiredRooms(t *testing.T) {
	reg, obs, clock := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())

	clock.Advance(DefaultConfig().RoomTTL + time.Minute)
	reg.sweepExpired()

	require.Equal(t, 1, obs.destroyedCount())
	assert.Equal(t, r.Code, obs.destroyed[0])
	assert.Equal(t, 0, reg.RoomCount())
}

func TestMutationRenewsIdleExpiry(t *testing.T) {
	reg, obs, clock := newTestRegistry()
	r, _ := reg.CreateRoom("h", models.HostRoleControl, models.DefaultRoomSettings())

	clock.Advance(DefaultConfig().RoomTTL - time.Minute)
	_, _, err := reg.JoinRoom(r.Code, "c1", JoinRequest{Name: "Alice"})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	reg.sweepExpired()
	assert.Equal(t, 0, obs.destroyedCount(), "join renewed the TTL")
}

func TestGeneratedCodesAvoidAmbiguousCharacters(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, codeLength)
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/join?room=ABCD", JoinURL("http://localhost:8080", "ABCD"))
}
