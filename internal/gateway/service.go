package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/admission"
	"github.com/partydeck/partydeck/internal/content"
	"github.com/partydeck/partydeck/internal/games/base"
	"github.com/partydeck/partydeck/internal/leaderboard"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/reconnect"
	"github.com/partydeck/partydeck/internal/room"
	"github.com/partydeck/partydeck/internal/session"
	"github.com/partydeck/partydeck/internal/statesync"
)

// binding ties a live connection to the identity it authenticated as.
type binding struct {
	roomCode string
	identity string
	host     bool
	role     models.HostRole
}

// Service routes inbound client frames to the registry, sessions, sync
// engine and reconnection coordinator, and projects their changes back
// out as versioned broadcasts. It implements room.Observer and
// session.Listener.
type Service struct {
	manager     *Manager
	registry    *room.Registry
	engine      *statesync.Engine
	coordinator *reconnect.Coordinator
	guard       *admission.Guard
	library     *content.Library
	recorder    leaderboard.Recorder
	clock       clockwork.Clock
	baseURL     string

	mu       sync.Mutex
	bindings map[string]binding
}

// NewService wires the gateway service. Call Attach before serving.
func NewService(
	manager *Manager,
	registry *room.Registry,
	engine *statesync.Engine,
	coordinator *reconnect.Coordinator,
	guard *admission.Guard,
	library *content.Library,
	recorder leaderboard.Recorder,
	clock clockwork.Clock,
	baseURL string,
) *Service {
	return &Service{
		manager:     manager,
		registry:    registry,
		engine:      engine,
		coordinator: coordinator,
		guard:       guard,
		library:     library,
		recorder:    recorder,
		clock:       clock,
		baseURL:     baseURL,
		bindings:    make(map[string]binding),
	}
}

// Attach installs the service as the manager's message handler.
func (s *Service) Attach() {
	s.manager.SetHandlers(s.HandleMessage, s.HandleDisconnect)
}

// HandleMessage routes one inbound frame.
func (s *Service) HandleMessage(c *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.replyErr(c.ID, "", errors.New("malformed message"))
		return
	}

	// Acks are exempt from admission: throttling them would manufacture
	// the very gaps the sync engine exists to heal.
	if msg.Action != ActionAck {
		if err := s.guard.Allow(c.ID); err != nil {
			s.replyErr(c.ID, msg.Action, err)
			return
		}
	}

	switch msg.Action {
	case ActionCreateRoom:
		s.handleCreateRoom(c, msg.Data)
	case ActionJoinRoom:
		s.handleJoinRoom(c, msg.Data)
	case ActionReconnect:
		s.handleReconnect(c, msg.Data)
	case ActionHostReconnect:
		s.handleHostReconnect(c, msg.Data)
	case ActionStartGame:
		s.handleStartGame(c, msg.Data)
	case ActionPauseGame:
		s.handleSessionControl(c, msg.Action, func(sess *session.Session) error { return sess.Pause() })
	case ActionResumeGame:
		s.handleSessionControl(c, msg.Action, func(sess *session.Session) error { return sess.Resume() })
	case ActionEndGame:
		s.handleSessionControl(c, msg.Action, func(sess *session.Session) error { sess.End(); return nil })
	case ActionCloseRoom:
		s.handleCloseRoom(c)
	case ActionPlayerAction:
		s.handlePlayerAction(c, msg.Data)
	case ActionAck:
		s.handleAck(c, msg.Data)
	case ActionLeaveRoom:
		s.handleLeaveRoom(c)
	case ActionKickPlayer:
		s.handleKickPlayer(c, msg.Data)
	case ActionUpdateSettings:
		s.handleUpdateSettings(c, msg.Data)
	default:
		s.replyErr(c.ID, msg.Action, errors.New("unknown action"))
	}
}

// HandleDisconnect reacts to a transport drop. The identity stays on
// the roster; grace timers decide its fate.
func (s *Service) HandleDisconnect(connID string) {
	s.guard.Forget(connID)

	b, ok := s.takeBinding(connID)
	if !ok {
		return
	}
	s.engine.DropClient(b.roomCode, connID)
	if b.host {
		s.registry.MarkHostDisconnected(b.roomCode, connID)
	} else {
		s.registry.MarkPlayerDisconnected(b.roomCode, b.identity)
	}
}

func (s *Service) handleCreateRoom(c *Connection, data json.RawMessage) {
	var p createRoomPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			s.replyErr(c.ID, ActionCreateRoom, errors.New("malformed payload"))
			return
		}
	}
	role := p.Role
	if role != models.HostRoleDisplay {
		role = models.HostRoleControl
	}
	settings := models.DefaultRoomSettings()
	if p.Settings != nil {
		settings = normalizeSettings(*p.Settings)
	}

	r, err := s.registry.CreateRoom(c.ID, role, settings)
	if err != nil {
		s.replyErr(c.ID, ActionCreateRoom, err)
		return
	}

	s.engine.RegisterClient(r.Code, c.ID)
	s.manager.BindRoom(c.ID, r.Code)
	s.setBinding(c.ID, binding{roomCode: r.Code, identity: r.Host.Identity, host: true, role: role})

	s.reply(c.ID, replyRoomCreated, roomCreatedReply{
		RoomCode:  r.Code,
		HostToken: r.Host.Identity,
		JoinURL:   room.JoinURL(s.baseURL, r.Code),
		Settings:  settings,
	})

	r.Mu.Lock()
	s.sendFullStateLocked(r, c.ID, "", true)
	r.Mu.Unlock()
}

func (s *Service) handleJoinRoom(c *Connection, data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.replyErr(c.ID, ActionJoinRoom, errors.New("malformed payload"))
		return
	}

	r, player, err := s.registry.JoinRoom(p.RoomCode, c.ID, p.JoinRequest)
	if err != nil {
		s.replyErr(c.ID, ActionJoinRoom, err)
		return
	}

	s.engine.RegisterClient(r.Code, c.ID)
	s.manager.BindRoom(c.ID, r.Code)
	s.setBinding(c.ID, binding{roomCode: r.Code, identity: player.Identity})

	r.Mu.Lock()
	snap := r.Snapshot()
	r.Mu.Unlock()
	s.reply(c.ID, replyJoined, joinedReply{Identity: player.Identity, Snapshot: snap})

	r.Mu.Lock()
	s.sendFullStateLocked(r, c.ID, player.Identity, false)
	r.Mu.Unlock()
}

func (s *Service) handleReconnect(c *Connection, data json.RawMessage) {
	var req reconnect.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyErr(c.ID, ActionReconnect, errors.New("malformed payload"))
		return
	}

	res, err := s.coordinator.ReconnectPlayer(req, c.ID)
	if err != nil {
		s.replyErr(c.ID, ActionReconnect, err)
		return
	}

	s.manager.BindRoom(c.ID, res.Room.Code)
	s.setBinding(c.ID, binding{roomCode: res.Room.Code, identity: res.Player.Identity})

	s.reply(c.ID, replyReconnected, reconnectedReply{
		Identity:      res.Player.Identity,
		RestoredScore: res.RestoredScore,
		Snapshot:      res.Snapshot,
	})

	// Full resync: the new connection starts at version 0 and is brought
	// current with complete state, never incremental updates.
	res.Room.Mu.Lock()
	s.broadcastRosterLocked(res.Room)
	s.sendFullStateLocked(res.Room, c.ID, res.Player.Identity, false)
	res.Room.Mu.Unlock()
}

func (s *Service) handleHostReconnect(c *Connection, data json.RawMessage) {
	var req reconnect.HostRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.replyErr(c.ID, ActionHostReconnect, errors.New("malformed payload"))
		return
	}

	r, err := s.coordinator.ReconnectHost(req, c.ID)
	if err != nil {
		s.replyErr(c.ID, ActionHostReconnect, err)
		return
	}

	role := req.Role
	if role != models.HostRoleDisplay {
		role = models.HostRoleControl
	}
	s.manager.BindRoom(c.ID, r.Code)
	s.setBinding(c.ID, binding{roomCode: r.Code, identity: r.Host.Identity, host: true, role: role})

	r.Mu.Lock()
	snap := r.Snapshot()
	s.broadcastRosterLocked(r)
	s.sendFullStateLocked(r, c.ID, "", true)
	r.Mu.Unlock()

	s.reply(c.ID, replyHostReconnected, hostReconnectedReply{Snapshot: snap})
}

func (s *Service) handleStartGame(c *Connection, data json.RawMessage) {
	b, ok := s.hostBinding(c.ID, ActionStartGame)
	if !ok {
		return
	}
	var p startGamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.replyErr(c.ID, ActionStartGame, errors.New("malformed payload"))
		return
	}

	r, err := s.registry.Get(b.roomCode)
	if err != nil {
		s.replyErr(c.ID, ActionStartGame, err)
		return
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	if sess := r.Session(); sess != nil && sess.State() != models.SessionStateGameEnd {
		s.replyErr(c.ID, ActionStartGame, session.ErrSessionActive)
		return
	}
	if len(r.Players()) == 0 {
		s.replyErr(c.ID, ActionStartGame, errors.New("no players in the room"))
		return
	}

	game, err := base.Create(p.GameType, s.library, r.Settings)
	if err != nil {
		s.replyErr(c.ID, ActionStartGame, err)
		return
	}
	sess, err := session.New(session.Config{
		RoomCode: r.Code,
		Game:     game,
		Roster:   r,
		Settings: r.Settings,
		Listener: s,
		Clock:    s.clock,
		Seed:     s.clock.Now().UnixNano(),
		Mu:       &r.Mu,
	})
	if err != nil {
		s.replyErr(c.ID, ActionStartGame, err)
		return
	}
	r.SetSession(sess)
	s.registry.Touch(r)
	if err := sess.Start(); err != nil {
		s.replyErr(c.ID, ActionStartGame, err)
		return
	}
	s.broadcastGameStateLocked(r)
}

// handleSessionControl runs a host lifecycle command against the active
// session.
func (s *Service) handleSessionControl(c *Connection, action string, fn func(*session.Session) error) {
	b, ok := s.hostBinding(c.ID, action)
	if !ok {
		return
	}
	r, err := s.registry.Get(b.roomCode)
	if err != nil {
		s.replyErr(c.ID, action, err)
		return
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	sess := r.Session()
	if sess == nil {
		s.replyErr(c.ID, action, errors.New("no game running"))
		return
	}
	s.registry.Touch(r)
	if err := fn(sess); err != nil {
		s.replyErr(c.ID, action, err)
	}
}

func (s *Service) handleCloseRoom(c *Connection) {
	b, ok := s.hostBinding(c.ID, ActionCloseRoom)
	if !ok {
		return
	}
	s.registry.DestroyRoom(b.roomCode, "closed by host")
}

func (s *Service) handlePlayerAction(c *Connection, data json.RawMessage) {
	b, ok := s.getBinding(c.ID)
	if !ok || b.host {
		s.replyErr(c.ID, ActionPlayerAction, errors.New("not in a room as a player"))
		return
	}
	var p playerActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.replyErr(c.ID, ActionPlayerAction, errors.New("malformed payload"))
		return
	}

	r, err := s.registry.Get(b.roomCode)
	if err != nil {
		s.replyErr(c.ID, ActionPlayerAction, err)
		return
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	sess := r.Session()
	if sess == nil {
		s.engine.EmitEventTo(r.Code, c.ID, statesync.EventKindActionError, errorReply{
			Action:  p.Action,
			Message: "no game running",
		})
		return
	}
	s.registry.Touch(r)
	if err := sess.HandleAction(b.identity, p.Action, p.Data); err != nil {
		// Rejections are explicit, never silent: the sender learns why.
		s.engine.EmitEventTo(r.Code, c.ID, statesync.EventKindActionError, errorReply{
			Action:  p.Action,
			Message: userMessage(err),
		})
		return
	}
	s.engine.EmitEvent(r.Code, s.hostConnIDsLocked(r), statesync.EventKindPlayerActed, map[string]any{
		"identity": b.identity,
		"round":    sess.Round(),
	})
}

func (s *Service) handleAck(c *Connection, data json.RawMessage) {
	b, ok := s.getBinding(c.ID)
	if !ok {
		return
	}
	var ack statesync.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return
	}
	if err := s.engine.Acknowledge(b.roomCode, c.ID, ack); err != nil {
		log.Debug().Err(err).Str("conn", c.ID).Msg("rejected ack")
	}
}

func (s *Service) handleLeaveRoom(c *Connection) {
	b, ok := s.getBinding(c.ID)
	if !ok || b.host {
		s.replyErr(c.ID, ActionLeaveRoom, errors.New("not in a room as a player"))
		return
	}
	s.removeBinding(c.ID)
	s.engine.DropClient(b.roomCode, c.ID)
	if _, err := s.registry.RemovePlayer(b.roomCode, b.identity, "left"); err != nil {
		log.Debug().Err(err).Str("room", b.roomCode).Msg("leave for unknown player")
	}
	s.manager.CloseConn(c.ID)
}

func (s *Service) handleKickPlayer(c *Connection, data json.RawMessage) {
	b, ok := s.hostBinding(c.ID, ActionKickPlayer)
	if !ok {
		return
	}
	var p kickPlayerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.replyErr(c.ID, ActionKickPlayer, errors.New("malformed payload"))
		return
	}

	kicked, err := s.registry.RemovePlayer(b.roomCode, p.Identity, "kicked")
	if err != nil {
		s.replyErr(c.ID, ActionKickPlayer, err)
		return
	}
	if kicked.ConnID != "" {
		s.engine.EmitEventTo(b.roomCode, kicked.ConnID, statesync.EventKindPlayerLeft, map[string]any{
			"reason": "kicked",
		})
		s.engine.DropClient(b.roomCode, kicked.ConnID)
		s.removeBinding(kicked.ConnID)
		s.manager.CloseConn(kicked.ConnID)
	}
}

func (s *Service) handleUpdateSettings(c *Connection, data json.RawMessage) {
	b, ok := s.hostBinding(c.ID, ActionUpdateSettings)
	if !ok {
		return
	}
	var p updateSettingsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.replyErr(c.ID, ActionUpdateSettings, errors.New("malformed payload"))
		return
	}
	if err := s.registry.UpdateSettings(b.roomCode, normalizeSettings(p.Settings)); err != nil {
		s.replyErr(c.ID, ActionUpdateSettings, err)
	}
}

// OnRosterChanged implements room.Observer. Runs with the room lock
// held.
func (s *Service) OnRosterChanged(r *room.Room) {
	s.broadcastRosterLocked(r)
	if sess := r.Session(); sess != nil {
		s.broadcastGameStateLocked(r)
	}
}

// OnSettingsChanged implements room.Observer. Runs with the room lock
// held.
func (s *Service) OnSettingsChanged(r *room.Room) {
	view := settingsView{Settings: r.Settings}
	views := make(map[string]any)
	for _, connID := range r.ConnectedConnIDs() {
		views[connID] = view
	}
	s.engine.Broadcast(r.Code, statesync.MessageTypeSettings, views)
}

// OnRoomDestroyed implements room.Observer. Runs with the room lock
// held; socket teardown is deferred to a goroutine.
func (s *Service) OnRoomDestroyed(code string, connIDs []string, reason string) {
	s.engine.EmitEvent(code, connIDs, statesync.EventKindRoomClosed, map[string]any{"reason": reason})
	s.engine.DropRoom(code)
	for _, connID := range connIDs {
		s.removeBinding(connID)
	}
	go s.manager.CloseRoom(code)
}

// OnStateChanged implements session.Listener. Runs with the room lock
// held by the session.
func (s *Service) OnStateChanged(roomCode string) {
	r, err := s.registry.Get(roomCode)
	if err != nil {
		return
	}
	s.broadcastGameStateLocked(r)
}

// OnSessionEnded implements session.Listener. The result is recorded
// off the hot path; a sink failure never disturbs the room.
func (s *Service) OnSessionEnded(roomCode string, result models.GameResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.recorder.Record(ctx, result); err != nil {
			log.Error().Err(err).Str("room", roomCode).Msg("failed to record game result")
		}
	}()
}

// broadcastRosterLocked emits one versioned roster mutation to every
// connection in the room. Caller holds the room lock.
func (s *Service) broadcastRosterLocked(r *room.Room) {
	view := rosterView{
		Players:     r.Players(),
		PlayerCount: len(r.Players()),
		HostOnline:  r.Host.Status == models.PlayerStatusConnected,
	}
	views := make(map[string]any)
	for _, connID := range r.ConnectedConnIDs() {
		views[connID] = view
	}
	s.engine.Broadcast(r.Code, statesync.MessageTypeRoster, views)
}

// broadcastGameStateLocked emits one versioned game-state mutation:
// players get their personalized projection, host connections get the
// display projection, all under the identical version number. Caller
// holds the room lock.
func (s *Service) broadcastGameStateLocked(r *room.Room) {
	sess := r.Session()
	if sess == nil {
		return
	}
	views := make(map[string]any)
	for _, p := range r.Players() {
		if p.Connected() && p.ConnID != "" {
			views[p.ConnID] = sess.ClientState(p.Identity)
		}
	}
	display := sess.DisplayState()
	for _, connID := range s.hostConnIDsLocked(r) {
		views[connID] = display
	}
	s.engine.Broadcast(r.Code, statesync.MessageTypeGameState, views)
}

// sendFullStateLocked pushes complete current state for every critical
// type to one connection at the room's current versions. Caller holds
// the room lock.
func (s *Service) sendFullStateLocked(r *room.Room, connID, identity string, host bool) {
	s.engine.SendCurrent(r.Code, connID, statesync.MessageTypeRoster, rosterView{
		Players:     r.Players(),
		PlayerCount: len(r.Players()),
		HostOnline:  r.Host.Status == models.PlayerStatusConnected,
	})
	s.engine.SendCurrent(r.Code, connID, statesync.MessageTypeSettings, settingsView{Settings: r.Settings})
	if sess := r.Session(); sess != nil {
		if host {
			s.engine.SendCurrent(r.Code, connID, statesync.MessageTypeGameState, sess.DisplayState())
		} else {
			s.engine.SendCurrent(r.Code, connID, statesync.MessageTypeGameState, sess.ClientState(identity))
		}
	}
}

func (s *Service) hostConnIDsLocked(r *room.Room) []string {
	var ids []string
	if r.Host.ControlConnID != "" {
		ids = append(ids, r.Host.ControlConnID)
	}
	if r.Host.DisplayConnID != "" {
		ids = append(ids, r.Host.DisplayConnID)
	}
	return ids
}

// hostBinding resolves the caller's binding and rejects non-hosts.
func (s *Service) hostBinding(connID, action string) (binding, bool) {
	b, ok := s.getBinding(connID)
	if !ok || !b.host {
		s.replyErr(connID, action, errors.New("only the host can do that"))
		return binding{}, false
	}
	return b, true
}

func (s *Service) setBinding(connID string, b binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[connID] = b
}

func (s *Service) getBinding(connID string) (binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[connID]
	return b, ok
}

func (s *Service) takeBinding(connID string) (binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[connID]
	delete(s.bindings, connID)
	return b, ok
}

func (s *Service) removeBinding(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, connID)
}

// RoomState implements StateProvider for the REST surface.
func (s *Service) RoomState(code string) (*RoomStateResponse, error) {
	r, err := s.registry.Get(code)
	if err != nil {
		return nil, err
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	resp := &RoomStateResponse{
		Code:        r.Code,
		Players:     r.Players(),
		PlayerCount: len(r.Players()),
		Settings:    r.Settings,
		CreatedAt:   r.CreatedAt,
	}
	if sess := r.Session(); sess != nil {
		resp.GameActive = sess.State() != models.SessionStateGameEnd
		resp.GameType = sess.GameType()
		resp.SessionState = sess.State()
		resp.Round = sess.Round()
		resp.Scoreboard = sess.Scoreboard()
		if remaining := int(sess.TimeRemaining().Seconds()); remaining > 0 {
			resp.TimeRemaining = &remaining
		}
	}
	return resp, nil
}

// reply sends a command response frame directly to one connection.
func (s *Service) reply(connID, event string, data any) {
	payload, err := json.Marshal(statesync.Event{
		Event:  statesync.EventKind(event),
		Data:   data,
		SentAt: s.clock.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal reply")
		return
	}
	s.manager.SendDirect(connID, payload)
}

func (s *Service) replyErr(connID, action string, err error) {
	s.reply(connID, replyError, errorReply{Action: action, Message: userMessage(err)})
}

// userMessage maps internal errors to strings safe to show a player.
func userMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, room.ErrRoomFull):
		return "room is full"
	case errors.Is(err, room.ErrNameTaken):
		return "that name is already taken"
	case errors.Is(err, room.ErrInvalidName):
		return "pick a name first"
	case errors.Is(err, room.ErrReconnectNotFound):
		return "nothing to reconnect to"
	case errors.Is(err, room.ErrPlayerNotFound):
		return "player not found"
	case errors.Is(err, session.ErrSessionActive):
		return "a game is already running"
	case errors.Is(err, session.ErrStateConflict):
		return "that is not allowed right now"
	case errors.Is(err, session.ErrValidation):
		return "invalid action"
	case errors.Is(err, admission.ErrRateLimited):
		return "too many actions, slow down"
	default:
		return "something went wrong"
	}
}

// normalizeSettings fills zero fields with defaults and clamps ranges.
func normalizeSettings(in models.RoomSettings) models.RoomSettings {
	def := models.DefaultRoomSettings()
	out := in
	if out.MaxPlayers <= 0 {
		out.MaxPlayers = def.MaxPlayers
	}
	if out.Language == "" {
		out.Language = def.Language
	}
	if out.RoundSeconds <= 0 {
		out.RoundSeconds = def.RoundSeconds
	}
	if out.CountdownSec <= 0 {
		out.CountdownSec = def.CountdownSec
	}
	if out.RevealSeconds <= 0 {
		out.RevealSeconds = def.RevealSeconds
	}
	if out.MaxRounds <= 0 {
		out.MaxRounds = def.MaxRounds
	}
	if out.ScoreMultiplier <= 0 {
		out.ScoreMultiplier = def.ScoreMultiplier
	}
	return out
}
