package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/partydeck/partydeck/internal/models"
)

// Handler exposes the gateway over HTTP: the WebSocket endpoint plus a
// small read-only REST surface for spectators and probes.
type Handler struct {
	manager  *Manager
	service  *Service
	provider StateProvider
}

// StateProvider retrieves read-only room state for the REST surface.
type StateProvider interface {
	RoomState(code string) (*RoomStateResponse, error)
}

// RoomStateResponse is the REST projection of one room.
type RoomStateResponse struct {
	Code          string              `json:"code"`
	Players       []*models.Player    `json:"players"`
	PlayerCount   int                 `json:"player_count"`
	Settings      models.RoomSettings `json:"settings"`
	GameActive    bool                `json:"game_active"`
	GameType      models.GameType     `json:"game_type,omitempty"`
	SessionState  models.SessionState `json:"session_state,omitempty"`
	Round         int                 `json:"round,omitempty"`
	TimeRemaining *int                `json:"time_remaining_sec,omitempty"`
	Scoreboard    []models.ScoreEntry `json:"scoreboard,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// NewHandler creates the HTTP handler.
func NewHandler(manager *Manager, service *Service, provider StateProvider) *Handler {
	return &Handler{manager: manager, service: service, provider: provider}
}

// HandleWebSocket handles GET /ws.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := h.manager.UpgradeConnection(w, r); err != nil {
		http.Error(w, "Failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": h.manager.Stats(),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}

// HandleGetRoomState handles GET /api/rooms/{code}/state.
func (h *Handler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := extractRoomCodeFromPath(r.URL.Path)
	if code == "" {
		http.Error(w, "Room code is required", http.StatusBadRequest)
		return
	}

	state, err := h.provider.RoomState(code)
	if err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// RegisterRoutes registers the gateway's HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/healthz", h.HandleHealth)

	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractRoomCodeFromPath extracts the code from /api/rooms/{code}/state.
func extractRoomCodeFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	return path[len(prefix) : len(path)-len(suffix)]
}
