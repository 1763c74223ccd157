package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audioloop/livescribe/internal/config"
	"github.com/audioloop/livescribe/internal/storage/sqlite"
	"github.com/audioloop/livescribe/internal/transcription"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

const defaultSegmentLimit = 100

// Handler serves the HTTP API
type Handler struct {
	manager        *transcription.Manager
	segmentStorage *sqlite.SegmentStorage
	wsServer       *websocket.Server
	config         *config.Config
	logger         *logger.Logger
}

// NewHandler creates a new API handler. segmentStorage may be nil when
// persistence is disabled.
func NewHandler(
	manager *transcription.Manager,
	segmentStorage *sqlite.SegmentStorage,
	wsServer *websocket.Server,
	cfg *config.Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		manager:        manager,
		segmentStorage: segmentStorage,
		wsServer:       wsServer,
		config:         cfg,
		logger:         log.Named("api-handler"),
	}
}

// sessionView is the API representation of a live session
type sessionView struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Watermark float64 `json:"watermark_seconds"`
}

// CreateSession starts a new transcription session
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.manager.StartSession(r.Context())
	if err != nil {
		h.logger.Error("Failed to start session", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ListSessions returns all live sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids := h.manager.Sessions()
	views := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		controller, err := h.manager.Get(id)
		if err != nil {
			continue
		}
		views = append(views, sessionView{
			ID:        controller.ID(),
			State:     controller.State().String(),
			Watermark: controller.Watermark(),
		})
	}

	h.respondJSON(w, http.StatusOK, views)
}

// GetSession returns one session's state
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	h.respondJSON(w, http.StatusOK, sessionView{
		ID:        controller.ID(),
		State:     controller.State().String(),
		Watermark: controller.Watermark(),
	})
}

// StopSession ends a session
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.StopSession(id); err != nil {
		if errors.Is(err, transcription.ErrSessionNotFound) {
			h.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("Failed to stop session", logger.String("session_id", id), logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"id": id, "state": "stopped"})
}

// GetSessionTelemetry returns the performance counters for a session
func (h *Handler) GetSessionTelemetry(w http.ResponseWriter, r *http.Request) {
	controller, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	h.respondJSON(w, http.StatusOK, controller.Telemetry())
}

// GetRecentSegments returns the most recently confirmed segments
func (h *Handler) GetRecentSegments(w http.ResponseWriter, r *http.Request) {
	if h.segmentStorage == nil {
		h.respondError(w, http.StatusNotFound, "segment storage is disabled")
		return
	}

	records, err := h.segmentStorage.GetRecentSegments(h.queryLimit(r))
	if err != nil {
		h.logger.Error("Failed to query recent segments", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to query segments")
		return
	}

	h.respondJSON(w, http.StatusOK, records)
}

// GetSegmentsBySession returns a session's confirmed segments in order
func (h *Handler) GetSegmentsBySession(w http.ResponseWriter, r *http.Request) {
	if h.segmentStorage == nil {
		h.respondError(w, http.StatusNotFound, "segment storage is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	records, err := h.segmentStorage.GetSegmentsBySession(id, h.queryLimit(r))
	if err != nil {
		h.logger.Error("Failed to query segments",
			logger.String("session_id", id),
			logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to query segments")
		return
	}

	h.respondJSON(w, http.StatusOK, records)
}

// GetSegmentsByTimeRange returns segments confirmed in a wall-clock window
func (h *Handler) GetSegmentsByTimeRange(w http.ResponseWriter, r *http.Request) {
	if h.segmentStorage == nil {
		h.respondError(w, http.StatusNotFound, "segment storage is disabled")
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid start time, expected RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid end time, expected RFC3339")
		return
	}

	records, err := h.segmentStorage.GetSegmentsByTimeRange(start, end)
	if err != nil {
		h.logger.Error("Failed to query segments by time range", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to query segments")
		return
	}

	h.respondJSON(w, http.StatusOK, records)
}

// HandleWebSocket upgrades the connection for live segment events
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// GetHealth reports server liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"sessions":   len(h.manager.Sessions()),
		"ws_clients": h.wsServer.ClientCount(),
	})
}

// GetConfig returns the active configuration with secrets removed
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	sanitized := *h.config
	sanitized.PostProcessing.OpenAIAPIKey = ""
	h.respondJSON(w, http.StatusOK, sanitized)
}

// lookupSession resolves the {id} URL parameter to a live controller
func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request) (*transcription.Controller, bool) {
	id := chi.URLParam(r, "id")
	controller, err := h.manager.Get(id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return controller, true
}

// queryLimit parses the optional limit query parameter
func (h *Handler) queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return defaultSegmentLimit
}

// respondJSON writes a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

// respondError writes a JSON error response
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
