// Package api exposes the HTTP surface: session lifecycle, segment
// history queries, live WebSocket events, and health.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/audioloop/livescribe/internal/config"
	"github.com/audioloop/livescribe/internal/storage/sqlite"
	"github.com/audioloop/livescribe/internal/transcription"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	manager *transcription.Manager,
	segmentStorage *sqlite.SegmentStorage,
	wsServer *websocket.Server,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	return &Router{
		handler:    NewHandler(manager, segmentStorage, wsServer, cfg, log),
		middleware: NewMiddleware(log),
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		// Session lifecycle
		router.Post("/sessions", r.handler.CreateSession)
		router.Get("/sessions", r.handler.ListSessions)
		router.Get("/sessions/{id}", r.handler.GetSession)
		router.Delete("/sessions/{id}", r.handler.StopSession)
		router.Get("/sessions/{id}/telemetry", r.handler.GetSessionTelemetry)

		// Segment history
		router.Get("/segments", r.handler.GetRecentSegments)
		router.Get("/segments/session/{id}", r.handler.GetSegmentsBySession)
		router.Get("/segments/time-range", r.handler.GetSegmentsByTimeRange)

		// Live events
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Configuration
		router.Get("/config", r.handler.GetConfig)
	})

	return router
}
