// Package api exposes the room's request/response surface over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatroom/internal/room"
	"chatroom/pkg/types"
)

// Room is the part of the coordinator reachable over HTTP.
type Room interface {
	History(ctx context.Context, after int64) ([]types.Message, error)
	Thread(ctx context.Context, messageID string) ([]types.Message, error)
	Announce(ctx context.Context, text string) (int, error)
	Warn(ctx context.Context, identity, text string) (int, error)
	PropagateDisplayName(ctx context.Context, identity, displayName string) (int, error)
	PropagateDeletion(ctx context.Context, id, parentID string) error
	AdminAudit(ctx context.Context) ([]types.ThreadView, error)
	AdminDeleteMessage(ctx context.Context, id, actor string) (*types.ThreadView, error)
	AdminDeleteReply(ctx context.Context, id, actor string) (*types.Message, error)
	AdminEdit(ctx context.Context, id, content string) (*types.Message, error)
	Stats() room.Stats
}

// Pinger reports per-tier storage health.
type Pinger interface {
	Ping(ctx context.Context) map[string]error
}

// Config controls the HTTP surface.
type Config struct {
	InternalSecret string
	RateLimit      float64 // requests per second per client IP on /api
	RateBurst      int
	CORSOrigins    []string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and the room
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	room    Room
	storage Pinger
	ws      http.Handler
	cfg     Config
	limiter *limiterPool
	logger  zerolog.Logger
	router  chi.Router
}

// NewServer wires the router. ws is mounted at /ws and may be nil.
func NewServer(rm Room, storage Pinger, ws http.Handler, cfg Config, logger zerolog.Logger) *Server {
	s := &Server{
		room:    rm,
		storage: storage,
		ws:      ws,
		cfg:     cfg,
		limiter: newLimiterPool(cfg.RateLimit, cfg.RateBurst),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// The websocket route sits outside the throttled /api group so long-lived
// connections never consume request tokens
func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Metrics middleware first to capture all requests
	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", internalSecretHeader, "X-Admin-Identity"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/history", s.history)
		r.Get("/thread/{id}", s.thread)

		r.Group(func(r chi.Router) {
			r.Use(s.requireInternal)

			r.Post("/announce", s.announce)
			r.Post("/warn", s.warn)
			r.Post("/displayname", s.displayName)
			r.Post("/deletion", s.deletion)

			r.Get("/admin/messages", s.audit)
			r.Delete("/admin/messages/{id}", s.adminDeleteMessage)
			r.Put("/admin/messages/{id}", s.adminEdit)
			r.Delete("/admin/replies/{id}", s.adminDeleteReply)
		})
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
