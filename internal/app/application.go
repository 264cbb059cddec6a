package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"chatroom/internal/api"
	"chatroom/internal/config"
	"chatroom/internal/database"
	"chatroom/internal/room"
	"chatroom/internal/session"
	"chatroom/internal/storage"
	"chatroom/internal/websocket"
	"chatroom/pkg/interfaces"
	pkgdatabase "chatroom/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      zerolog.Logger
	store       *storage.Store
	coordinator *room.Coordinator
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Storage → Sessions → Coordinator → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open both storage tiers (foundation layer)
	primary, err := storage.OpenPebble(cfg.Storage.PrimaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary storage: %w", err)
	}
	secondary, err := openSecondary(cfg.Storage, logger)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("failed to open secondary storage: %w", err)
	}
	store := storage.New(primary, secondary, storage.Options{
		SecondaryTTL: cfg.Storage.SecondaryTTL,
		IndexCap:     cfg.Storage.IndexCap,
		QueueSize:    cfg.Storage.QueueSize,
	}, logger)

	// STEP 2: Session registry and the room actor that owns it
	opts := room.DefaultOptions()
	opts.RateLimit = cfg.Room.RateLimit
	opts.RateWindow = cfg.Room.RateWindow
	opts.Cooldown = cfg.Room.Cooldown
	opts.EditWindow = cfg.Room.EditWindow
	opts.MaxContentLength = cfg.Room.MaxContentLength
	opts.MaxGifLength = cfg.Room.MaxGifLength
	opts.RecentReplies = cfg.Room.RecentReplies
	coordinator := room.New(store, session.NewRegistry(), opts, logger)

	// STEP 3: WebSocket handler feeding the coordinator
	wsHandler := websocket.NewHandler(coordinator, websocket.Config{
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PongWait:       cfg.WebSocket.PongWait,
		PingInterval:   cfg.WebSocket.PingInterval,
		SendBuffer:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger)

	// STEP 4: API server mounts the websocket route beside the REST routes
	apiServer := api.NewServer(coordinator, store, wsHandler, api.Config{
		InternalSecret: cfg.API.InternalSecret,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
		CORSOrigins:    cfg.API.CORSOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{
		config:      cfg,
		logger:      logger.With().Str("component", "app").Logger(),
		store:       store,
		coordinator: coordinator,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// openSecondary builds the configured durable tier.
func openSecondary(cfg config.StorageConfig, logger zerolog.Logger) (interfaces.Tier, error) {
	switch cfg.Secondary {
	case config.SecondaryRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return storage.NewRedisTier(ctx, cfg.RedisURL)
	case config.SecondarySQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.SQLitePath
		return database.NewManager(dbConfig, logger)
	case config.SecondaryMemory:
		return storage.NewMemoryTier("memory"), nil
	default:
		return nil, fmt.Errorf("unknown secondary storage %q", cfg.Secondary)
	}
}

// Start begins application execution
// The room actor starts first so the listener never accepts a connection the
// room cannot serve. ctx bounds the actor's lifetime.
func (app *Application) Start(ctx context.Context) error {
	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start room: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.coordinator.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	app.logger.Info().Str("addr", ln.Addr().String()).
		Str("secondary", app.config.Storage.Secondary).
		Msg("chatroom started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Room → Storage. Queued secondary writes
// are flushed before the tiers close.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")
	var errs []error

	// STEP 1: Stop accepting new requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Stop the room; this closes every websocket connection
	if err := app.coordinator.Stop(); err != nil && !errors.Is(err, room.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("room shutdown: %w", err))
	}

	// STEP 3: Drain the secondary writer and close both tiers
	if err := app.store.Flush(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("secondary flush incomplete")
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}

	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, the configured one before.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
