package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"livegrade/internal/api"
	"livegrade/internal/auth"
	"livegrade/internal/config"
	"livegrade/internal/database"
	"livegrade/internal/dispatch"
	"livegrade/internal/evaluation"
	"livegrade/internal/hub"
	"livegrade/internal/reconnect"
	"livegrade/internal/registry"
	"livegrade/internal/rooms"
	"livegrade/internal/snapshot"
	"livegrade/internal/websocket"
	pkgdatabase "livegrade/pkg/database"
)

// Application coordinates all system components. Initialization order
// follows the dependency chain:
// Database -> Evaluation -> Registry -> Rooms -> Reconnect -> Dispatch -> Hub -> API -> HTTP
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	registry    *registry.Registry
	rooms       *rooms.Manager
	coordinator *reconnect.Coordinator
	dispatcher  *dispatch.Dispatcher
	hub         *hub.Hub
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication creates an application instance with all components
// initialized and wired.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	evalService := evaluation.NewService(dbManager)
	snapshots := snapshot.NewProvider(evalService, cfg.Snapshot.FetchTimeout)

	reg := registry.NewRegistry()
	roomManager := rooms.NewManager(reg, dbManager)
	coordinator := reconnect.NewCoordinator(cfg.Reconnect.GraceWindow, cfg.Reconnect.BufferCapacity)
	dispatcher := dispatch.NewDispatcher(roomManager, reg, coordinator, dbManager)

	broadcastHub := hub.NewHub(reg, roomManager, coordinator, dispatcher, snapshots)

	apiServer := api.NewServer(broadcastHub, dbManager, map[string]api.Stats{
		"registry":  reg,
		"rooms":     roomManager,
		"reconnect": coordinator,
	})

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	wsHandler := websocket.NewHandler(broadcastHub, verifier, websocket.HandlerConfig{
		AuthTimeout:  cfg.WebSocket.AuthTimeout,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		registry:    reg,
		rooms:       roomManager,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		hub:         broadcastHub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start brings the hub up first so events can flow, then accepts
// connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting livegrade on %s", app.httpServer.Addr)

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("livegrade started")
		return nil
	case <-ctx.Done():
		app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP -> Hub -> Database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down livegrade")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.hub.Stop(); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("livegrade shutdown complete")
	return nil
}
