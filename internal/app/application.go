package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"coedit/internal/api"
	"coedit/internal/bridge"
	"coedit/internal/config"
	"coedit/internal/room"
	"coedit/internal/storage"
	"coedit/internal/websocket"
	"coedit/pkg/interfaces"
)

// Application coordinates all system components. Initialization order:
// Storage → Bridge → Registry → WebSocket → API → HTTP.
type Application struct {
	config     *config.Config
	store      *storage.Store
	bridge     interfaces.Bridge
	registry   *room.Registry
	apiServer  *api.Server
	httpServer *http.Server
	reaperStop context.CancelFunc
}

// NewApplication wires every component from the validated config. When
// Redis is unreachable the bridge degrades to the noop implementation
// and the server runs in single-instance mode.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open room store: %w", err)
	}

	var relay interfaces.Bridge
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	redisBridge, err := bridge.NewRedis(connectCtx, cfg.Redis.Addr, cfg.Redis.DB)
	cancel()
	if err != nil {
		log.Printf("Redis unavailable at %s, running in single-instance mode: %v", cfg.Redis.Addr, err)
		relay = bridge.NewNoop()
	} else {
		relay = redisBridge
	}

	registry := room.NewRegistry(store, relay, cfg.Room.MaxHistory, cfg.Room.IdleGrace)
	if err := registry.LoadPersisted(context.Background()); err != nil {
		log.Printf("restoring persisted rooms failed: %v", err)
	}

	wsHandler := websocket.NewHandler(registry, cfg.WebSocket)
	apiServer := api.NewServer(registry, store, relay, cfg.Room.DefaultLanguage, wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		bridge:     relay,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the idle-room reaper and the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting coedit server on %s", app.httpServer.Addr)

	reaperCtx, stop := context.WithCancel(ctx)
	app.reaperStop = stop
	app.registry.StartReaper(reaperCtx, app.config.Room.ReapInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("coedit server started")
		return nil
	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP → Reaper → Registry → Bridge → Storage.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down coedit server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if app.reaperStop != nil {
		app.reaperStop()
	}

	app.registry.Shutdown()

	if err := app.bridge.Close(); err != nil {
		log.Printf("bridge shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("room store shutdown error: %v", err)
	}

	log.Printf("coedit server shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
