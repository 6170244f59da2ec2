package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/rs/cors"

	"pairchat/internal/api"
	"pairchat/internal/auth"
	"pairchat/internal/blocking"
	"pairchat/internal/config"
	"pairchat/internal/contacts"
	"pairchat/internal/conversation"
	"pairchat/internal/database"
	"pairchat/internal/hub"
	"pairchat/internal/router"
	"pairchat/internal/websocket"
)

// Application owns every component of the service.
// Initialization order: store, auth, domain components, registry, router,
// hub, HTTP.
type Application struct {
	config     *config.Config
	store      *database.Manager
	registry   *websocket.Registry
	hub        *hub.Hub
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
	stopOnce   sync.Once
	logger     *slog.Logger
}

func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := database.NewManager(ctx, cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	authority, err := auth.NewAuthority(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize token authority: %w", err)
	}

	directory := conversation.NewDirectory(store, logger)
	blocks := blocking.NewMachine(store, logger)
	aggregator := contacts.NewAggregator(store, store)

	registry := websocket.NewRegistry()
	limiter := router.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)
	messageRouter := router.NewRouter(registry, store, limiter, logger)

	messageHub := hub.NewHub(hub.Deps{
		Registry:  registry,
		Router:    messageRouter,
		Rooms:     store,
		Blocks:    blocks,
		Authority: authority,
	}, hub.Options{
		SweepInterval: cfg.RateLimit.Window,
		LimiterIdle:   5 * cfg.RateLimit.Window,
	}, logger)

	wsHandler := websocket.NewHandler(registry, authority, messageHub, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, logger)

	apiServer := api.NewServer(api.Deps{
		Store:     store,
		Authority: authority,
		Directory: directory,
		Blocks:    blocks,
		Contacts:  aggregator,
		Registry:  registry,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
	}, logger)

	handler := api.RequestLogger(logger)(cors.New(cfg.CORSOptions()).Handler(apiServer))

	return &Application{
		config:   cfg,
		store:    store,
		registry: registry,
		hub:      messageHub,
		handler:  handler,
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
		serveErr: make(chan error, 1),
		logger:   logger.With("component", "app"),
	}, nil
}

// Handler returns the full HTTP handler chain.
func (app *Application) Handler() http.Handler {
	return app.handler
}

// Start runs the hub and begins serving HTTP. A bind failure is returned
// directly; later serve errors are reported by Err.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info("pairchat started", "addr", ln.Addr().String())
	return nil
}

// Err reports a fatal serve error.
func (app *Application) Err() <-chan error {
	return app.serveErr
}

// Addr returns the bound address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Stop shuts down HTTP, then the hub, then the store. It is idempotent.
func (app *Application) Stop(ctx context.Context) error {
	var errs []error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down")

		if app.listener != nil {
			if err := app.httpServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store shutdown: %w", err))
		}

		app.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
