package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/archive"
	"chatrelay/internal/config"
	"chatrelay/internal/forward"
	"chatrelay/internal/hub"
	"chatrelay/internal/media"
	"chatrelay/internal/router"
	"chatrelay/internal/session"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/interfaces"
)

// rateLimitCleanupInterval is how often idle rate limiter entries are dropped
const rateLimitCleanupInterval = 5 * time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	store      *session.Manager
	registry   *websocket.Registry
	forwarder  interfaces.Forwarder
	archive    *archive.Archive
	messageHub *hub.Hub
	ingester   *media.Ingester
	router     *router.Router
	apiServer  *api.Server
	wsHandler  *websocket.Handler
	httpServer *http.Server

	cancelBackground context.CancelFunc
	backgroundDone   chan struct{}
	stopOnce         sync.Once
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Archive → Forwarder → Store → Registry → Hub → Ingester → Router → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the transcript archive when enabled
	var transcriptArchive interfaces.TranscriptArchive
	var sqliteArchive *archive.Archive
	if cfg.Archive.Enabled {
		archiveConfig := archive.DefaultConfig()
		archiveConfig.Path = cfg.Archive.Path
		archiveConfig.WriteTimeout = cfg.Archive.Timeout

		a, err := archive.Open(archiveConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript archive: %w", err)
		}
		sqliteArchive = a
		transcriptArchive = a
		log.Printf("Transcript archive enabled at %s", cfg.Archive.Path)
	}

	// STEP 2: Select the forwarding sink
	forwarder, err := newForwarder(cfg.Forward)
	if err != nil {
		if sqliteArchive != nil {
			sqliteArchive.Close()
		}
		return nil, err
	}

	// STEP 3: In-memory session store and connection registry
	store := session.NewManager()
	registry := websocket.NewRegistry()

	// STEP 4: Broadcast engine with the forwarding queue
	messageHub := hub.NewHub(store, registry, forwarder, hub.Options{
		ForwardQueueSize: cfg.Forward.QueueSize,
		ForwardTimeout:   cfg.Forward.Timeout,
	})

	// STEP 5: Rich media ingestion and its collaborators
	ingester := media.NewIngester(store, messageHub, transcriptArchive, cfg.Media.Timeout)
	if cfg.Media.ProcessorURL != "" {
		processor := media.NewHTTPProcessor(cfg.Media.ProcessorURL, cfg.Media.Timeout)
		for _, kind := range media.ProcessedKinds {
			ingester.RegisterProcessor(kind, processor)
		}
		log.Printf("Media processor registered at %s for %v", cfg.Media.ProcessorURL, media.ProcessedKinds)
	}

	// STEP 6: Inbound dispatch
	messageRouter := router.NewRouter(store, registry, messageHub, ingester, transcriptArchive, router.Options{
		HistoryLimit:       cfg.Session.HistoryLimit,
		RateLimitPerMinute: cfg.Session.RateLimitPerMinute,
	})

	// STEP 7: HTTP API and websocket gateway
	apiServer := api.NewServer(messageRouter, store, registry, transcriptArchive, cfg.HTTP.PublicURL)
	wsHandler := websocket.NewHandler(registry, messageRouter, websocket.Options{
		ReadLimit:     cfg.WebSocket.ReadLimit,
		SendQueueSize: cfg.WebSocket.BufferSize,
		WriteTimeout:  cfg.WebSocket.WriteTimeout,
		PongTimeout:   cfg.WebSocket.PongTimeout,
		PingInterval:  cfg.WebSocket.PingInterval,
	})

	application := &Application{
		config:     cfg,
		store:      store,
		registry:   registry,
		forwarder:  forwarder,
		archive:    sqliteArchive,
		messageHub: messageHub,
		ingester:   ingester,
		router:     messageRouter,
		apiServer:  apiServer,
		wsHandler:  wsHandler,
	}

	// STEP 8: Setup HTTP server with both API and WebSocket endpoints
	application.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      application.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return application, nil
}

func newForwarder(cfg *config.ForwardConfig) (interfaces.Forwarder, error) {
	if cfg.RedisURL == "" {
		log.Printf("Forwarding intents to the log sink")
		return forward.NewLogForwarder(), nil
	}

	redisForwarder, err := forward.NewRedisForwarder(cfg.RedisURL, cfg.Stream, cfg.MaxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis forwarder: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisForwarder.Ping(ctx); err != nil {
		redisForwarder.Close()
		return nil, fmt.Errorf("failed to reach redis for forwarding: %w", err)
	}
	log.Printf("Forwarding intents to redis stream %s", cfg.Stream)
	return redisForwarder, nil
}

// Handler returns the combined API and websocket routes
func (app *Application) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", app.apiServer)
	mux.Handle("/health", app.apiServer)
	mux.HandleFunc("/ws", app.wsHandler.HandleWebSocket)
	return mux
}

// startBackground starts the hub and housekeeping loops without serving HTTP
func (app *Application) startBackground(ctx context.Context) error {
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	bgCtx, cancel := context.WithCancel(ctx)
	app.cancelBackground = cancel
	app.backgroundDone = make(chan struct{})

	go func() {
		defer close(app.backgroundDone)
		ticker := time.NewTicker(rateLimitCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.router.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Start begins application execution
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting chatrelay on %s", app.httpServer.Addr)

	if err := app.startBackground(ctx); err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.stopBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("chatrelay started successfully")
		return nil
	case <-ctx.Done():
		app.stopBackground()
		return ctx.Err()
	}
}

func (app *Application) stopBackground() {
	if app.cancelBackground != nil {
		app.cancelBackground()
		<-app.backgroundDone
	}
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Message hub shutdown error: %v", err)
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Connections → Media → Hub → Sinks
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		log.Printf("Shutting down chatrelay")

		// STEP 1: Stop accepting new connections
		if err := app.httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		// STEP 2: Hijacked websocket connections are not covered by Shutdown
		app.registry.CloseAll()

		// STEP 3: Let in-flight media publish before the hub stops
		app.ingester.Close()

		// STEP 4: Drain the forwarding queue
		app.stopBackground()

		// STEP 5: Close sinks
		if err := app.forwarder.Close(); err != nil {
			log.Printf("Forwarder shutdown error: %v", err)
		}
		if app.archive != nil {
			if err := app.archive.Close(); err != nil {
				log.Printf("Archive shutdown error: %v", err)
			}
		}

		log.Printf("chatrelay shutdown complete")
	})
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
