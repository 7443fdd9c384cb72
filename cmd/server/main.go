// SpeakLink - accessible video call signaling relay
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/speaklink/internal/api"
	"github.com/ashureev/speaklink/internal/config"
	"github.com/ashureev/speaklink/internal/identity"
	"github.com/ashureev/speaklink/internal/inference"
	"github.com/ashureev/speaklink/internal/logging"
	"github.com/ashureev/speaklink/internal/metrics"
	"github.com/ashureev/speaklink/internal/middleware"
	"github.com/ashureev/speaklink/internal/signaling"
	"github.com/ashureev/speaklink/internal/store"
	"github.com/ashureev/speaklink/internal/transport"
	"github.com/ashureev/speaklink/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := logging.Setup("info", nil)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logging.Setup(cfg.LogLevel, nil)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "log_level", cfg.LogLevel)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New()
	callLog := store.NewCallLogWriter(repo, cfg.CallLogQueueSize, m)

	opts := signaling.Options{
		CallLogger:              callLog,
		Metrics:                 m,
		CooldownWindow:          cfg.SignCooldown,
		RingTimeout:             cfg.RingTimeout,
		InferenceTimeout:        cfg.Inference.Timeout,
		MaxInFlight:             int64(cfg.Inference.Concurrency),
		RequireVerifiedIdentity: cfg.RequireVerifiedIdentity,
	}

	// Inference sidecar (optional).
	accessibility := false
	var sidecar api.HealthChecker
	if cfg.Inference.Enabled() {
		slog.Info("Connecting to inference service", "address", cfg.Inference.Addr)
		client, err := inference.NewClient(inference.DefaultConfig(cfg.Inference.Addr), logger)
		if err != nil {
			slog.Warn("Failed to connect to inference service, accessibility features will be disabled", "error", err)
		} else {
			defer client.Close()
			opts.Classifier = client
			opts.Synthesizer = client
			sidecar = client
			accessibility = true
		}
	}
	if !accessibility {
		slog.Info("Accessibility features disabled (INFERENCE_ADDR not set or connection failed)")
	}

	// Initialize services.
	sm := transport.NewSessionManager(cfg.SessionQueueSize, m)
	relay := signaling.NewRelay(sm, opts)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, relay.Presence(), sm, sidecar, api.ClientConfig{
		AccessibilityEnabled: accessibility,
		SignCooldownSeconds:  cfg.SignCooldown.Seconds(),
		RequireVerified:      cfg.RequireVerifiedIdentity,
	})
	wsHandler := transport.NewWebSocketHandler(sm, relay, cfg.FrontendURL, cfg.IsDevelopment())

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket sessions are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	sm.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	relay.Close()
	callLog.Close()

	slog.Info("Server stopped successfully")
}
