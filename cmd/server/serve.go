package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ashureev/qa-demo/internal/answer"
	"github.com/ashureev/qa-demo/internal/api"
	"github.com/ashureev/qa-demo/internal/config"
	"github.com/ashureev/qa-demo/internal/identity"
	"github.com/ashureev/qa-demo/internal/live"
	"github.com/ashureev/qa-demo/internal/llm"
	"github.com/ashureev/qa-demo/internal/middleware"
	"github.com/ashureev/qa-demo/internal/session"
	"github.com/ashureev/qa-demo/internal/store"
	"github.com/ashureev/qa-demo/web"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model", cfg.ModelName,
		"mock", cfg.IsMock())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	gen, err := llm.NewGenerator(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}

	var (
		answerMetrics  *answer.Metrics
		sessionMetrics *session.Metrics
	)
	if cfg.MetricsEnabled {
		answerMetrics = answer.DefaultMetrics()
		sessionMetrics = session.MustNewMetrics(prometheus.DefaultRegisterer)
	}

	// Each session gets its own answer cache.
	hub := live.NewHub()
	sessions := session.NewManager(
		func(key session.Key) session.Answerer {
			return answer.NewService(gen,
				answer.NewCache(cfg.Cache.TTL, cfg.Cache.MaxEntries, nil),
				answer.WithMetrics(answerMetrics),
				answer.WithLogger(slog.Default().With("user_id", key.UserID, "session_id", key.SessionID)),
			)
		},
		session.WithChangeListener(hub.Publish),
		session.WithKeepAlive(hub.Connected),
		session.WithManagerMetrics(sessionMetrics),
	)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions, cfg)
	qaHandler := api.NewQAHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := live.NewHandler(hub, sessions, websocketOrigins(cfg))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		qaHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/history", wsHandler.ServeHTTP)

		// Serve embedded frontend (SPA catch-all).
		r.Handle("/*", web.SPAHandler())
	})

	// No WriteTimeout: answers can take up to the upstream timeout and
	// history sockets stay open.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	session.StartSweeper(ctx, sessions, repo, cfg.SessionIdleTTL, cfg.SweepInterval)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal.
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

// websocketOrigins allows the configured frontend host to open history sockets.
// Same-origin requests are always accepted.
func websocketOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return nil
	}
	u, err := url.Parse(cfg.FrontendURL)
	if err != nil || u.Host == "" {
		slog.Warn("Ignoring unparsable FRONTEND_URL for websocket origins", "frontend_url", cfg.FrontendURL)
		return nil
	}
	return []string{u.Host}
}
