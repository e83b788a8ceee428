package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/sentra-labs/riskfeed/internal/api"
	"github.com/sentra-labs/riskfeed/internal/config"
	"github.com/sentra-labs/riskfeed/internal/feed"
	"github.com/sentra-labs/riskfeed/internal/pipeline"
	"github.com/sentra-labs/riskfeed/internal/poller"
	"github.com/sentra-labs/riskfeed/internal/store"
	"github.com/sentra-labs/riskfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/collector.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting collector",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"backend_url", cfg.Backend.BaseURL,
		"channels", cfg.Feed.Channels,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create API client
	apiClient := api.NewClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Backend.Timeout),
		api.WithRetries(cfg.Backend.MaxRetries, time.Second),
	)

	// Check the configured channels against the backend catalog. A missing
	// catalog is not fatal: the feed still subscribes to what is configured.
	checkChannels(ctx, apiClient, cfg.Feed.Channels, logger)

	// Pipeline between the feed and the writers
	pipe := pipeline.New(pipeline.Config{
		AlertBufferSize:  cfg.Writers.BufferSize,
		UpdateBufferSize: cfg.Writers.BufferSize,
	}, logger)

	// Batch writers
	writerCfg := store.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}
	alertWriter := store.NewAlertWriter(writerCfg, pipe.Alerts(), pool, logger)
	updateWriter := store.NewUpdateWriter(writerCfg, pipe.Updates(), pool, logger)

	if err := alertWriter.Start(ctx); err != nil {
		logger.Error("failed to start alert writer", "error", err)
		os.Exit(1)
	}
	if err := updateWriter.Start(ctx); err != nil {
		logger.Error("failed to start update writer", "error", err)
		os.Exit(1)
	}

	// Feed manager
	feedMgr := feed.NewManager(feed.Config{
		Endpoint:             cfg.Backend.WSEndpoint(),
		APIKey:               cfg.Backend.APIKey,
		Channels:             cfg.Feed.Channels,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
		MaxReconnectAttempts: *cfg.Feed.MaxReconnectAttempts,
		PingTimeout:          cfg.Feed.PingTimeout,
		WriteTimeout:         cfg.Feed.WriteTimeout,
		BufferSize:           cfg.Feed.BufferSize,
	}, feed.Handlers{
		OnAlert:  pipe.HandleAlert,
		OnUpdate: pipe.HandleUpdate,
	}, logger)

	// A failed first dial is not fatal; the manager retries on its own.
	if err := feedMgr.Connect(ctx); err != nil {
		logger.Warn("initial feed connect failed, retrying in background", "error", err)
	}

	// REST health poller (backup signal for the live feed)
	var healthPoller *poller.Poller
	if !cfg.Poller.Disabled {
		healthPoller = poller.New(poller.Config{
			Interval: cfg.Poller.Interval,
			Timeout:  cfg.Poller.Timeout,
		}, apiClient, poller.UpdateHandlerFunc(pipe.Offer), logger)

		if err := healthPoller.Start(ctx); err != nil {
			logger.Error("failed to start health poller", "error", err)
			os.Exit(1)
		}
	}

	// Collector's own health endpoint
	healthServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, pool, feedMgr, pipe,
			alertWriter, updateWriter),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("collector running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	// Stop intake first, then drain the pipeline through the writers.
	feedMgr.Disconnect()
	if healthPoller != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		healthPoller.Stop(stopCtx)
		stopCancel()
	}
	pipe.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	alertWriter.Stop(stopCtx)
	updateWriter.Stop(stopCtx)

	if err := g.Wait(); err != nil {
		logger.Error("health server error", "error", err)
	}

	logger.Info("collector stopped")
}

// checkChannels warns about configured channels the backend does not
// advertise. Catalog failures are logged and ignored.
func checkChannels(ctx context.Context, client *api.Client, configured []string, logger *slog.Logger) {
	catalogCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	catalog, err := client.GetChannels(catalogCtx)
	if err != nil {
		logger.Warn("channel catalog unavailable", "error", err)
		return
	}

	known := make(map[string]bool, len(catalog))
	for _, ch := range catalog {
		known[ch.Name] = ch.Active
	}

	for _, name := range configured {
		active, ok := known[name]
		switch {
		case !ok:
			logger.Warn("configured channel not in backend catalog", "channel", name)
		case !active:
			logger.Warn("configured channel is inactive", "channel", name)
		}
	}

	logger.Info("channel catalog checked",
		"configured", len(configured),
		"advertised", len(catalog),
	)
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	path string,
	pool *pgxpool.Pool,
	feedMgr feed.Manager,
	pipe *pipeline.Pipeline,
	alertWriter *store.AlertWriter,
	updateWriter *store.UpdateWriter,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}

		// Check feed
		status := feedMgr.Status()
		stats := feedMgr.Stats()
		health.Components["feed"] = map[string]any{
			"connected":          status.Connected,
			"reconnect_attempts": status.ReconnectAttempts,
			"last_error":         status.Err,
			"connects":           stats.Connects,
			"reconnects":         stats.Reconnects,
			"messages_seen":      stats.MessagesSeen,
			"alerts_sent":        stats.AlertsSent,
			"updates_sent":       stats.UpdatesSent,
			"parse_errors":       stats.ParseErrors,
			"unknown_types":      stats.UnknownTypes,
		}
		if !status.Connected {
			health.Status = "degraded"
		}

		health.Components["pipeline"] = pipe.Stats()
		health.Components["writers"] = map[string]any{
			"alerts":  alertWriter.Stats(),
			"updates": updateWriter.Stats(),
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"feed":     feedMgr.Stats(),
			"pipeline": pipe.Stats(),
			"alerts":   alertWriter.Stats(),
			"updates":  updateWriter.Stats(),
		})
	})

	return mux
}
