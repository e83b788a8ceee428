// feedtap connects to the risk feed and streams dispatched messages to
// the console. Usage: go run ./cmd/feedtap --config configs/collector.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sentra-labs/riskfeed/internal/config"
	"github.com/sentra-labs/riskfeed/internal/feed"
	"github.com/sentra-labs/riskfeed/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/collector.example.yaml", "path to config file")
	channels := flag.String("channels", "", "comma-separated channel override")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	subscribed := cfg.Feed.Channels
	if *channels != "" {
		subscribed = strings.Split(*channels, ",")
	}
	if len(subscribed) == 0 {
		logger.Error("no channels configured; set feed.channels or pass --channels")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgr := feed.NewManager(feed.Config{
		Endpoint:             cfg.Backend.WSEndpoint(),
		APIKey:               cfg.Backend.APIKey,
		Channels:             subscribed,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
		MaxReconnectAttempts: *cfg.Feed.MaxReconnectAttempts,
		PingTimeout:          cfg.Feed.PingTimeout,
		WriteTimeout:         cfg.Feed.WriteTimeout,
		BufferSize:           cfg.Feed.BufferSize,
	}, feed.Handlers{
		OnAlert:  func(a model.Alert) { printAlert(a, *verbose) },
		OnUpdate: func(e feed.Envelope) { printUpdate(e, *verbose) },
	}, logger)

	logger.Info("connecting",
		"endpoint", cfg.Backend.WSEndpoint(),
		"channels", subscribed,
	)
	if err := mgr.Connect(ctx); err != nil {
		logger.Warn("connect failed, manager will retry", "error", err)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := mgr.Status()
				stats := mgr.Stats()
				logger.Info("stats",
					"connected", status.Connected,
					"reconnect_attempts", status.ReconnectAttempts,
					"messages_seen", stats.MessagesSeen,
					"alerts", stats.AlertsSent,
					"updates", stats.UpdatesSent,
					"parse_errors", stats.ParseErrors,
					"unknown_types", stats.UnknownTypes,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Disconnect()

	logger.Info("shutdown complete")
}

func printAlert(a model.Alert, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(a, "", "  ")
		fmt.Printf("[ALERT] %s\n", data)
		return
	}
	fmt.Printf("[ALERT] id=%s type=%s severity=%s title=%q\n",
		a.ID, a.Type, a.Severity, a.Title)
}

func printUpdate(e feed.Envelope, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(e, "", "  ")
		fmt.Printf("[UPDATE] %s\n", data)
		return
	}
	fmt.Printf("[UPDATE] type=%s ts=%s bytes=%d\n",
		e.Type, e.Timestamp, len(e.Data))
}
