// feedtap connects to a feed endpoint and prints parsed events to the
// console. It is the smoke-test consumer for the update channel: it registers
// a handle for the requested topics, reports stats, and can churn an extra
// handle to exercise register/deregister against live traffic.
//
// Usage: go run ./cmd/feedtap --config configs/feedtap.example.yaml
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/depotops/feedmux/internal/backoff"
	"github.com/depotops/feedmux/internal/config"
	"github.com/depotops/feedmux/internal/connection"
	"github.com/depotops/feedmux/internal/feed"
	"github.com/depotops/feedmux/internal/telemetry"
	"github.com/depotops/feedmux/internal/version"
	"github.com/depotops/feedmux/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/feedtap.example.yaml", "path to config file")
	topicsFlag := flag.String("topics", "trainsets,fitness,alerts", "comma-separated topics to follow")
	kindsFlag := flag.String("kinds", "trainsetUpdate,fitnessExpiry,alertRaised", "comma-separated event kinds to print")
	verbose := flag.Bool("verbose", false, "pretty-print event payloads")
	churn := flag.Duration("churn", 0, "register/deregister a probe handle at this interval (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = buildLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting feedtap",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Feed.URL,
	)

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

	// Client metrics, served for scraping.
	registry := prometheus.NewRegistry()
	collector := telemetry.NewPrometheusCollector(registry)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsHandler(cfg.Metrics.Path, registry),
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	svc := feed.NewService(managerConfig(cfg.Feed), collector, logger)

	topics := splitList(*topicsFlag)
	kinds := splitList(*kindsFlag)

	printer := eventPrinter(*verbose)
	events := make(map[string]feed.EventFunc, len(kinds))
	for _, kind := range kinds {
		events[kind] = printer
	}

	deregister, err := svc.Register(topics, feed.Callbacks{
		OnConnectionEstablished: func() {
			logger.Info("connection established")
		},
		OnConnectionLost: func(err error) {
			logger.Warn("connection lost", "error", err)
		},
		Events: events,
	})
	if err != nil {
		logger.Error("failed to register handle", "error", err)
		os.Exit(1)
	}

	if *churn > 0 {
		go churnLoop(ctx, svc, topics, *churn, logger)
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
				stats := svc.Stats()
				logger.Info("stats",
					"state", stats.Connection.State,
					"reconnects", stats.Connection.Reconnects,
					"frames_received", stats.Dispatch.FramesReceived,
					"events_dispatched", stats.Dispatch.EventsDispatched,
					"parse_errors", stats.Dispatch.ParseErrors,
					"unrouted", stats.Dispatch.UnroutedFrames,
					"handles", stats.Registry.Handles,
					"active_topics", stats.Registry.ActiveTopics,
					"pending_frames", stats.Connection.PendingFrames,
				)
			}
		}
	}()

	logger.Info("tapping feed - press Ctrl+C to stop", "topics", topics, "kinds", kinds)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	deregister()
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("service close failed", "error", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("feedtap stopped")
}

// churnLoop registers and immediately deregisters a probe handle on every
// tick. The probe shares the tap's topics plus one of its own, so each cycle
// drives both the shared ref-count path and a live subscribe/unsubscribe
// edge on the wire.
func churnLoop(ctx context.Context, svc feed.Service, topics []string, interval time.Duration, logger *slog.Logger) {
	probe := append(append([]string{}, topics...), "churn-probe")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cycles int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deregister, err := svc.Register(probe, feed.Callbacks{})
			if err != nil {
				logger.Warn("churn register failed", "error", err)
				continue
			}
			deregister()
			cycles++
			if cycles%100 == 0 {
				logger.Info("churn progress", "cycles", cycles)
			}
		}
	}
}

func eventPrinter(verbose bool) feed.EventFunc {
	return func(evt wire.Event) {
		ts := "-"
		if !evt.Timestamp.IsZero() {
			ts = evt.Timestamp.Format(time.RFC3339)
		}

		payload := string(evt.Payload)
		if verbose {
			var buf bytes.Buffer
			if err := json.Indent(&buf, evt.Payload, "", "  "); err == nil {
				payload = buf.String()
			}
		}

		fmt.Printf("[%s] topic=%s ts=%s %s\n", evt.Type, evt.Topic, ts, payload)
	}
}

func managerConfig(fc config.FeedConfig) connection.ManagerConfig {
	return connection.ManagerConfig{
		URL: fc.URL,
		Backoff: backoff.Policy{
			Initial:    fc.ReconnectBaseDelay.Duration,
			Max:        fc.ReconnectMaxDelay.Duration,
			Multiplier: fc.ReconnectMultiplier,
			Jitter:     fc.ReconnectJitter,
		},
		StableResetAfter: fc.StableResetAfter.Duration,
		HandshakeTimeout: fc.HandshakeTimeout.Duration,
		PingInterval:     fc.PingInterval.Duration,
		PingTimeout:      fc.PingTimeout.Duration,
		WriteTimeout:     fc.WriteTimeout.Duration,
		FrameBufferSize:  fc.FrameBufferSize,
		PendingCapacity:  fc.PendingCapacity,
	}
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func metricsHandler(path string, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
