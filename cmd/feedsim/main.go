// feedsim serves a depot feed endpoint for development and load testing: a
// WebSocket hub speaking the feed wire protocol, fed by a synthetic event
// generator or a Postgres LISTEN/NOTIFY channel.
//
// Usage: go run ./cmd/feedsim --config configs/feedsim.example.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/depotops/feedmux/internal/config"
	"github.com/depotops/feedmux/internal/database"
	"github.com/depotops/feedmux/internal/hub"
	"github.com/depotops/feedmux/internal/source"
	"github.com/depotops/feedmux/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedsim.example.yaml", "path to config file")
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

	logger.Info("starting feedsim",
		"version", version.Version,
		"commit", version.Commit,
		"listen", cfg.Sim.ListenAddr,
		"source", cfg.Sim.Source.Kind,
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

	h := hub.New(hub.DefaultConfig(), logger)

	src, pool, err := buildSource(ctx, cfg.Sim, h, logger)
	if err != nil {
		logger.Error("failed to build event source", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	if err := src.Start(ctx); err != nil {
		logger.Error("failed to start event source", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Sim.Path, h)
	feedServer := &http.Server{
		Addr:    cfg.Sim.ListenAddr,
		Handler: mux,
	}

	registry := prometheus.NewRegistry()
	registerHubMetrics(registry, h)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsHandler(cfg.Metrics.Path, registry),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving feed endpoint", "addr", cfg.Sim.ListenAddr, "path", cfg.Sim.Path)
		if err := feedServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("feed server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	// Teardown runs when the signal handler cancels ctx or either server
	// fails: stop producing, drop clients, then stop the HTTP servers.
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		logger.Info("shutting down...")
		if err := src.Stop(shutdownCtx); err != nil {
			logger.Warn("source stop failed", "error", err)
		}
		if err := h.Close(shutdownCtx); err != nil {
			logger.Warn("hub close failed", "error", err)
		}
		_ = feedServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := h.Stats()
				logger.Info("stats",
					"connections", stats.Connections,
					"events_broadcast", stats.EventsBroadcast,
					"frames_delivered", stats.FramesDelivered,
					"controls_received", stats.ControlsReceived,
					"malformed_frames", stats.MalformedFrames,
					"slow_client_drops", stats.SlowClientDrops,
				)
			}
		}
	}()

	if err := g.Wait(); err != nil {
		logger.Error("feedsim exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("feedsim stopped")
}

// buildSource constructs the configured event source wired to the hub. The
// returned pool is non-nil only for the postgres source; the caller owns it.
func buildSource(ctx context.Context, cfg config.SimConfig, h *hub.Hub, logger *slog.Logger) (source.Source, *pgxpool.Pool, error) {
	handler := source.HandlerFunc(h.Broadcast)

	switch cfg.Source.Kind {
	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		logger.Info("database connected")

		pgCfg := source.DefaultPostgresConfig()
		pgCfg.Channel = cfg.Source.Channel
		return source.NewPostgres(pgCfg, pool, handler, logger), pool, nil

	default:
		synCfg := source.SyntheticConfig{
			Interval: cfg.Source.Interval.Duration,
			Topics:   cfg.Source.Topics,
		}
		return source.NewSynthetic(synCfg, handler, logger), nil, nil
	}
}

func registerHubMetrics(reg *prometheus.Registry, h *hub.Hub) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "feedsim_connections",
			Help: "Currently connected clients.",
		}, func() float64 { return float64(h.Stats().Connections) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedsim_connections_total",
			Help: "Connections accepted since start.",
		}, func() float64 { return float64(h.Stats().TotalConnections) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedsim_events_broadcast_total",
			Help: "Events offered for fan-out.",
		}, func() float64 { return float64(h.Stats().EventsBroadcast) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedsim_frames_delivered_total",
			Help: "Event frames enqueued to clients.",
		}, func() float64 { return float64(h.Stats().FramesDelivered) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedsim_control_frames_received_total",
			Help: "Control frames applied to connection topic sets.",
		}, func() float64 { return float64(h.Stats().ControlsReceived) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedsim_malformed_frames_total",
			Help: "Inbound frames that failed to parse.",
		}, func() float64 { return float64(h.Stats().MalformedFrames) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "feedsim_slow_client_drops_total",
			Help: "Connections closed because their send buffer filled.",
		}, func() float64 { return float64(h.Stats().SlowClientDrops) }),
	)
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
