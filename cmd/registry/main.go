package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lattice-stream/registry/internal/config"
	"github.com/lattice-stream/registry/internal/coordinator"
	"github.com/lattice-stream/registry/internal/logstore"
	"github.com/lattice-stream/registry/internal/logstore/natslog"
	"github.com/lattice-stream/registry/internal/logstore/pebblelog"
	"github.com/lattice-stream/registry/internal/metrics"
	"github.com/lattice-stream/registry/internal/registry"
	"github.com/lattice-stream/registry/internal/rest"
	"github.com/lattice-stream/registry/internal/statemachine"
	"github.com/lattice-stream/registry/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)
	slog.Info("starting registry", "log_backend", cfg.Log.Backend, "http_addr", cfg.Server.HTTPAddr)

	log, coord, closeBackend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("build log backend", "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	var mtr *metrics.Metrics
	if cfg.Metrics.Enabled {
		mtr = metrics.New()
	}

	mach := statemachine.New(log, store.New())
	mach.SetMetrics(mtr)
	replayCtx, cancelReplay := context.WithCancel(context.Background())
	go func() {
		if err := mach.Run(replayCtx); err != nil && replayCtx.Err() == nil {
			slog.Error("replay loop stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	facade := registry.NewFacade(log, mach, coord)
	facade.SetMetrics(mtr)
	rest.Init(facade, mtr)

	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: rest.Routes()}
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	gracefulShutdown(httpServer, cancelReplay, coord, 5*time.Second)
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var writer = os.Stdout
	var handler slog.Handler
	if cfg.Output == "" {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	} else {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		handler = slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// buildBackend constructs the log and coordinator pair for cfg.Log.Backend.
// "pebble" pairs an embedded log with an always-primary Standalone
// coordinator (spec.md §9's single-node simplification); "nats" pairs a
// JetStream-backed log with NATS KV CAS election.
func buildBackend(cfg *config.Config) (logstore.Log, coordinator.Coordinator, func(), error) {
	switch cfg.Log.Backend {
	case "pebble":
		log, err := pebblelog.Open(cfg.Log.PebbleDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open pebble log: %w", err)
		}
		coord := coordinator.NewStandalone(cfg.Server.AdvertiseAddr)
		return log, coord, func() { log.Close() }, nil

	case "nats":
		nc, err := nats.Connect(cfg.Log.NATSURL,
			nats.Name("registry"),
			nats.Timeout(5*time.Second),
			nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
				slog.Error("NATS error", "error", err)
			}),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Error("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				slog.Info("NATS reconnected")
			}),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}

		js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
		if err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("JetStream context: %w", err)
		}

		log, err := natslog.Open(js, cfg.Log.StreamName)
		if err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("open jetstream log: %w", err)
		}

		coord, err := coordinator.Open(js, cfg.Coordinator.ElectionBucket, cfg.Server.AdvertiseAddr)
		if err != nil {
			nc.Close()
			return nil, nil, nil, fmt.Errorf("open coordinator: %w", err)
		}

		return log, coord, func() { coord.Close(); log.Close(); nc.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown log backend %q", cfg.Log.Backend)
	}
}

func gracefulShutdown(httpServer *http.Server, cancelReplay context.CancelFunc, coord coordinator.Coordinator, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	cancelReplay()
	if err := coord.Close(); err != nil {
		slog.Error("coordinator shutdown error", "error", err)
	}
}
