// Taskd is a task-lifecycle bookkeeping daemon over a hierarchical note store.
//
// It watches task attribute changes (due date, completion date, cancellation,
// tags, location) and keeps each task correctly cross-filed under the Done,
// Todo and Canceled roots, per-tag and per-location category notes, and
// per-day calendar containers. Listing and ingestion endpoints are exposed
// over HTTP.
//
// Usage:
//
//	# Start the daemon with defaults
//	taskd
//
//	# Configure via flags and environment
//	taskd -config /etc/taskd/config.yaml
//	SERVER_HTTP_PORT=8284 STORE_PATH=/var/lib/taskd/taskd.db taskd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/httpapi"
	"github.com/fyrsmithlabs/taskd/internal/notes"
	"github.com/fyrsmithlabs/taskd/internal/task"
	"github.com/fyrsmithlabs/taskd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/taskd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  taskd           Start the taskd daemon\n")
			fmt.Fprintf(os.Stderr, "  taskd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("taskd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the taskd daemon and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Opens the note store and bootstraps the well-known roots
//  4. Connects the attribute-change bus (embedded NATS by default)
//  5. Wires the reconciliation service and watcher
//  6. Starts the HTTP server and performs graceful shutdown on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting taskd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Path),
		zap.Bool("nats_embedded", cfg.NATS.Embedded))

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	store, err := notes.Open(notes.Config{Path: cfg.Store.Path}, logger)
	if err != nil {
		return fmt.Errorf("failed to open note store: %w", err)
	}
	defer store.Close()

	if err := store.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap note store: %w", err)
	}

	nc, ns, err := connectBus(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	defer func() {
		nc.Close()
		if ns != nil {
			ns.Shutdown()
		}
	}()

	roots, err := task.LocateRoots(ctx, store)
	if err != nil {
		return err
	}
	templates, err := httpapi.LocateTemplates(ctx, store)
	if err != nil {
		return err
	}

	metrics := task.NewMetrics(logger)
	categories := task.NewCategoryIndex(store, metrics, logger)
	svc := task.NewService(store, roots, categories, metrics, logger)

	store.OnAttributeChange(task.Publish(nc, logger))

	watcher := task.NewWatcher(nc, svc, logger)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start attribute watcher: %w", err)
	}
	defer watcher.Stop() //nolint:errcheck

	srv, err := httpapi.NewServer(store, svc, templates, logger, &httpapi.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	return srv.Start(ctx)
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if cfg.Observability.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.Observability.ServiceName)), nil
}

// connectBus connects to the attribute-change event bus. With nats.embedded
// an in-process NATS server on a random port is started; otherwise taskd
// connects out to nats.url.
func connectBus(cfg *config.Config, logger *zap.Logger) (*nats.Conn, *natsserver.Server, error) {
	if cfg.NATS.Embedded {
		opts := &natsserver.Options{
			Host:   "127.0.0.1",
			Port:   -1, // Random port
			NoLog:  true,
			NoSigs: true,
		}
		ns, err := natsserver.NewServer(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			return nil, nil, fmt.Errorf("embedded NATS server not ready")
		}

		nc, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return nil, nil, fmt.Errorf("connect to embedded NATS: %w", err)
		}
		logger.Info("Connected to embedded NATS", zap.String("url", ns.ClientURL()))
		return nc, ns, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	return nc, nil, nil
}
