package main

import (
	"context"
	"errors"
	"fmt"
	"kakigoori-worker/cmd"
	"kakigoori-worker/internal/api"
	"kakigoori-worker/internal/config"
	"kakigoori-worker/internal/core"
	"kakigoori-worker/internal/encoder"
	"kakigoori-worker/internal/messaging"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var errNoFormats = errors.New("no known formats enabled")

func enabledEncoders(cfg *config.Config) []encoder.Encoder {
	known := []encoder.Format{
		encoder.AVIF.WithBinary(cfg.AvifencPath),
		encoder.WebP.WithBinary(cfg.CwebpPath),
	}

	names := cfg.Formats()
	if names == nil {
		for _, f := range known {
			names = append(names, f.Name())
		}
	}

	var encoders []encoder.Encoder
	for _, f := range encoder.Select(names, known) {
		encoders = append(encoders, f)
	}
	return encoders
}

func startHealthServer(port string, supervisor *core.Supervisor) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	api.NewHealthService(supervisor).AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("health server listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "error", err)
		}
	}()

	return server
}

// run returns once every consumer loop has ended. Startup failures are
// returned before any loop is started.
func run(ctx context.Context, cfg *config.Config, dial func() (messaging.Broker, error)) error {
	encoders := enabledEncoders(cfg)
	if len(encoders) == 0 {
		return fmt.Errorf("%w (WORKER_FILE_TYPES=%q)", errNoFormats, cfg.WorkerFileTypes)
	}

	broker, err := dial()
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrBrokerConnect, err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Warn("error closing broker connection", "error", err)
		}
	}()

	supervisor := core.NewSupervisor(broker, encoders, core.SupervisorOptions{
		QueuePrefix:   cfg.QueuePrefix,
		OutboundQueue: messaging.ProcessVariantQueue,
		ScratchDir:    cfg.ScratchDir,
	})
	if err := supervisor.Setup(); err != nil {
		return err
	}

	if cfg.HealthPort != "" {
		server := startHealthServer(cfg.HealthPort, supervisor)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down health server", "error", err)
			}
		}()
	}

	slog.Info("worker started, waiting for tasks", "formats", len(encoders))

	return supervisor.Run(ctx)
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cmd.SetupLogging(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dial := func() (messaging.Broker, error) {
		broker, err := messaging.NewRabbitMQBroker(cfg.RabbitMQAddress, messaging.RabbitMQOptions{
			ConnectionName:  cfg.ConnectionName,
			ConnectAttempts: cfg.ConnectAttempts,
			RetryDelay:      cfg.ConnectRetryDelay,
			PrefetchCount:   cfg.PrefetchCount,
		})
		if err != nil {
			return nil, err
		}
		return broker, nil
	}

	if err := run(ctx, cfg, dial); err != nil {
		slog.Error("worker stopped with error", "error", err)
		stop()
		os.Exit(1)
	}

	slog.Info("worker process stopped")
}
