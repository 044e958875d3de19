package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/patchfox-io/input-service/internal/api"
	"github.com/patchfox-io/input-service/internal/api/handlers"
	"github.com/patchfox-io/input-service/internal/config"
	"github.com/patchfox-io/input-service/internal/ingest"
	"github.com/patchfox-io/input-service/internal/jobs"
	"github.com/patchfox-io/input-service/internal/reconcile"
	"github.com/patchfox-io/input-service/internal/rpc"
	"github.com/patchfox-io/input-service/internal/storage/postgres"
	"github.com/patchfox-io/input-service/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the input service",
	Long: `Start the input service and begin accepting datasource events.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Connect to postgres and start the periodic status reconciler
- Start the kafka bridge when the message bus is enabled
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  inputd serve

  # Start on a specific host and port
  inputd serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  inputd serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("starting input service")

	tracingCtx, tracingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.InitTracing(tracingCtx, cfg.Tracing, cfg.ServiceName, Version)
	tracingCancel()
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := postgres.NewPool(poolCtx, cfg.Database)
	poolCancel()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init failed: %w", err)
	}

	unpacker := ingest.NewUnpacker(cfg.Ingest.TempDir, cfg.Ingest.MaxUploadBytes)
	service := ingest.NewService(repo, unpacker, cfg.Ingest.ExpectedDomain, logger)
	sweeper := reconcile.NewSweeper(repo, cfg.Reconciler.GraceWindow, logger)

	// River takes an slog.Logger; keep it quiet below warn so job noise does
	// not drown the zerolog stream.
	jobLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	workers := jobs.NewWorkers(sweeper, jobLogger)
	riverClient, err := jobs.NewClient(pool, workers, jobLogger, jobs.NewPeriodicJobs(cfg.Reconciler.SweepInterval))
	if err != nil {
		return fmt.Errorf("job client init failed: %w", err)
	}

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("job workers failed to start: %w", err)
	}
	logger.Info().Dur("sweep_interval", cfg.Reconciler.SweepInterval).Msg("status reconciler started")
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("job workers shutdown error")
		} else {
			logger.Info().Msg("job workers stopped")
		}
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(runCtx)

	// Message bus: a publisher for the HTTP relay plus a bridge serving the
	// registered resources over kafka.
	var publisher handlers.BusPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := rpc.NewPublisher(cfg.Kafka, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher

		registry := rpc.NewRegistry(cfg.ServiceName, logger)
		api.RegisterBusResources(registry, service)

		bridge := rpc.NewBridge(cfg.Kafka, registry, logger)
		defer bridge.Close()

		group.Go(func() error {
			return bridge.Run(groupCtx)
		})
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(cfg, service, pool, publisher, logger),
		ReadTimeout:       5 * time.Minute, // uploads can be large
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	group.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}
