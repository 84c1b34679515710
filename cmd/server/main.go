package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/config"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/container"
	httpapi "github.com/dajor/bewirtungsbeleg-sub003/internal/interfaces/http"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting Bewirtungsbeleg service",
		zap.String("version", "1.0.0"),
		zap.String("address", cfg.Addr()),
		zap.String("locale", cfg.Reconciliation.Locale))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	health := c.Health()
	logger.Info("Container health", zap.Bool("overall", health.Overall), zap.Any("components", health.Components))

	// HTTP server
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadSize:   cfg.Upload.MaxFileSize,
		RateLimit: httpapi.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}, httpapi.Services{
		Sessions:    c.Sessions(),
		Submissions: c.Services().Submissions,
		Receipts:    c.Services().Receipts,
		Rules:       c.Rules(),
		Metrics:     c.MetricsHandler(),
	}, logger)

	// Start blocks until a signal arrives, then shuts the server down
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutting down", zap.Int("open_sessions", c.Sessions().Count()))
	return nil
}
