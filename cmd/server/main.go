package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/internal/container"
	"github.com/garyjia/approval-engine/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// .env is optional; real environment variables win
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Approval engine exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	startedAt := time.Now()
	logger.Info("Starting approval engine",
		zap.Int("port", cfg.Server.Port),
		zap.String("risk_mode", cfg.Risk.Mode),
		zap.Bool("nats", cfg.Events.NATSURL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.HTTPServer().Start(gctx)
	})

	err = g.Wait()
	logger.Info("Shutting down", zap.Duration("uptime", time.Since(startedAt)))
	return err
}
