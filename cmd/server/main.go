package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/logging"
	"github.com/fenggwsx/chatrelay/internal/server"
	"github.com/fenggwsx/chatrelay/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *zap.Logger) error {
	store, err := sqlite.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	app := server.NewApp(cfg, store, logger)
	return app.Run(ctx)
}
