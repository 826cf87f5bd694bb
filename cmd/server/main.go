package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/storage"
	"github.com/KevinKickass/OpenMatrixCore/internal/system"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	flags := pflag.NewFlagSet("openmatrixcore", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "configs/config.yaml", "path to the configuration file")
	development := flags.Bool("dev", false, "human readable debug logging")
	flags.Parse(os.Args[1:])

	// Logger initialisieren
	newLogger := zap.NewProduction
	if *development {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Error("OpenMatrixCore failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Info("Config loaded successfully", zap.String("path", configPath))

	ctx := context.Background()

	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		logger.Info("Database connected successfully")
	} else {
		logger.Info("Database disabled, devices come from device files only")
	}

	lifecycle, err := system.NewLifecycleManager(db, cfg, logger)
	if err != nil {
		return err
	}

	if err := lifecycle.Start(); err != nil {
		lifecycle.Shutdown(ctx)
		return fmt.Errorf("failed to start system: %w", err)
	}

	logger.Info("OpenMatrixCore started successfully")

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("OpenMatrixCore stopped successfully")
	return nil
}
