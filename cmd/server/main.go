// Package main implements the entry point for the ai-xiutu image processing
// service. It runs the job scheduler, the local control API and the hot
// folder watcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lin-1259/ai-xiutu/internal/config"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
)

// main is the entry point for the ai-xiutu server.
func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	migrateCmd := flag.String("migrate", "", "Run a migration command (up, down, status, version) and exit")
	batchDir := flag.String("batch", "", "Submit every image in this directory, wait for the jobs and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, appLogger, err := initializeApp(*configPath)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if *migrateCmd != "" {
		if err := handleMigrations(ctx, cfg, *migrateCmd, appLogger); err != nil {
			appLogger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		return
	}

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if *batchDir != "" {
		err = app.RunBatch(ctx, *batchDir)
	} else {
		err = app.Run(ctx)
	}
	if err != nil {
		appLogger.Error("application error", "error", err)
		os.Exit(1)
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("configuration loaded",
		"data_dir", cfg.App.DataDir,
		"database_driver", cfg.Database.Driver,
		"max_concurrent_tasks", cfg.Processing.MaxConcurrentTasks,
		"server_enabled", cfg.Server.Enabled)
	if cfg.Providers.Gemini.APIKey != "" {
		l.Debug("gemini configuration", "api_key_present", true)
	}
	if cfg.Providers.Qwen.APIKey != "" {
		l.Debug("qwen configuration", "api_key_present", true)
	}

	return cfg, l, nil
}
