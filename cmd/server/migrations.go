package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lin-1259/ai-xiutu/internal/config"
	"github.com/lin-1259/ai-xiutu/internal/platform/sqlstore"
)

// handleMigrations executes a goose migration command against the configured
// database. The memory driver has nothing to migrate.
func handleMigrations(ctx context.Context, cfg *config.Config, migrateCmd string, logger *slog.Logger) error {
	if cfg.Database.Driver == driverMemory {
		return fmt.Errorf("database driver %q has no migrations", driverMemory)
	}

	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Error("error closing database connection", "error", cerr)
		}
	}()

	logger.Info("executing migrations", "command", migrateCmd, "driver", cfg.Database.Driver)
	return sqlstore.Migrate(ctx, db, migrateCmd, logger)
}
