// Package mirror is the local relational copy of the gateway's services,
// routes and plugin bindings, plus the durable compensation job and plan
// execution tables.
package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the mirror database. driver is "postgres" or "sqlite".
func Open(driver, dsn string, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("driver", driver).Msg("database connected")

	return db, nil
}

// Models lists every table owned by the mirror.
func Models() []any {
	return []any{
		&Service{},
		&Route{},
		&PluginCatalogEntry{},
		&PluginBinding{},
		&CompensationJob{},
		&PlanExecution{},
	}
}

// AutoMigrate creates or updates the mirror schema.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	err := db.
		WithContext(ctx).
		AutoMigrate(Models()...)

	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	return nil
}
