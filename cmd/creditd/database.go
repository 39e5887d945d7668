package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/inglespareto/credits/internal/activities"
	"github.com/inglespareto/credits/internal/store/gormstore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	defaultSQLiteFile = "credits.db"
	sqliteInMemory    = ":memory:"
)

// databaseTarget is a parsed --database-url. For SQLite, location is a file path.
type databaseTarget struct {
	driver   string
	location string
}

// parseDatabaseURL accepts postgres:// and postgresql:// DSNs, sqlite:// URLs and bare SQLite paths.
func parseDatabaseURL(raw string) (databaseTarget, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return databaseTarget{}, fmt.Errorf("database url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		return databaseTarget{driver: driverSQLite, location: trimmed}, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return databaseTarget{}, fmt.Errorf("parse database url: %w", err)
	}
	switch parsed.Scheme {
	case "postgres", "postgresql":
		return databaseTarget{driver: driverPostgres, location: trimmed}, nil
	case driverSQLite:
		// sqlite:///abs/path keeps the path; sqlite://dir/file.db is relative.
		location := parsed.Host + parsed.Path
		if location == "" || location == "/" {
			location = defaultSQLiteFile
		}
		return databaseTarget{driver: driverSQLite, location: location}, nil
	default:
		return databaseTarget{}, fmt.Errorf("unsupported database scheme %q", parsed.Scheme)
	}
}

// open connects to the target. SQLite parent directories are created on demand and the
// pool is capped at one connection, since SQLite has no row locks.
func (target databaseTarget) open(ctx context.Context) (*gorm.DB, func() error, error) {
	var dialector gorm.Dialector
	switch target.driver {
	case driverPostgres:
		dialector = postgres.Open(target.location)
	case driverSQLite:
		if target.location != sqliteInMemory {
			if err := os.MkdirAll(filepath.Dir(target.location), 0o755); err != nil {
				return nil, nil, fmt.Errorf("sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(target.location)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", target.driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if target.driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return db.WithContext(ctx), sqlDB.Close, nil
}

// prepareSchema migrates the ledger and progress tables on every driver.
func prepareSchema(db *gorm.DB) error {
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := activities.MigrateProgress(db); err != nil {
		return fmt.Errorf("auto migrate progress: %w", err)
	}
	return nil
}
