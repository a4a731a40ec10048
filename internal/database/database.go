package database

import (
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/unitreviews/backend/internal/overview"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/setu"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	postgresMaxOpenConns    = 20
	postgresMaxIdleConns    = 5
	postgresConnMaxLifetime = 30 * time.Minute
)

// Options selects the database backend.
type Options struct {
	Driver string
	// Path is the SQLite file.
	Path string
	// DSN is the Postgres connection string.
	DSN string
}

// Open connects to the configured database and performs schema migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	db, err := dial(options)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", options.Driver), zap.String("path", options.Path))
	}
	return db, nil
}

func dial(options Options) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		if options.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		db, err := gorm.Open(sqlite.Open(options.Path), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite ignores FOR UPDATE; a single connection serialises writers instead.
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case DriverPostgres:
		if options.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err := gorm.Open(postgres.Open(options.DSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
		sqlDB.SetMaxIdleConns(postgresMaxIdleConns)
		sqlDB.SetConnMaxLifetime(postgresConnMaxLifetime)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

// Migrate creates every table and applies pending one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	models := append([]interface{}{}, reviews.Models()...)
	models = append(models, overview.Models()...)
	models = append(models, &setu.Entry{}, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
