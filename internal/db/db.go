package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Schema holds every serviceability table.
const Schema = "serviceability"

// DB is the process-wide handle, set by Connect. Feature packages receive it
// explicitly from main; cmd tools read it directly.
var DB *gorm.DB

// Options configures Connect.
type Options struct {
	DSN    string
	Logger *slog.Logger
	// LogSQL logs every statement at debug level; slow queries are always logged.
	LogSQL bool
}

func Connect(opts Options) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sqlDB, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	level := logger.Warn
	if opts.LogSQL {
		level = logger.Info
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         NewGormLogger(opts.Logger.With("component", "gorm"), 100*time.Millisecond).LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	DB = gdb
	opts.Logger.Info("Connected to database")
	return gdb, nil
}

func EnsureSchema(d *gorm.DB, schema string) error {
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}

// EnsureExtensions enables the extensions the models' column defaults rely on.
func EnsureExtensions(d *gorm.DB) error {
	return d.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error
}
