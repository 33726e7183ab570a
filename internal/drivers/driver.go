// Package drivers opens gorm connections for the dialects morph runs
// against. DDL generation targets PostgreSQL; SQLite exists for local and
// test databases where the generated statements stay within common syntax.
package drivers

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver opens a database connection for one dialect.
type Driver interface {
	Name() string
	Connect(dsn string, logLevel string) (*gorm.DB, error)
}

// ForName resolves a driver by its configured name.
func ForName(name string) (Driver, error) {
	switch name {
	case "", "postgres", "postgresql":
		return &PostgresDriver{}, nil
	case "sqlite", "sqlite3":
		return &SQLiteDriver{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", name)
	}
}

func gormLogger(logLevel string) logger.Interface {
	var level logger.LogLevel
	switch logLevel {
	case "info":
		level = logger.Info
	case "warn":
		level = logger.Warn
	case "error":
		level = logger.Error
	default:
		return logger.Default.LogMode(logger.Silent)
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
}
