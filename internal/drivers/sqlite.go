package drivers

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteDriver connects to SQLite. Useful for scratch databases; the
// generated DDL only round-trips where it avoids PostgreSQL-only syntax.
type SQLiteDriver struct{}

func (d *SQLiteDriver) Name() string { return "sqlite" }

func (d *SQLiteDriver) Connect(dsn string, logLevel string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger(logLevel),
	})
}
