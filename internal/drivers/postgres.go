package drivers

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresDriver connects to PostgreSQL, the dialect the SQL generator
// targets.
type PostgresDriver struct{}

func (d *PostgresDriver) Name() string { return "postgres" }

func (d *PostgresDriver) Connect(dsn string, logLevel string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger(logLevel),
	})
}
