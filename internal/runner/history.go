package runner

import (
	"time"
)

// AppliedMigration is one row of the applied-history table. The row is
// inserted inside the unit's transaction, which makes "applied" a fact
// coupled to the commit itself: if the commit succeeded the row exists.
type AppliedMigration struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"size:36;not null"`
	Model     string    `gorm:"size:255;not null;uniqueIndex:ux_morph_model_seq"`
	Sequence  int       `gorm:"not null;uniqueIndex:ux_morph_model_seq"`
	AppliedAt time.Time `gorm:"not null"`
}

func (AppliedMigration) TableName() string { return "morph_migrations" }
