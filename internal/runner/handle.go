package runner

import (
	"context"

	"gorm.io/gorm"
)

// Handle is the execution surface handed to hooks. It is scoped to the same
// transaction as the migration SQL, so hook queries participate in the same
// atomic unit.
type Handle interface {
	Execute(ctx context.Context, sql string, args ...any) error
	Fetch(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
	FetchVal(ctx context.Context, sql string, args ...any) (any, error)
}

type txHandle struct {
	tx *gorm.DB
}

func (h *txHandle) Execute(ctx context.Context, sql string, args ...any) error {
	return h.tx.WithContext(ctx).Exec(sql, args...).Error
}

func (h *txHandle) Fetch(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	var rows []map[string]any
	err := h.tx.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error
	return rows, err
}

func (h *txHandle) FetchVal(ctx context.Context, sql string, args ...any) (any, error) {
	var v any
	err := h.tx.WithContext(ctx).Raw(sql, args...).Row().Scan(&v)
	return v, err
}
