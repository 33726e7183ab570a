package runner

import (
	"context"

	"github.com/ormkit/morph/internal/schema"
)

// Hooks is user code run around a unit's SQL, inside its transaction. An
// error from either method aborts the whole unit.
type Hooks interface {
	RunBefore(ctx context.Context, h Handle, model *schema.Model) error
	RunAfter(ctx context.Context, h Handle, model *schema.Model) error
}

// HookFuncs adapts plain functions to Hooks. Nil members are no-ops.
type HookFuncs struct {
	Before func(ctx context.Context, h Handle, model *schema.Model) error
	After  func(ctx context.Context, h Handle, model *schema.Model) error
}

func (f HookFuncs) RunBefore(ctx context.Context, h Handle, model *schema.Model) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, h, model)
}

func (f HookFuncs) RunAfter(ctx context.Context, h Handle, model *schema.Model) error {
	if f.After == nil {
		return nil
	}
	return f.After(ctx, h, model)
}
