// Package morph is a schema migration engine: it diffs declared models
// against their last known database structure, renders the difference as
// forward-only PostgreSQL DDL, queues the result as versioned migration
// units on disk, and applies them transactionally with pre/post hooks.
package morph

import (
	"github.com/ormkit/morph/internal/runner"
	"github.com/ormkit/morph/internal/schema"
	"github.com/ormkit/morph/internal/store"
)

type (
	Registry    = schema.Registry
	Model       = schema.Model
	FieldSpec   = schema.FieldSpec
	UniqueGroup = schema.UniqueGroup
	Snapshot    = schema.Snapshot
	IndexSpec   = schema.IndexSpec

	Hooks     = runner.Hooks
	HookFuncs = runner.HookFuncs
	Handle    = runner.Handle

	Unit     = store.Unit
	Baseline = store.Baseline

	DeclarationError        = schema.DeclarationError
	ApplyError              = runner.ApplyError
	HistoryConsistencyError = runner.HistoryConsistencyError
)

// NewRegistry returns an empty model registry.
func NewRegistry() *Registry {
	return schema.NewRegistry()
}

// Describe flattens a model declaration into a snapshot, validating it.
func Describe(m *Model) (*Snapshot, error) {
	return schema.Describe(m)
}
