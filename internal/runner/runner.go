// Package runner applies queued migration units. Each unit runs in its own
// transaction, strictly in ascending sequence order per model; the first
// failure halts that model's queue while other models continue.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ormkit/morph/internal/schema"
	"github.com/ormkit/morph/internal/store"
)

// Runner applies queued units for registered models.
type Runner struct {
	db    *gorm.DB
	store *store.Store
	reg   *schema.Registry
	log   *slog.Logger
	hooks map[string]Hooks
}

// New builds a runner. The registry may be nil: applying needs only what
// the unit files carry, model declarations are required for Go hooks alone.
func New(db *gorm.DB, st *store.Store, reg *schema.Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{db: db, store: st, reg: reg, log: log, hooks: make(map[string]Hooks)}
}

// RegisterHooks attaches Go hooks to a model by name. They run inside every
// of that model's unit transactions, around the persisted SQL.
func (r *Runner) RegisterHooks(model string, h Hooks) {
	r.hooks[model] = h
}

// EnsureHistory creates the applied-history table when missing.
func (r *Runner) EnsureHistory() error {
	return r.db.AutoMigrate(&AppliedMigration{})
}

// Apply runs queued units for the named models, or for every known model
// when none are named. Models are independent and run concurrently; within
// one model units apply strictly in sequence order.
func (r *Runner) Apply(ctx context.Context, models ...string) error {
	if err := r.EnsureHistory(); err != nil {
		return err
	}
	tables, err := r.resolveTables(models)
	if err != nil {
		return err
	}
	// Models are isolated: one model's failure must not cancel the others,
	// so no errgroup context here.
	var g errgroup.Group
	for _, table := range tables {
		table := table
		g.Go(func() error {
			return r.applyModel(ctx, table)
		})
	}
	return g.Wait()
}

func (r *Runner) resolveTables(models []string) ([]string, error) {
	if len(models) > 0 {
		out := make([]string, 0, len(models))
		for _, name := range models {
			if r.reg != nil {
				if m, ok := r.reg.Get(name); ok {
					out = append(out, m.TableName())
					continue
				}
			}
			out = append(out, name)
		}
		return out, nil
	}
	if r.reg != nil && r.reg.Len() > 0 {
		var out []string
		for _, m := range r.reg.Models() {
			out = append(out, m.TableName())
		}
		return out, nil
	}
	return r.store.Tables()
}

func (r *Runner) applyModel(ctx context.Context, table string) error {
	lock := r.store.ModelLock(table)
	lock.Lock()
	defer lock.Unlock()

	lastApplied, err := r.reconcile(ctx, table)
	if err != nil {
		return err
	}

	units, err := r.store.Units(table)
	if err != nil {
		return err
	}
	for _, u := range units {
		if u.Applied || u.Sequence <= lastApplied {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.log.Info("applying migration", "model", table, "sequence", u.Sequence)
		if err := r.applyUnit(ctx, table, u); err != nil {
			// Halt this model: later units were generated assuming
			// this one applied.
			r.log.Error("migration failed", "model", table, "sequence", u.Sequence, "error", err)
			return err
		}
		r.log.Info("migration applied", "model", table, "sequence", u.Sequence)
	}
	return nil
}

func (r *Runner) applyUnit(ctx context.Context, table string, u *store.Unit) error {
	var model *schema.Model
	var hooks Hooks
	if r.reg != nil {
		if m, ok := r.reg.Get(u.Model); ok {
			model = m
		}
	}
	if h, ok := r.hooks[u.Model]; ok {
		hooks = h
	}

	runID := uuid.NewString()
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return &ApplyError{Model: table, Sequence: u.Sequence, Err: tx.Error}
	}

	err := func() error {
		h := &txHandle{tx: tx}
		if hooks != nil {
			if err := hooks.RunBefore(ctx, h, model); err != nil {
				return err
			}
		}
		for _, stmt := range u.Hooks.RunBefore {
			if err := h.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		for _, stmt := range u.SQL {
			if err := h.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		for _, stmt := range u.Hooks.RunAfter {
			if err := h.Execute(ctx, stmt); err != nil {
				return err
			}
		}
		if hooks != nil {
			if err := hooks.RunAfter(ctx, h, model); err != nil {
				return err
			}
		}
		return tx.Create(&AppliedMigration{
			RunID:     runID,
			Model:     table,
			Sequence:  u.Sequence,
			AppliedAt: time.Now().UTC(),
		}).Error
	}()
	if err != nil {
		tx.Rollback()
		return &ApplyError{Model: table, Sequence: u.Sequence, Err: err}
	}
	if err := tx.Commit().Error; err != nil {
		return &ApplyError{Model: table, Sequence: u.Sequence, Err: err}
	}

	// Post-commit bookkeeping. A crash here is healed by reconcile on the
	// next apply: the history row is the authoritative applied signal.
	if err := r.store.MarkApplied(u); err != nil {
		return err
	}
	snap, err := r.store.SnapshotAt(table, u.Sequence)
	if err != nil {
		return err
	}
	return r.store.SaveBaseline(table, snap, u.Sequence)
}

// reconcile cross-checks the three applied records: the history table
// (written with the commit), the unit files' applied flags, and the
// baseline. The only legal skew is the crash window where the commit
// succeeded but the post-commit disk writes did not; that is healed here.
// Anything else is a HistoryConsistencyError.
func (r *Runner) reconcile(ctx context.Context, table string) (int, error) {
	var dbMax int
	err := r.db.WithContext(ctx).
		Model(&AppliedMigration{}).
		Where("model = ?", table).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&dbMax).Error
	if err != nil {
		return 0, err
	}

	units, err := r.store.Units(table)
	if err != nil {
		return 0, err
	}
	unitMax := 0
	for _, u := range units {
		if u.Applied && u.Sequence > unitMax {
			unitMax = u.Sequence
		}
	}

	baseSeq := 0
	baseline, err := r.store.AppliedBaseline(table)
	if err != nil {
		return 0, err
	}
	if baseline != nil {
		baseSeq = baseline.LastAppliedSequence
	}

	if unitMax > dbMax {
		return 0, &HistoryConsistencyError{
			Model:  table,
			Detail: fmt.Sprintf("unit file marks sequence %d applied but history table stops at %d", unitMax, dbMax),
		}
	}
	if baseSeq > unitMax {
		return 0, &HistoryConsistencyError{
			Model:  table,
			Detail: fmt.Sprintf("baseline claims sequence %d applied but latest applied unit is %d", baseSeq, unitMax),
		}
	}

	// Crash window: commit landed, disk flags lag. Catch them up.
	healed := false
	for _, u := range units {
		if u.Sequence <= dbMax && !u.Applied {
			if err := r.store.MarkApplied(u); err != nil {
				return 0, err
			}
			healed = true
		}
	}
	if baseSeq < dbMax {
		snap, err := r.store.SnapshotAt(table, dbMax)
		if err != nil {
			return 0, &HistoryConsistencyError{
				Model:  table,
				Detail: fmt.Sprintf("history table says sequence %d applied but its snapshot is missing", dbMax),
			}
		}
		if err := r.store.SaveBaseline(table, snap, dbMax); err != nil {
			return 0, err
		}
		healed = true
	}
	if healed {
		r.log.Warn("healed migration bookkeeping after interrupted apply", "model", table, "sequence", dbMax)
	}
	return dbMax, nil
}
