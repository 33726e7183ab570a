package morph

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/ormkit/morph/internal/diff"
	"github.com/ormkit/morph/internal/runner"
	"github.com/ormkit/morph/internal/schema"
	"github.com/ormkit/morph/internal/sqlgen"
	"github.com/ormkit/morph/internal/store"
)

// ErrAborted is returned when the operator declines a generated change at
// the confirmation prompt.
var ErrAborted = errors.New("migration generation aborted")

// Engine wires the registry, the on-disk store and the database together.
type Engine struct {
	reg   *Registry
	store *store.Store
	db    *gorm.DB
	log   *slog.Logger
	run   *runner.Runner
	hooks map[string]Hooks
}

// Options configures an Engine. MigrationsDir is required; DB may be nil
// for generation-only use (generation never touches the database).
type Options struct {
	DB            *gorm.DB
	MigrationsDir string
	Logger        *slog.Logger
}

// New builds an engine over a model registry. The registry may be nil for
// apply-only use, where unit files carry everything needed.
func New(reg *Registry, opts Options) (*Engine, error) {
	if opts.MigrationsDir == "" {
		return nil, errors.New("migrations directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		reg:   reg,
		store: store.New(opts.MigrationsDir),
		db:    opts.DB,
		log:   log,
		hooks: make(map[string]Hooks),
	}
	if opts.DB != nil {
		e.run = runner.New(opts.DB, e.store, reg, log)
	}
	return e, nil
}

// RegisterHooks attaches Go hooks to a model by name; they run inside each
// of that model's unit transactions.
func (e *Engine) RegisterHooks(model string, h Hooks) {
	e.hooks[model] = h
	if e.run != nil {
		e.run.RegisterHooks(model, h)
	}
}

// GenerateOptions controls the generate step. Confirm defaults to an
// interactive stdin prompt; Yes bypasses it, Quiet suppresses the printed
// statements.
type GenerateOptions struct {
	Yes     bool
	Quiet   bool
	Confirm func(prompt string) bool
}

// Generate diffs every registered model against its last stored snapshot
// and queues one migration unit per model with changes. Models without
// changes queue nothing. Any declaration, diff or generation error aborts
// before a unit is written.
func (e *Engine) Generate(opts GenerateOptions) error {
	if e.reg == nil || e.reg.Len() == 0 {
		return errors.New("no models registered")
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = stdinConfirm
	}
	for _, m := range e.reg.Models() {
		if err := e.generateModel(m, opts, confirm); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) generateModel(m *Model, opts GenerateOptions, confirm func(string) bool) error {
	snap, err := schema.Describe(m)
	if err != nil {
		return err
	}
	table := snap.Table

	lock := e.store.ModelLock(table)
	lock.Lock()
	defer lock.Unlock()

	prev, _, err := e.store.LatestSnapshot(table)
	if err != nil {
		return err
	}
	cs, err := diff.Diff(prev, snap)
	if err != nil {
		return err
	}
	if cs.Empty() {
		if !opts.Quiet {
			fmt.Printf("No changes detected for model %s\n", m.Name)
		}
		e.log.Debug("no schema changes", "model", m.Name)
		return nil
	}
	stmts, err := sqlgen.Generate(table, cs)
	if err != nil {
		return err
	}
	if !opts.Quiet || !opts.Yes {
		printStatements(m.Name, stmts)
	}
	if !opts.Yes {
		if !confirm("Is this correct? [Y/n]: ") {
			return ErrAborted
		}
	}
	u, err := e.store.WriteUnit(m.Name, snap, cs, stmts)
	if err != nil {
		return err
	}
	e.log.Info("queued migration unit", "model", m.Name, "sequence", u.Sequence)
	if !opts.Quiet {
		fmt.Printf("Migration %d for model %s has been created\n", u.Sequence, m.Name)
	}
	return nil
}

// Apply runs queued units for the named models, or for all models when
// none are named.
func (e *Engine) Apply(ctx context.Context, models ...string) error {
	if e.run == nil {
		return errors.New("no database configured")
	}
	return e.run.Apply(ctx, models...)
}

// DeleteRange removes queued, unapplied units in the inclusive sequence
// range for the named models (all models when none are named). Applied
// units in the range make the call fail.
func (e *Engine) DeleteRange(start, end int, models ...string) error {
	tables, err := e.resolveTables(models)
	if err != nil {
		return err
	}
	for _, table := range tables {
		lock := e.store.ModelLock(table)
		lock.Lock()
		err := e.store.DeleteRange(table, start, end)
		lock.Unlock()
		if err != nil {
			return err
		}
		e.log.Info("deleted queued migration units", "model", table, "from", start, "to", end)
	}
	return nil
}

// ModelStatus summarizes one model's migration state.
type ModelStatus struct {
	Table       string
	Queued      int
	Applied     int
	LastApplied int
}

// Status reports queued/applied unit counts per model.
func (e *Engine) Status() ([]ModelStatus, error) {
	tables, err := e.resolveTables(nil)
	if err != nil {
		return nil, err
	}
	out := make([]ModelStatus, 0, len(tables))
	for _, table := range tables {
		units, err := e.store.Units(table)
		if err != nil {
			return nil, err
		}
		st := ModelStatus{Table: table}
		for _, u := range units {
			if u.Applied {
				st.Applied++
			} else {
				st.Queued++
			}
		}
		b, err := e.store.AppliedBaseline(table)
		if err != nil {
			return nil, err
		}
		if b != nil {
			st.LastApplied = b.LastAppliedSequence
		}
		out = append(out, st)
	}
	return out, nil
}

func (e *Engine) resolveTables(models []string) ([]string, error) {
	if len(models) > 0 {
		out := make([]string, 0, len(models))
		for _, name := range models {
			if e.reg != nil {
				if m, ok := e.reg.Get(name); ok {
					out = append(out, m.TableName())
					continue
				}
			}
			out = append(out, name)
		}
		return out, nil
	}
	if e.reg != nil && e.reg.Len() > 0 {
		var out []string
		for _, m := range e.reg.Models() {
			out = append(out, m.TableName())
		}
		return out, nil
	}
	return e.store.Tables()
}

func printStatements(model string, stmts []string) {
	fmt.Printf("=> Changes for model %s\n", model)
	fmt.Println(strings.Repeat("*", 79))
	for _, s := range stmts {
		fmt.Println(s)
	}
	fmt.Println(strings.Repeat("*", 79))
}

func stdinConfirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.TrimSpace(line)
	return answer == "" || answer == "y" || answer == "Y"
}
