package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ormkit/morph/internal/diff"
	"github.com/ormkit/morph/internal/schema"
	"github.com/ormkit/morph/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "morph.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Serialize connections: sqlite does not take concurrent writers.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

// queueUnit writes a unit whose SQL is handed in directly, with a snapshot
// that only needs to exist for baseline bookkeeping.
func queueUnit(t *testing.T, st *store.Store, model, table string, sql ...string) *store.Unit {
	t.Helper()
	snap := &schema.Snapshot{
		Table:  table,
		Fields: []schema.FieldSpec{{Name: "id", SQLType: "integer"}},
	}
	cs := &diff.ChangeSet{Table: table, Changes: []diff.Change{
		{Op: diff.OpAddField, Field: &schema.FieldSpec{Name: "id", SQLType: "integer"}},
	}}
	u, err := st.WriteUnit(model, snap, cs, sql)
	if err != nil {
		t.Fatalf("queue unit: %v", err)
	}
	return u
}

func rewriteUnit(t *testing.T, u *store.Unit) {
	t.Helper()
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(u.Path(), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func appliedRows(t *testing.T, db *gorm.DB, table string) []int {
	t.Helper()
	var seqs []int
	err := db.Model(&AppliedMigration{}).
		Where("model = ?", table).
		Order("sequence").
		Pluck("sequence", &seqs).Error
	if err != nil {
		t.Fatal(err)
	}
	return seqs
}

func TestApply_RunsUnitsInOrder(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)
	queueUnit(t, st, "Item", "item", `ALTER TABLE "item" ADD COLUMN "name" text;`)

	r := New(db, st, nil, nil)
	if err := r.Apply(context.Background(), "item"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := appliedRows(t, db, "item"); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("history rows = %v", got)
	}
	units, err := st.Units("item")
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range units {
		if !u.Applied {
			t.Errorf("unit %d not marked applied", u.Sequence)
		}
	}
	b, err := st.AppliedBaseline("item")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.LastAppliedSequence != 2 {
		t.Errorf("baseline = %+v", b)
	}
}

func TestApply_FailureHaltsModelQueue(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)
	queueUnit(t, st, "Item", "item", `ALTER TABLE "item" ADD COLUMN "a" text;`)
	queueUnit(t, st, "Item", "item", `THIS IS NOT SQL;`)
	queueUnit(t, st, "Item", "item", `ALTER TABLE "item" ADD COLUMN "b" text;`)
	queueUnit(t, st, "Item", "item", `ALTER TABLE "item" ADD COLUMN "c" text;`)

	r := New(db, st, nil, nil)
	err := r.Apply(context.Background(), "item")
	var ae *ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ApplyError, got %v", err)
	}
	if ae.Sequence != 3 {
		t.Errorf("failing sequence = %d, want 3", ae.Sequence)
	}

	if got := appliedRows(t, db, "item"); len(got) != 2 {
		t.Errorf("history rows = %v, want units 1-2 only", got)
	}
	units, err := st.Units("item")
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range units {
		want := u.Sequence <= 2
		if u.Applied != want {
			t.Errorf("unit %d applied = %v, want %v", u.Sequence, u.Applied, want)
		}
	}
	b, err := st.AppliedBaseline("item")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.LastAppliedSequence != 2 {
		t.Errorf("baseline = %+v", b)
	}

	// Fix the broken unit and re-run; the queue resumes where it halted.
	units[2].SQL = []string{`ALTER TABLE "item" ADD COLUMN "fixed" text;`}
	rewriteUnit(t, units[2])
	if err := r.Apply(context.Background(), "item"); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if got := appliedRows(t, db, "item"); len(got) != 5 {
		t.Errorf("history rows after re-apply = %v", got)
	}
}

func TestApply_FailedUnitRollsBackAtomically(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)
	// Second statement fails; the CREATE in the same unit must roll back.
	queueUnit(t, st, "Other", "other",
		`CREATE TABLE "other" ("id" integer NOT NULL);`,
		`THIS IS NOT SQL;`,
	)

	r := New(db, st, nil, nil)
	if err := r.Apply(context.Background(), "other"); err == nil {
		t.Fatal("expected failure")
	}
	var n int
	err := db.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'other'`).Scan(&n).Error
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("failed unit left its table behind")
	}
}

func TestApply_HookOrdering(t *testing.T) {
	db := testDB(t)
	if err := db.Exec(`CREATE TABLE "audit" ("step" text NOT NULL)`).Error; err != nil {
		t.Fatal(err)
	}

	st := store.New(t.TempDir())
	u := queueUnit(t, st, "Item", "item", `INSERT INTO "audit" ("step") VALUES ('generated');`)
	u.Hooks.RunBefore = []string{`INSERT INTO "audit" ("step") VALUES ('unit_before');`}
	u.Hooks.RunAfter = []string{`INSERT INTO "audit" ("step") VALUES ('unit_after');`}
	rewriteUnit(t, u)

	reg := schema.NewRegistry()
	reg.MustRegister(&schema.Model{
		Name: "Item", Table: "item",
		Fields: []schema.FieldSpec{{Name: "id", SQLType: "integer"}},
	})

	r := New(db, st, reg, nil)
	r.RegisterHooks("Item", HookFuncs{
		Before: func(ctx context.Context, h Handle, m *schema.Model) error {
			if m == nil || m.Name != "Item" {
				return fmt.Errorf("hook got model %+v", m)
			}
			return h.Execute(ctx, `INSERT INTO "audit" ("step") VALUES ('go_before')`)
		},
		After: func(ctx context.Context, h Handle, m *schema.Model) error {
			return h.Execute(ctx, `INSERT INTO "audit" ("step") VALUES ('go_after')`)
		},
	})
	if err := r.Apply(context.Background(), "Item"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var steps []string
	if err := db.Raw(`SELECT "step" FROM "audit" ORDER BY rowid`).Scan(&steps).Error; err != nil {
		t.Fatal(err)
	}
	want := []string{"go_before", "unit_before", "generated", "unit_after", "go_after"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
}

func TestApply_HookFailureRollsBackUnit(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)

	r := New(db, st, nil, nil)
	r.RegisterHooks("Item", HookFuncs{
		After: func(ctx context.Context, h Handle, m *schema.Model) error {
			return errors.New("backfill went wrong")
		},
	})
	err := r.Apply(context.Background(), "item")
	var ae *ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ApplyError, got %v", err)
	}
	var n int
	if err := db.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'item'`).Scan(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("hook failure must roll the whole unit back")
	}
	if got := appliedRows(t, db, "item"); len(got) != 0 {
		t.Errorf("history rows = %v, want none", got)
	}
}

func TestReconcile_HealsCrashWindow(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)

	// Simulate a crash after commit: the history row exists but the unit
	// flag and baseline were never written.
	r := New(db, st, nil, nil)
	if err := r.EnsureHistory(); err != nil {
		t.Fatal(err)
	}
	if err := db.Exec(`CREATE TABLE "item" ("id" integer NOT NULL)`).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&AppliedMigration{RunID: "run", Model: "item", Sequence: 1, AppliedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatal(err)
	}

	if err := r.Apply(context.Background(), "item"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	units, err := st.Units("item")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || !units[0].Applied {
		t.Errorf("crash window not healed: %+v", units)
	}
	b, err := st.AppliedBaseline("item")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.LastAppliedSequence != 1 {
		t.Errorf("baseline = %+v", b)
	}
	// The unit must not run a second time.
	if got := appliedRows(t, db, "item"); len(got) != 1 {
		t.Errorf("history rows = %v", got)
	}
}

func TestReconcile_DiskAheadOfDatabaseIsFatal(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	u := queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)
	if err := st.MarkApplied(u); err != nil {
		t.Fatal(err)
	}

	r := New(db, st, nil, nil)
	err := r.Apply(context.Background(), "item")
	var hce *HistoryConsistencyError
	if !errors.As(err, &hce) {
		t.Fatalf("expected HistoryConsistencyError, got %v", err)
	}
}

func TestReconcile_BaselineAheadOfUnitsIsFatal(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Item", "item", `CREATE TABLE "item" ("id" integer NOT NULL);`)
	snap := &schema.Snapshot{Table: "item", Fields: []schema.FieldSpec{{Name: "id", SQLType: "integer"}}}
	if err := st.SaveBaseline("item", snap, 5); err != nil {
		t.Fatal(err)
	}

	r := New(db, st, nil, nil)
	err := r.Apply(context.Background(), "item")
	var hce *HistoryConsistencyError
	if !errors.As(err, &hce) {
		t.Fatalf("expected HistoryConsistencyError, got %v", err)
	}
}

func TestApply_ModelsAreIndependent(t *testing.T) {
	db := testDB(t)
	st := store.New(t.TempDir())
	queueUnit(t, st, "Good", "good", `CREATE TABLE "good" ("id" integer NOT NULL);`)
	queueUnit(t, st, "Bad", "bad", `THIS IS NOT SQL;`)

	r := New(db, st, nil, nil)
	err := r.Apply(context.Background(), "good", "bad")
	if err == nil {
		t.Fatal("expected the bad model to fail")
	}
	// The good model's unit still landed.
	if got := appliedRows(t, db, "good"); len(got) != 1 {
		t.Errorf("good history rows = %v", got)
	}
}
