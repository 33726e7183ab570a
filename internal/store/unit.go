package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ormkit/morph/internal/diff"
	"github.com/ormkit/morph/internal/schema"
)

// Hooks is the editable pre/post section of a queued unit. Statements run
// inside the same transaction as the generated SQL; both lists are empty
// templates at write time and may be edited by the operator before apply.
type Hooks struct {
	RunBefore []string `json:"run_before"`
	RunAfter  []string `json:"run_after"`
}

// Unit is one persisted migration: the change set, the SQL captured at
// generation time, and the hook template. Once applied it is immutable and
// never regenerated; the SQL on disk is what ran, regardless of later code
// changes.
type Unit struct {
	Model     string          `json:"model"`
	Table     string          `json:"db_table"`
	Sequence  int             `json:"sequence"`
	CreatedAt time.Time       `json:"created_at"`
	ChangeSet *diff.ChangeSet `json:"change_set"`
	SQL       []string        `json:"generated_sql"`
	Hooks     Hooks           `json:"hooks"`
	Applied   bool            `json:"applied"`

	path string
}

// Path returns the on-disk location of the unit file.
func (u *Unit) Path() string { return u.path }

// WriteUnit queues a new migration unit together with the versioned
// snapshot it leads to. An empty change set queues nothing and returns nil.
// The caller holds the model lock.
func (s *Store) WriteUnit(model string, after *schema.Snapshot, cs *diff.ChangeSet, sql []string) (*Unit, error) {
	if cs.Empty() {
		return nil, nil
	}
	table := after.Table
	if err := s.ensureDirs(table); err != nil {
		return nil, err
	}
	seq, err := s.NextSequence(table)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	u := &Unit{
		Model:     model,
		Table:     table,
		Sequence:  seq,
		CreatedAt: now.UTC(),
		ChangeSet: cs,
		SQL:       sql,
		Hooks:     Hooks{RunBefore: []string{}, RunAfter: []string{}},
		path:      filepath.Join(s.queueDir(table), seqFileName(table, seq, now)),
	}
	if err := s.writeUnit(u); err != nil {
		return nil, err
	}
	snapData, err := schema.MarshalSnapshot(after)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(filepath.Join(s.modelDir(table), seqFileName(table, seq, now)), snapData); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) writeUnit(u *Unit) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(u.path, data)
}

// Units loads every migration unit for a model in ascending sequence order.
func (s *Store) Units(table string) ([]*Unit, error) {
	entries, err := os.ReadDir(s.queueDir(table))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var units []*Unit
	for _, e := range entries {
		if _, ok := fileSeq(table, e.Name()); !ok {
			continue
		}
		path := filepath.Join(s.queueDir(table), e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var u Unit
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("parse migration unit %s: %w", path, err)
		}
		u.path = path
		units = append(units, &u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Sequence < units[j].Sequence })
	return units, nil
}

// MarkApplied flips a unit's applied flag on disk.
func (s *Store) MarkApplied(u *Unit) error {
	u.Applied = true
	return s.writeUnit(u)
}

// DeleteRange removes queued units with start <= sequence <= end, moving
// the unit and its snapshot file to the trash. Deleting an applied unit is
// an error and nothing is removed in that case. Sequence numbers freed this
// way are never reallocated.
func (s *Store) DeleteRange(table string, start, end int) error {
	if start < 1 || start > end {
		return fmt.Errorf("invalid sequence range [%d, %d]", start, end)
	}
	units, err := s.Units(table)
	if err != nil {
		return err
	}
	var doomed []*Unit
	for _, u := range units {
		if u.Sequence < start || u.Sequence > end {
			continue
		}
		if u.Applied {
			return fmt.Errorf("unit %d for %s is already applied and can not be deleted", u.Sequence, table)
		}
		doomed = append(doomed, u)
	}
	for _, u := range doomed {
		if err := s.moveToTrash(table, u.path); err != nil {
			return err
		}
		snapPath, err := s.snapshotPath(table, u.Sequence)
		if err == nil && snapPath != "" {
			if err := s.moveToTrash(table, snapPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) snapshotPath(table string, seq int) (string, error) {
	entries, err := os.ReadDir(s.modelDir(table))
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if got, ok := fileSeq(table, e.Name()); ok && got == seq {
			return filepath.Join(s.modelDir(table), e.Name()), nil
		}
	}
	return "", nil
}

// moveToTrash preserves the queue/snapshot split under the trash dir, since
// a unit file and its snapshot share a base name.
func (s *Store) moveToTrash(table, path string) error {
	trash := s.trashDir(table)
	if filepath.Dir(path) == s.queueDir(table) {
		trash = filepath.Join(trash, queueDirName)
	}
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(trash, filepath.Base(path)))
}
