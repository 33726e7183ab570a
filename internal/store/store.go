// Package store persists migration state on disk: one directory per model
// holding versioned snapshot files, a queue of migration units, an
// applied-baseline record, and a trash directory for deleted files. The
// writer and the runner synchronize on a per-model lock so their writes to
// one model's history never interleave.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ormkit/morph/internal/schema"
)

const (
	queueDirName = ".queue"
	trashDirName = ".trash"
	baselineFile = "baseline.json"
	seqDigits    = 8
)

// Store manages the migration directories under one base path.
type Store struct {
	base string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(base string) *Store {
	return &Store{base: base, locks: make(map[string]*sync.Mutex)}
}

// Base returns the base directory.
func (s *Store) Base() string { return s.base }

// ModelLock returns the coarse per-model lock shared by the unit writer and
// the runner.
func (s *Store) ModelLock(table string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[table]
	if !ok {
		l = &sync.Mutex{}
		s.locks[table] = l
	}
	return l
}

// Tables lists model directories present under the base path, sorted.
func (s *Store) Tables() ([]string, error) {
	entries, err := os.ReadDir(s.base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) modelDir(table string) string {
	return filepath.Join(s.base, table)
}

func (s *Store) queueDir(table string) string {
	return filepath.Join(s.base, table, queueDirName)
}

func (s *Store) trashDir(table string) string {
	return filepath.Join(s.base, table, trashDirName)
}

func (s *Store) ensureDirs(table string) error {
	if err := os.MkdirAll(s.modelDir(table), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(s.queueDir(table), 0o755)
}

// fileSeq extracts the sequence number from a migration file name of the
// form <table>_<seq>_<timestamp>.json. Called inside directory scans, so it
// parses directly instead of going through a regexp.
func fileSeq(table, name string) (int, bool) {
	prefix := table + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	rest := name[len(prefix):]
	i := strings.IndexByte(rest, '_')
	if i <= 0 {
		return 0, false
	}
	digits := rest[:i]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func seqFileName(table string, seq int, at time.Time) string {
	return fmt.Sprintf("%s_%0*d_%s.json", table, seqDigits, seq, at.UTC().Format("20060102T150405"))
}

// maxSeqIn finds the highest sequence among migration files in dir.
// Missing directories count as empty.
func maxSeqIn(table, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	maxSeq := 0
	for _, e := range entries {
		if seq, ok := fileSeq(table, e.Name()); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

// NextSequence allocates the next sequence number for a model. It scans the
// snapshot dir, the queue and the trash, so a number is never reused even
// after deletion.
func (s *Store) NextSequence(table string) (int, error) {
	maxSeq := 0
	dirs := []string{
		s.modelDir(table),
		s.queueDir(table),
		s.trashDir(table),
		filepath.Join(s.trashDir(table), queueDirName),
	}
	for _, dir := range dirs {
		n, err := maxSeqIn(table, dir)
		if err != nil {
			return 0, err
		}
		if n > maxSeq {
			maxSeq = n
		}
	}
	return maxSeq + 1, nil
}

// LatestSnapshot returns the most recent versioned snapshot for a model and
// its sequence number, or (nil, 0) when the model has never had one. This
// is the diff baseline: queued units count, so repeated generation is
// idempotent.
func (s *Store) LatestSnapshot(table string) (*schema.Snapshot, int, error) {
	entries, err := os.ReadDir(s.modelDir(table))
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	maxSeq, name := 0, ""
	for _, e := range entries {
		if seq, ok := fileSeq(table, e.Name()); ok && seq > maxSeq {
			maxSeq, name = seq, e.Name()
		}
	}
	if maxSeq == 0 {
		return nil, 0, nil
	}
	snap, err := s.readSnapshot(filepath.Join(s.modelDir(table), name))
	if err != nil {
		return nil, 0, err
	}
	return snap, maxSeq, nil
}

// SnapshotAt returns the versioned snapshot for an exact sequence number.
func (s *Store) SnapshotAt(table string, seq int) (*schema.Snapshot, error) {
	entries, err := os.ReadDir(s.modelDir(table))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if got, ok := fileSeq(table, e.Name()); ok && got == seq {
			return s.readSnapshot(filepath.Join(s.modelDir(table), e.Name()))
		}
	}
	return nil, fmt.Errorf("no snapshot for %s sequence %d", table, seq)
}

func (s *Store) readSnapshot(path string) (*schema.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := schema.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snap, nil
}

// Baseline is the per-model applied record: the structure the database is
// known to have, together with the last applied sequence. Both facts are
// written in one file so they can never drift apart.
type Baseline struct {
	schema.Snapshot
	LastAppliedSequence int `json:"last_applied_sequence"`
}

// AppliedBaseline loads the baseline record, or nil when no unit has ever
// been applied for the model.
func (s *Store) AppliedBaseline(table string) (*Baseline, error) {
	data, err := os.ReadFile(filepath.Join(s.modelDir(table), baselineFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse baseline for %s: %w", table, err)
	}
	return &b, nil
}

// SaveBaseline atomically replaces the applied record. It is called by the
// runner only, immediately after a unit's transaction commits.
func (s *Store) SaveBaseline(table string, snap *schema.Snapshot, lastApplied int) error {
	b := Baseline{Snapshot: *snap.Clone(), LastAppliedSequence: lastApplied}
	data, err := json.MarshalIndent(&b, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.modelDir(table), baselineFile), data)
}

// writeAtomic writes via a temp file and rename so a crash mid-write never
// leaves a truncated record behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
