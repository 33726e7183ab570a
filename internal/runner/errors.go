package runner

import "fmt"

// ApplyError wraps any failure inside a unit's transaction: a failing
// statement, a hook error, or a lost connection. The failing sequence is
// surfaced to the operator together with the underlying database error.
type ApplyError struct {
	Model    string
	Sequence int
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s unit %d: %v", e.Model, e.Sequence, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// HistoryConsistencyError means the snapshot store and the migration-unit
// history disagree in a way that is not the known crash window. It is fatal
// at apply startup and requires manual reconciliation; guessing here could
// double-apply DDL.
type HistoryConsistencyError struct {
	Model  string
	Detail string
}

func (e *HistoryConsistencyError) Error() string {
	return fmt.Sprintf("migration history for %s is inconsistent: %s", e.Model, e.Detail)
}
