// Package diff computes the ordered change set between two schema
// snapshots. Diffing is pure: it reads snapshots and produces a ChangeSet,
// with no side effects, so it can run concurrently across models.
package diff

import (
	"fmt"

	"github.com/ormkit/morph/internal/schema"
)

// Op identifies the kind of a change record.
type Op string

const (
	OpCreateTable       Op = "create_table"
	OpAddField          Op = "add_field"
	OpDropField         Op = "drop_field"
	OpAlterField        Op = "alter_field"
	OpAddUnique         Op = "add_unique"
	OpDropUnique        Op = "drop_unique"
	OpAddIndex          Op = "add_index"
	OpDropIndex         Op = "drop_index"
	OpAddUniqueGroup    Op = "add_unique_group"
	OpDropUniqueGroup   Op = "drop_unique_group"
	OpModifyUniqueGroup Op = "modify_unique_group"
)

// Change is one typed change record. Only the fields relevant to the op are
// set; the zero values of the rest round-trip cleanly through JSON.
type Change struct {
	Op        Op                  `json:"op"`
	Field     *schema.FieldSpec   `json:"field,omitempty"`      // add_field
	FieldName string              `json:"field_name,omitempty"` // drop_field, alter_field, unique ops, index ops
	OnDrop    string              `json:"on_drop,omitempty"`    // drop_field
	AlterOps  []string            `json:"alter_ops,omitempty"`  // alter_field
	IndexKind string              `json:"index_kind,omitempty"` // add_index, drop_index ("kind" or "kind:opclass")
	Group     *schema.UniqueGroup `json:"group,omitempty"`      // add_unique_group, modify_unique_group (new definition)
	GroupName string              `json:"group_name,omitempty"` // drop_unique_group
	Snapshot  *schema.Snapshot    `json:"snapshot,omitempty"`   // create_table
}

// ChangeSet is the immutable, ordered output of a diff. It is exactly what
// gets serialized into a migration unit.
type ChangeSet struct {
	Table   string   `json:"db_table"`
	Changes []Change `json:"changes"`
}

// Empty reports whether the diff found nothing to do.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || len(cs.Changes) == 0
}

// IsCreate reports whether the change set is the full-create sentinel.
func (cs *ChangeSet) IsCreate() bool {
	return cs != nil && len(cs.Changes) == 1 && cs.Changes[0].Op == OpCreateTable
}

// Error reports a structurally impossible comparison. It is fatal to
// generation: no migration unit is written.
type Error struct {
	Table  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("diff %s: %s", e.Table, e.Reason)
}

// Diff compares the last known snapshot against the currently declared one
// and returns the ordered change set. A nil old snapshot yields the
// full-create sentinel. Fields and unique groups are walked in lexicographic
// name order so identical inputs always produce byte-identical output.
func Diff(old, cur *schema.Snapshot) (*ChangeSet, error) {
	if cur == nil {
		return nil, &Error{Reason: "current snapshot is nil"}
	}
	if old == nil {
		return &ChangeSet{
			Table:   cur.Table,
			Changes: []Change{{Op: OpCreateTable, Snapshot: cur.Clone()}},
		}, nil
	}
	if old.Table != cur.Table {
		return nil, &Error{
			Table:  cur.Table,
			Reason: fmt.Sprintf("snapshot table mismatch: %q vs %q", old.Table, cur.Table),
		}
	}

	cs := &ChangeSet{Table: cur.Table}

	for _, name := range unionSorted(old.SortedFieldNames(), cur.SortedFieldNames()) {
		oldF, inOld := old.Field(name)
		curF, inCur := cur.Field(name)
		switch {
		case inCur && !inOld:
			f := curF
			cs.Changes = append(cs.Changes, Change{Op: OpAddField, Field: &f})
			// Declared alter fragments apply to a freshly added column
			// too; the ADD COLUMN fragment covers onAdd only.
			if len(curF.AlterOps) > 0 {
				cs.Changes = append(cs.Changes, Change{Op: OpAlterField, FieldName: name, AlterOps: append([]string(nil), curF.AlterOps...)})
			}
			if curF.Unique {
				cs.Changes = append(cs.Changes, Change{Op: OpAddUnique, FieldName: name})
			}
			cs.Changes = append(cs.Changes, indexChanges(schema.FieldSpec{Name: name}, curF)...)
		case inOld && !inCur:
			// Indexes and the unique constraint referencing the column go
			// first; the generator orders drops before column drops
			// anyway, but the record order stays deterministic.
			for _, spec := range declaredIndexes(oldF) {
				cs.Changes = append(cs.Changes, Change{Op: OpDropIndex, FieldName: name, IndexKind: spec.String()})
			}
			if oldF.Unique {
				cs.Changes = append(cs.Changes, Change{Op: OpDropUnique, FieldName: name})
			}
			cs.Changes = append(cs.Changes, Change{Op: OpDropField, FieldName: name, OnDrop: oldF.OnDrop})
		default:
			if !oldF.Equal(curF) {
				if ops := alterOps(oldF, curF); len(ops) > 0 {
					cs.Changes = append(cs.Changes, Change{Op: OpAlterField, FieldName: name, AlterOps: ops})
				}
			}
			if oldF.Unique != curF.Unique {
				if curF.Unique {
					cs.Changes = append(cs.Changes, Change{Op: OpAddUnique, FieldName: name})
				} else {
					cs.Changes = append(cs.Changes, Change{Op: OpDropUnique, FieldName: name})
				}
			}
			cs.Changes = append(cs.Changes, indexChanges(oldF, curF)...)
		}
	}

	for _, name := range unionSorted(old.SortedGroupNames(), cur.SortedGroupNames()) {
		oldG, inOld := old.Group(name)
		curG, inCur := cur.Group(name)
		switch {
		case inCur && !inOld:
			g := curG
			cs.Changes = append(cs.Changes, Change{Op: OpAddUniqueGroup, Group: &g})
		case inOld && !inCur:
			cs.Changes = append(cs.Changes, Change{Op: OpDropUniqueGroup, GroupName: oldG.Name})
		default:
			if !oldG.Equal(curG) {
				g := curG
				cs.Changes = append(cs.Changes, Change{Op: OpModifyUniqueGroup, Group: &g})
			}
		}
	}

	return cs, nil
}

// alterOps derives the ALTER COLUMN fragments for a modified field. A type
// change becomes a TYPE fragment; changed declared alter options are
// re-emitted wholesale since their DDL is idempotent per field.
func alterOps(old, cur schema.FieldSpec) []string {
	var ops []string
	if old.SQLType != cur.SQLType {
		ops = append(ops, "TYPE "+cur.SQLType)
	}
	if !stringsEqual(old.AlterOps, cur.AlterOps) {
		ops = append(ops, cur.AlterOps...)
	}
	return ops
}

// indexChanges compares declared index kinds per field. A removal marker in
// the current spec is an unconditional, idempotent drop instruction
// regardless of what the old snapshot lists.
func indexChanges(old, cur schema.FieldSpec) []Change {
	oldKinds := map[string]bool{}
	for _, s := range declaredIndexes(old) {
		oldKinds[s.String()] = true
	}
	var out []Change
	dropped := map[string]bool{}

	curSpecs, _ := cur.IndexSpecs() // validated at describe time
	for _, s := range curSpecs {
		if !s.Remove {
			continue
		}
		kind := schema.IndexSpec{Kind: s.Kind, OpClass: s.OpClass}.String()
		if !dropped[kind] {
			dropped[kind] = true
			out = append(out, Change{Op: OpDropIndex, FieldName: cur.Name, IndexKind: kind})
		}
	}
	curKinds := map[string]bool{}
	for _, s := range declaredIndexes(cur) {
		kind := s.String()
		curKinds[kind] = true
		if !oldKinds[kind] {
			out = append(out, Change{Op: OpAddIndex, FieldName: cur.Name, IndexKind: kind})
		}
	}
	for _, s := range declaredIndexes(old) {
		kind := s.String()
		if !curKinds[kind] && !dropped[kind] {
			out = append(out, Change{Op: OpDropIndex, FieldName: old.Name, IndexKind: kind})
		}
	}
	return out
}

// declaredIndexes returns the field's index specs minus removal markers, in
// declaration order.
func declaredIndexes(f schema.FieldSpec) []schema.IndexSpec {
	specs, _ := f.IndexSpecs()
	var out []schema.IndexSpec
	for _, s := range specs {
		if !s.Remove {
			out = append(out, s)
		}
	}
	return out
}

func unionSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
