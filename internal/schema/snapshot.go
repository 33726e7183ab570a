package schema

import (
	"encoding/json"
	"sort"
)

// Snapshot is the serializable structural state of one model's table at a
// point in time: fields in declared order plus named unique groups in
// declaration order. Two snapshots are only ever compared within the same
// table.
type Snapshot struct {
	Table        string        `json:"db_table"`
	Fields       []FieldSpec   `json:"fields"`
	UniqueGroups []UniqueGroup `json:"unique_groups"`
}

// Field returns the spec for the named column, if present.
func (s *Snapshot) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Group returns the named unique group, if present.
func (s *Snapshot) Group(name string) (UniqueGroup, bool) {
	for _, g := range s.UniqueGroups {
		if g.Name == name {
			return g, true
		}
	}
	return UniqueGroup{}, false
}

// FieldNames returns column names in declared order.
func (s *Snapshot) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// SortedFieldNames returns column names in lexicographic order. Diffing
// walks fields in this order so output is deterministic regardless of
// declaration order.
func (s *Snapshot) SortedFieldNames() []string {
	names := s.FieldNames()
	sort.Strings(names)
	return names
}

// SortedGroupNames returns unique-group names in lexicographic order.
func (s *Snapshot) SortedGroupNames() []string {
	names := make([]string, len(s.UniqueGroups))
	for i, g := range s.UniqueGroups {
		names[i] = g.Name
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two snapshots describe the same structure. Field
// and group declaration order is ignored for fields (identity is by name)
// but respected inside each unique group.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Table != o.Table ||
		len(s.Fields) != len(o.Fields) ||
		len(s.UniqueGroups) != len(o.UniqueGroups) {
		return false
	}
	for _, f := range s.Fields {
		of, ok := o.Field(f.Name)
		if !ok || !f.Equal(of) {
			return false
		}
	}
	for _, g := range s.UniqueGroups {
		og, ok := o.Group(g.Name)
		if !ok || !g.Equal(og) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Table: s.Table}
	out.Fields = make([]FieldSpec, len(s.Fields))
	for i, f := range s.Fields {
		cp := f
		cp.AlterOps = append([]string(nil), f.AlterOps...)
		cp.Indexes = append([]string(nil), f.Indexes...)
		out.Fields[i] = cp
	}
	out.UniqueGroups = make([]UniqueGroup, len(s.UniqueGroups))
	for i, g := range s.UniqueGroups {
		out.UniqueGroups[i] = UniqueGroup{Name: g.Name, Fields: append([]string(nil), g.Fields...)}
	}
	return out
}

// MarshalSnapshot renders the snapshot as indented JSON for on-disk storage.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSnapshot parses a snapshot previously written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
