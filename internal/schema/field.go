package schema

import (
	"fmt"
	"strings"
)

// ReservedPrefix marks internal identifiers. Field names declared with this
// prefix are rejected so generated constraint names can never collide with a
// real column.
const ReservedPrefix = "__"

// RemoveMarker prefixes an index kind that is flagged for deletion.
const RemoveMarker = "-"

// FieldSpec describes one column of a model's table. The name is the
// immutable identity used for diffing; reordering fields never produces a
// change.
type FieldSpec struct {
	Name     string   `json:"column_name"`
	SQLType  string   `json:"sql_type"`
	OnAdd    string   `json:"sql_onadd,omitempty"`
	OnDrop   string   `json:"sql_ondrop,omitempty"`
	AlterOps []string `json:"sql_alter,omitempty"`
	Indexes  []string `json:"index,omitempty"`
	Unique   bool     `json:"unique,omitempty"`
}

// IndexSpec is the parsed form of one entry in FieldSpec.Indexes. The string
// form is "kind", "kind:opclass" or "-kind" where the leading dash flags the
// kind for removal.
type IndexSpec struct {
	Kind    string
	OpClass string
	Remove  bool
}

// ParseIndexSpec parses the string form of an index specification.
func ParseIndexSpec(s string) (IndexSpec, error) {
	spec := IndexSpec{}
	raw := strings.TrimSpace(s)
	if strings.HasPrefix(raw, RemoveMarker) {
		spec.Remove = true
		raw = raw[len(RemoveMarker):]
	}
	kind, opclass, found := strings.Cut(raw, ":")
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return IndexSpec{}, fmt.Errorf("invalid index spec %q: empty kind", s)
	}
	spec.Kind = kind
	if found {
		spec.OpClass = strings.TrimSpace(opclass)
	}
	return spec, nil
}

func (s IndexSpec) String() string {
	out := s.Kind
	if s.OpClass != "" {
		out += ":" + s.OpClass
	}
	if s.Remove {
		out = RemoveMarker + out
	}
	return out
}

// IndexSpecs parses every index entry declared on the field.
func (f FieldSpec) IndexSpecs() ([]IndexSpec, error) {
	if len(f.Indexes) == 0 {
		return nil, nil
	}
	specs := make([]IndexSpec, 0, len(f.Indexes))
	for _, raw := range f.Indexes {
		spec, err := ParseIndexSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Equal reports structural equality of two field specifications.
func (f FieldSpec) Equal(o FieldSpec) bool {
	return f.Name == o.Name &&
		f.SQLType == o.SQLType &&
		f.OnAdd == o.OnAdd &&
		f.OnDrop == o.OnDrop &&
		f.Unique == o.Unique &&
		equalStrings(f.AlterOps, o.AlterOps) &&
		equalStrings(f.Indexes, o.Indexes)
}

// UniqueGroup is a named composite uniqueness constraint. Field order is
// semantically significant and is part of equality.
type UniqueGroup struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

func (g UniqueGroup) Equal(o UniqueGroup) bool {
	return g.Name == o.Name && equalStrings(g.Fields, o.Fields)
}

func equalStrings(a, b []string) bool {
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
