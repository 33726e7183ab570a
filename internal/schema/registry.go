package schema

import (
	"strings"
)

// Model is the explicit declaration of one table-backed model: an ordered
// field list plus named unique groups. It replaces attribute introspection
// with a plain struct registered into a Registry.
type Model struct {
	Name         string
	Table        string // defaults to Name
	PrimaryKey   string // defaults to "id"
	Abstract     bool   // abstract models never reach the database
	Proxy        bool   // proxy models migrate through their concrete base
	Fields       []FieldSpec
	UniqueGroups []UniqueGroup
}

// TableName returns the effective table name.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// Describe flattens the declaration into a Snapshot, validating it first.
// All migration input flows through this one function; a model that fails
// here never produces a migration unit.
func Describe(m *Model) (*Snapshot, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Table:        m.TableName(),
		Fields:       make([]FieldSpec, len(m.Fields)),
		UniqueGroups: make([]UniqueGroup, len(m.UniqueGroups)),
	}
	copy(snap.Fields, m.Fields)
	copy(snap.UniqueGroups, m.UniqueGroups)
	return snap.Clone(), nil
}

// Validate checks the declaration without producing a snapshot.
func Validate(m *Model) error {
	if m.Name == "" {
		return declErr("(unnamed)", "model name is required")
	}
	if m.Abstract {
		return declErr(m.Name, "abstract model can not be in database")
	}
	if m.Proxy {
		return declErr(m.Name, "proxy model can not be migrated, migrate the concrete model instead")
	}
	if len(m.Fields) == 0 {
		return declErr(m.Name, "model declares no fields")
	}

	seen := make(map[string]struct{}, len(m.Fields))
	for _, f := range m.Fields {
		if f.Name == "" {
			return declErr(m.Name, "field with empty name")
		}
		if strings.HasPrefix(f.Name, ReservedPrefix) {
			return declErr(m.Name, "field name %q uses reserved prefix %q", f.Name, ReservedPrefix)
		}
		if _, dup := seen[f.Name]; dup {
			return declErr(m.Name, "duplicate field name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.SQLType == "" {
			return declErr(m.Name, "field %q has no sql type", f.Name)
		}
		if _, err := f.IndexSpecs(); err != nil {
			return declErr(m.Name, "%v", err)
		}
	}

	if m.PrimaryKey != "" {
		if _, ok := seen[m.PrimaryKey]; !ok {
			return declErr(m.Name, "primary key %q is not a declared field", m.PrimaryKey)
		}
	}

	groups := make(map[string]struct{}, len(m.UniqueGroups))
	for _, g := range m.UniqueGroups {
		if g.Name == "" {
			return declErr(m.Name, "unique group with empty name")
		}
		if _, dup := groups[g.Name]; dup {
			return declErr(m.Name, "duplicate unique group %q", g.Name)
		}
		// Single-column unique flags derive their constraint name from the
		// field name, so group names must stay disjoint from field names.
		if _, clash := seen[g.Name]; clash {
			return declErr(m.Name, "unique group %q collides with a field name", g.Name)
		}
		groups[g.Name] = struct{}{}
		if len(g.Fields) == 0 {
			return declErr(m.Name, "unique group %q has no fields", g.Name)
		}
		for _, fn := range g.Fields {
			if _, ok := seen[fn]; !ok {
				return declErr(m.Name, "unique group %q references unknown field %q", g.Name, fn)
			}
		}
	}
	return nil
}

// Registry is an explicit, ordered collection of model declarations passed
// to the migration engine. There is deliberately no package-level instance.
type Registry struct {
	models []*Model
	byName map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Model)}
}

// Register adds a model declaration. The declaration is validated eagerly
// so a bad model fails at registration, not mid-generation.
func (r *Registry) Register(m *Model) error {
	if err := Validate(m); err != nil {
		return err
	}
	if _, dup := r.byName[m.Name]; dup {
		return declErr(m.Name, "model registered twice")
	}
	r.models = append(r.models, m)
	r.byName[m.Name] = m
	return nil
}

// MustRegister is Register for static wiring; it panics on a declaration
// error.
func (r *Registry) MustRegister(m *Model) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Models returns declarations in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, len(r.models))
	copy(out, r.models)
	return out
}

// Get looks a model up by name.
func (r *Registry) Get(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Len reports the number of registered models.
func (r *Registry) Len() int { return len(r.models) }
