// Package sqlgen renders change sets as forward-only PostgreSQL DDL.
// Generation is pure and deterministic: the same change set always renders
// the same statement list, and every identifier is double-quoted.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/ormkit/morph/internal/diff"
	"github.com/ormkit/morph/internal/schema"
)

// Error reports a change record the generator cannot render. It is fatal
// before any migration unit is written, so a unit on disk always carries
// valid, runnable SQL.
type Error struct {
	Table  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("generate %s: %s", e.Table, e.Reason)
}

// QuoteIdent double-quotes an SQL identifier, escaping embedded quotes.
// Identifiers only ever come from the schema declaration, never from
// request data.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// UniqueConstraintName derives the constraint identifier for a unique
// group. The format is stable and part of the on-disk contract.
func UniqueConstraintName(table, group string) string {
	return fmt.Sprintf("__UNQ_%s_%s__", table, group)
}

// IndexName derives the index identifier from table, column and kind.
func IndexName(table, column, kind string) string {
	return fmt.Sprintf("__IDX_%s_%s_%s__", table, column, kind)
}

// Generate renders a change set as an ordered list of DDL statements.
// Incremental statements are emitted in dependency order: constraint and
// index drops first, then column drops, column adds, column alters, index
// adds, and finally constraint adds.
func Generate(table string, cs *diff.ChangeSet) ([]string, error) {
	if cs == nil {
		return nil, &Error{Table: table, Reason: "nil change set"}
	}
	if cs.Table != table {
		return nil, &Error{Table: table, Reason: fmt.Sprintf("change set targets table %q", cs.Table)}
	}
	if cs.Empty() {
		return nil, nil
	}
	if cs.IsCreate() {
		if cs.Changes[0].Snapshot == nil {
			return nil, &Error{Table: table, Reason: "create_table record missing snapshot"}
		}
		return CreateTable(cs.Changes[0].Snapshot), nil
	}

	var dropGroups, dropIndexes, dropFields, addFields, alterFields, addIndexes, addGroups []string

	for _, c := range cs.Changes {
		switch c.Op {
		case diff.OpCreateTable:
			return nil, &Error{Table: table, Reason: "create_table mixed with incremental changes"}
		case diff.OpDropUniqueGroup:
			dropGroups = append(dropGroups, dropConstraint(table, c.GroupName))
		case diff.OpModifyUniqueGroup:
			if c.Group == nil {
				return nil, &Error{Table: table, Reason: "modify_unique_group record missing group"}
			}
			// Always a drop-then-add pair: there is no portable single
			// statement for changing the participating columns.
			dropGroups = append(dropGroups, dropConstraint(table, c.Group.Name))
			addGroups = append(addGroups, addConstraint(table, *c.Group))
		case diff.OpDropIndex:
			spec, err := schema.ParseIndexSpec(c.IndexKind)
			if err != nil {
				return nil, &Error{Table: table, Reason: err.Error()}
			}
			dropIndexes = append(dropIndexes, fmt.Sprintf("DROP INDEX IF EXISTS %s;",
				QuoteIdent(IndexName(table, c.FieldName, spec.Kind))))
		case diff.OpDropField:
			stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QuoteIdent(table), QuoteIdent(c.FieldName))
			if c.OnDrop != "" {
				stmt += " " + c.OnDrop
			}
			dropFields = append(dropFields, stmt+";")
		case diff.OpAddField:
			if c.Field == nil {
				return nil, &Error{Table: table, Reason: "add_field record missing field"}
			}
			addFields = append(addFields, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s %s;",
				QuoteIdent(table), QuoteIdent(c.Field.Name), c.Field.SQLType, c.Field.OnAdd))
		case diff.OpAlterField:
			if len(c.AlterOps) == 0 {
				return nil, &Error{Table: table, Reason: fmt.Sprintf("alter_field %q carries no operations", c.FieldName)}
			}
			alterFields = append(alterFields, alterColumn(table, c.FieldName, c.AlterOps))
		case diff.OpAddUnique:
			addGroups = append(addGroups, addConstraint(table, columnUniqueGroup(c.FieldName)))
		case diff.OpDropUnique:
			dropGroups = append(dropGroups, dropConstraint(table, c.FieldName))
		case diff.OpAddIndex:
			spec, err := schema.ParseIndexSpec(c.IndexKind)
			if err != nil {
				return nil, &Error{Table: table, Reason: err.Error()}
			}
			addIndexes = append(addIndexes, createIndex(table, c.FieldName, spec))
		case diff.OpAddUniqueGroup:
			if c.Group == nil {
				return nil, &Error{Table: table, Reason: "add_unique_group record missing group"}
			}
			addGroups = append(addGroups, addConstraint(table, *c.Group))
		default:
			return nil, &Error{Table: table, Reason: fmt.Sprintf("unknown change op %q", c.Op)}
		}
	}

	var out []string
	out = append(out, dropGroups...)
	out = append(out, dropIndexes...)
	out = append(out, dropFields...)
	out = append(out, addFields...)
	out = append(out, alterFields...)
	out = append(out, addIndexes...)
	out = append(out, addGroups...)
	return out, nil
}

// CreateTable renders the full-create path: one CREATE TABLE statement with
// every field, then one ALTER COLUMN statement per field that declares
// alter options, then one ADD CONSTRAINT per unique field and per unique
// group in declaration order. Constraints come last so they only ever
// reference columns that already exist in the batch.
func CreateTable(snap *schema.Snapshot) []string {
	cols := make([]string, 0, len(snap.Fields))
	var alters, uniques []string
	for _, f := range snap.Fields {
		cols = append(cols, fmt.Sprintf("    %s %s %s", QuoteIdent(f.Name), f.SQLType, f.OnAdd))
		if len(f.AlterOps) > 0 {
			alters = append(alters, alterColumn(snap.Table, f.Name, f.AlterOps))
		}
		if f.Unique {
			uniques = append(uniques, addConstraint(snap.Table, columnUniqueGroup(f.Name)))
		}
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n%s\n);", QuoteIdent(snap.Table), strings.Join(cols, ",\n"))}
	stmts = append(stmts, alters...)
	stmts = append(stmts, uniques...)
	for _, g := range snap.UniqueGroups {
		stmts = append(stmts, addConstraint(snap.Table, g))
	}
	return stmts
}

// columnUniqueGroup treats a field's unique flag as a one-column constraint
// so it gets a derived name and can be dropped when the flag is cleared.
// Validation keeps group names disjoint from field names, so the derived
// identifiers never collide.
func columnUniqueGroup(field string) schema.UniqueGroup {
	return schema.UniqueGroup{Name: field, Fields: []string{field}}
}

// alterColumn joins all fragments for one field into a single statement,
// one ALTER COLUMN clause per fragment.
func alterColumn(table, field string, ops []string) string {
	clauses := make([]string, len(ops))
	for i, op := range ops {
		clauses[i] = fmt.Sprintf("ALTER COLUMN %s %s", QuoteIdent(field), op)
	}
	return fmt.Sprintf("ALTER TABLE %s %s;", QuoteIdent(table), strings.Join(clauses, ", "))
}

func createIndex(table, field string, spec schema.IndexSpec) string {
	col := QuoteIdent(field)
	if spec.OpClass != "" {
		col += " " + spec.OpClass
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s USING %s (%s);",
		QuoteIdent(IndexName(table, field, spec.Kind)), QuoteIdent(table), spec.Kind, col)
}

func dropConstraint(table, group string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;",
		QuoteIdent(table), QuoteIdent(UniqueConstraintName(table, group)))
}

func addConstraint(table string, g schema.UniqueGroup) string {
	cols := make([]string, len(g.Fields))
	for i, f := range g.Fields {
		cols[i] = QuoteIdent(f)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s);",
		QuoteIdent(table), QuoteIdent(UniqueConstraintName(table, g.Name)), strings.Join(cols, ", "))
}
