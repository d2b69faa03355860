// Package schema holds the static per-entity metadata the query compiler and the
// materializer work from: table identity, ordered columns, the primary key, and the
// foreign-key graph between entities.
//
// Descriptors are declared once (in Go or YAML), validated by NewRegistry and never
// mutated afterwards, so a Registry can be shared by any number of goroutines.
package schema

import (
	"strings"

	"relmap/internal/sqltype"
)

// PKAlias is the lookup name that always resolves to an entity's primary key.
const PKAlias = "pk"

// Column describes one mapped column.
type Column struct {
	Name       string
	Kind       sqltype.Kind
	Nullable   bool
	Unique     bool
	PrimaryKey bool
	MaxLength  int
	// Target is the referenced entity for foreign-key columns, nil otherwise.
	// The column's own name is the join key on the referencing side.
	Target *Entity
}

// IsForeignKey reports whether the column references another entity.
func (c *Column) IsForeignKey() bool {
	return c.Target != nil
}

// Entity describes one mapped table.
type Entity struct {
	Name       string
	Schema     string
	Table      string
	Columns    []*Column
	PrimaryKey *Column

	byName map[string]*Column
}

// Column finds a column by name. Names are matched case-insensitively and
// "pk" resolves to the primary key.
func (e *Entity) Column(name string) (*Column, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == PKAlias {
		return e.PrimaryKey, e.PrimaryKey != nil
	}
	col, ok := e.byName[normalized]
	return col, ok
}

// ForeignKey finds a foreign-key column by name.
func (e *Entity) ForeignKey(name string) (*Column, bool) {
	col, ok := e.Column(name)
	if !ok || !col.IsForeignKey() {
		return nil, false
	}
	return col, true
}

// ForeignKeys returns the foreign-key columns in declaration order.
func (e *Entity) ForeignKeys() []*Column {
	var out []*Column
	for _, col := range e.Columns {
		if col.IsForeignKey() {
			out = append(out, col)
		}
	}
	return out
}

// ColumnNames returns column names in declaration order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, col := range e.Columns {
		names[i] = col.Name
	}
	return names
}

// QualifiedName returns schema.table, or just the table when no schema is set.
func (e *Entity) QualifiedName() string {
	if e.Schema == "" {
		return e.Table
	}
	return e.Schema + "." + e.Table
}
