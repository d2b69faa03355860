// Package sqlutil provides SQL dialect helpers: identifier quoting, placeholder
// formats and LIKE pattern escaping.
package sqlutil

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects the SQL flavor emitted by the compiler.
type Dialect int

const (
	// Postgres is the default dialect: double-quoted identifiers and $n placeholders.
	Postgres Dialect = iota
	// MySQL covers MySQL and TiDB: backtick identifiers and ? placeholders.
	MySQL
)

// ParseDialect maps a configured driver or dialect name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "tidb":
		return MySQL, nil
	default:
		return Postgres, fmt.Errorf("unsupported SQL dialect %q", name)
	}
}

func (d Dialect) String() string {
	if d == MySQL {
		return "mysql"
	}
	return "postgres"
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, alias)
// and escapes any embedded quote characters by doubling them.
func (d Dialect) QuoteIdentifier(name string) string {
	if d == MySQL {
		return QuoteIdentifier(name)
	}
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// QualifiedTable returns schema.table, omitting the schema when empty.
func (d Dialect) QualifiedTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

// Column returns alias.column with both parts quoted.
func (d Dialect) Column(alias, column string) string {
	if alias == "" {
		return d.QuoteIdentifier(column)
	}
	return d.QuoteIdentifier(alias) + "." + d.QuoteIdentifier(column)
}

// Placeholder returns the squirrel placeholder format for the dialect.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == MySQL {
		return sq.Question
	}
	return sq.Dollar
}

// SupportsReturning reports whether INSERT can return generated keys inline.
func (d Dialect) SupportsReturning() bool {
	return d == Postgres
}

// QuoteIdentifier quotes a SQL identifier with backticks and escapes any
// backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE wildcards so the value matches literally.
// Both dialects use backslash as the default LIKE escape character.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
