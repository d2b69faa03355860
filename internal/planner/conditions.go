package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/spf13/cast"

	"relmap/internal/lookup"
	"relmap/internal/queryerr"
	"relmap/internal/sqltype"
	"relmap/internal/sqlutil"
)

// Condition is one lookup key and the value it is compared against.
type Condition struct {
	Key   string
	Value any
}

// Conditions converts a key/value map into conditions ordered by key.
func Conditions(values map[string]any) []Condition {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Condition, len(keys))
	for i, key := range keys {
		out[i] = Condition{Key: key, Value: values[key]}
	}
	return out
}

// whereBuilder assembles the WHERE clause and resolves condition joins as it goes.
type whereBuilder struct {
	dialect sqlutil.Dialect
	plan    *JoinPlan
}

// build returns "(o1 OR o2) AND f1 AND NOT (e1) AND NOT (e2)". Empty sets are
// skipped and an empty result means no WHERE clause. An exclusion over a
// value that may be NULL also keeps the NULL rows.
func (b *whereBuilder) build(spec QuerySpec) (string, []any, error) {
	var parts []string
	var args []any

	if len(spec.OrFilters) > 0 {
		var ors []string
		for _, cond := range spec.OrFilters {
			sql, condArgs, err := b.condition(cond)
			if err != nil {
				return "", nil, err
			}
			ors = append(ors, sql)
			args = append(args, condArgs...)
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}

	for _, cond := range spec.Filters {
		sql, condArgs, err := b.condition(cond)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, condArgs...)
	}

	for _, cond := range spec.Excludes {
		sql, condArgs, err := b.exclusion(cond)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, condArgs...)
	}

	return strings.Join(parts, " AND "), args, nil
}

func (b *whereBuilder) condition(cond Condition) (string, []any, error) {
	sql, args, _, err := b.resolve(cond)
	return sql, args, err
}

// exclusion negates cond. A row whose compared value is NULL never matches
// cond, so it stays in the excluded set.
func (b *whereBuilder) exclusion(cond Condition) (string, []any, error) {
	sql, args, nullable, err := b.resolve(cond)
	if err != nil {
		return "", nil, err
	}
	if nullable == "" {
		return "NOT (" + sql + ")", args, nil
	}
	return fmt.Sprintf("(NOT (%s) OR %s IS NULL)", sql, nullable), args, nil
}

// resolve renders cond and registers its joins. nullable is the qualified
// column when the comparison can evaluate to NULL, otherwise empty.
func (b *whereBuilder) resolve(cond Condition) (sql string, args []any, nullable string, err error) {
	lk, err := lookup.Parse(b.plan.Root, cond.Key, cond.Value)
	if err != nil {
		return "", nil, "", err
	}
	alias := b.plan.Resolve(lk.Path)
	col := b.dialect.Column(alias, lk.Column.Name)
	sql, args, err = buildColumnCondition(b.dialect, col, lk)
	if err != nil {
		return "", nil, "", err
	}
	if mayCompareNull(lk) {
		nullable = col
	}
	return sql, args, nullable, nil
}

func mayCompareNull(lk lookup.Lookup) bool {
	switch {
	case lk.Operator == lookup.OpIsNull:
		return false
	case lk.Value == nil && (lk.Operator == lookup.OpEqual || lk.Operator == lookup.OpExact):
		return false
	case lk.Column.Nullable:
		return true
	}
	for _, hop := range lk.Path {
		if hop.Column.Nullable {
			return true
		}
	}
	return false
}

// buildColumnCondition renders a single lookup against an already qualified column.
func buildColumnCondition(dialect sqlutil.Dialect, col string, lk lookup.Lookup) (string, []any, error) {
	switch lk.Operator {
	case lookup.OpEqual, lookup.OpExact:
		if lk.Value == nil {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{lk.Value}, nil
	case lookup.OpIExact:
		return fmt.Sprintf("UPPER(%s) = UPPER(?)", col), []any{lk.Value}, nil
	case lookup.OpGT:
		return col + " > ?", []any{lk.Value}, nil
	case lookup.OpGTE:
		return col + " >= ?", []any{lk.Value}, nil
	case lookup.OpLT:
		return col + " < ?", []any{lk.Value}, nil
	case lookup.OpLTE:
		return col + " <= ?", []any{lk.Value}, nil
	case lookup.OpIsNull:
		if truthy(lk.Value) {
			return col + " IS NULL", nil, nil
		}
		return col + " IS NOT NULL", nil, nil
	case lookup.OpContains, lookup.OpIContains,
		lookup.OpStartsWith, lookup.OpIStartsWith,
		lookup.OpEndsWith, lookup.OpIEndsWith:
		return buildLikeCondition(dialect, col, lk)
	case lookup.OpIn:
		return buildInCondition(dialect, col, lk)
	default:
		return "", nil, queryerr.Invalid("%s: unsupported operator %s", lk.Key, lk.Operator)
	}
}

func buildLikeCondition(dialect sqlutil.Dialect, col string, lk lookup.Lookup) (string, []any, error) {
	text, err := cast.ToStringE(lk.Value)
	if err != nil {
		return "", nil, queryerr.Invalid("%s: %v", lk.Key, err)
	}
	pattern := sqlutil.EscapeLike(text)
	switch lk.Operator {
	case lookup.OpContains, lookup.OpIContains:
		pattern = "%" + pattern + "%"
	case lookup.OpStartsWith, lookup.OpIStartsWith:
		pattern = pattern + "%"
	default:
		pattern = "%" + pattern
	}

	if !lk.Operator.CaseInsensitive() {
		return col + " LIKE ?", []any{pattern}, nil
	}
	if dialect == sqlutil.MySQL {
		return fmt.Sprintf("UPPER(%s) LIKE UPPER(?)", col), []any{pattern}, nil
	}
	return fmt.Sprintf("UPPER(%s) ILIKE ?", col), []any{pattern}, nil
}

func buildInCondition(dialect sqlutil.Dialect, col string, lk lookup.Lookup) (string, []any, error) {
	items, ok := lk.Value.([]any)
	if !ok {
		return "", nil, queryerr.Invalid("%s: the in operator requires a slice or array value", lk.Key)
	}

	if dialect == sqlutil.MySQL {
		if len(items) == 0 {
			return "(1=0)", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(items)), ",")
		return fmt.Sprintf("%s IN (%s)", col, placeholders), items, nil
	}

	array, err := typedArray(lk.Column.Kind, items)
	if err != nil {
		return "", nil, queryerr.Invalid("%s: %v", lk.Key, err)
	}
	return col + " = ANY(?)", []any{array}, nil
}

// typedArray converts the items to the column kind and wraps them as a
// Postgres array parameter.
func typedArray(kind sqltype.Kind, items []any) (any, error) {
	converted := make([]any, len(items))
	for i, item := range items {
		value, err := kind.Convert(item)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, fmt.Errorf("in list cannot contain null")
		}
		converted[i] = value
	}

	switch kind {
	case sqltype.KindInteger:
		out := make([]int64, len(converted))
		for i, v := range converted {
			out[i] = v.(int64)
		}
		return pq.Array(out), nil
	case sqltype.KindFloat:
		out := make([]float64, len(converted))
		for i, v := range converted {
			out[i] = v.(float64)
		}
		return pq.Array(out), nil
	case sqltype.KindBoolean:
		out := make([]bool, len(converted))
		for i, v := range converted {
			out[i] = v.(bool)
		}
		return pq.Array(out), nil
	case sqltype.KindDate:
		out := make([]string, len(converted))
		for i, v := range converted {
			out[i] = v.(time.Time).Format("2006-01-02")
		}
		return pq.Array(out), nil
	case sqltype.KindTimestamp:
		out := make([]string, len(converted))
		for i, v := range converted {
			out[i] = v.(time.Time).Format(time.RFC3339Nano)
		}
		return pq.Array(out), nil
	default:
		out := make([]string, len(converted))
		for i, v := range converted {
			out[i] = v.(string)
		}
		return pq.Array(out), nil
	}
}

// truthy follows the usual scripting rules: nil, false, zero and empty are false.
func truthy(value any) bool {
	if value == nil {
		return false
	}
	if s, ok := value.(string); ok {
		if b, err := cast.ToBoolE(s); err == nil {
			return b
		}
		return s != ""
	}
	if b, err := cast.ToBoolE(value); err == nil {
		return b
	}
	if items, ok := lookup.Sequence(value); ok {
		return len(items) > 0
	}
	return true
}
