// Package lookup parses condition keys such as "bank__currency__code__startswith"
// into a foreign-key traversal path, a terminal column and an operator.
package lookup

import (
	"errors"
	"reflect"
	"strings"

	"relmap/internal/queryerr"
	"relmap/internal/schema"
)

// Separator splits the segments of a lookup key.
const Separator = "__"

// Operator is a comparison applied to the terminal column.
type Operator string

const (
	OpEqual       Operator = "="
	OpExact       Operator = "exact"
	OpIExact      Operator = "iexact"
	OpGT          Operator = "gt"
	OpGTE         Operator = "gte"
	OpLT          Operator = "lt"
	OpLTE         Operator = "lte"
	OpContains    Operator = "contains"
	OpIContains   Operator = "icontains"
	OpStartsWith  Operator = "startswith"
	OpIStartsWith Operator = "istartswith"
	OpEndsWith    Operator = "endswith"
	OpIEndsWith   Operator = "iendswith"
	OpIsNull      Operator = "isnull"
	OpIn          Operator = "in"
)

var operators = map[string]Operator{
	string(OpExact):       OpExact,
	string(OpIExact):      OpIExact,
	string(OpGT):          OpGT,
	string(OpGTE):         OpGTE,
	string(OpLT):          OpLT,
	string(OpLTE):         OpLTE,
	string(OpContains):    OpContains,
	string(OpIContains):   OpIContains,
	string(OpStartsWith):  OpStartsWith,
	string(OpIStartsWith): OpIStartsWith,
	string(OpEndsWith):    OpEndsWith,
	string(OpIEndsWith):   OpIEndsWith,
	string(OpIsNull):      OpIsNull,
	string(OpIn):          OpIn,
}

// ParseOperator reports whether segment names a lookup operator.
func ParseOperator(segment string) (Operator, bool) {
	op, ok := operators[segment]
	return op, ok
}

// CaseInsensitive reports whether the operator compares upper-cased values.
func (op Operator) CaseInsensitive() bool {
	switch op {
	case OpIExact, OpIContains, OpIStartsWith, OpIEndsWith:
		return true
	default:
		return false
	}
}

// Hop is one foreign-key traversal: Column is a foreign key on Entity.
type Hop struct {
	Entity *schema.Entity
	Column *schema.Column
}

// Target returns the entity reached by following the hop.
func (h Hop) Target() *schema.Entity {
	return h.Column.Target
}

// Lookup is a parsed condition.
type Lookup struct {
	Key      string
	Path     []Hop
	Entity   *schema.Entity
	Column   *schema.Column
	Operator Operator
	Value    any
}

// PrimaryKeyer is implemented by values that stand for a stored row. Lookups
// compare against the key rather than the object.
type PrimaryKeyer interface {
	PrimaryKeyValue() any
}

// Parse resolves key against root. A single segment is a root column compared
// with "=". Otherwise a trailing operator segment is split off and every
// segment before the column must be a foreign key on the entity reached so far.
func Parse(root *schema.Entity, key string, value any) (Lookup, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return Lookup{}, queryerr.Invalid("empty lookup key")
	}
	segments := strings.Split(normalized, Separator)
	for _, seg := range segments {
		if seg == "" {
			return Lookup{}, queryerr.Invalid("malformed lookup key %q", key)
		}
	}

	op := OpEqual
	if len(segments) > 1 {
		if parsed, ok := ParseOperator(segments[len(segments)-1]); ok {
			op = parsed
			segments = segments[:len(segments)-1]
		}
	}
	columnName := segments[len(segments)-1]
	pathNames := segments[:len(segments)-1]

	current := root
	path := make([]Hop, 0, len(pathNames))
	for _, name := range pathNames {
		fk, ok := current.ForeignKey(name)
		if !ok {
			return Lookup{}, queryerr.Invalid("%s: %s is not a foreign key of %s", key, name, current.Name)
		}
		path = append(path, Hop{Entity: current, Column: fk})
		current = fk.Target
	}

	column, ok := current.Column(columnName)
	if !ok {
		return Lookup{}, queryerr.Invalid("%s: %s has no column %s", key, current.Name, columnName)
	}

	normalizedValue, err := normalizeValue(op, value)
	if err != nil {
		return Lookup{}, queryerr.Invalid("%s: %v", key, err)
	}

	return Lookup{
		Key:      key,
		Path:     path,
		Entity:   current,
		Column:   column,
		Operator: op,
		Value:    normalizedValue,
	}, nil
}

func normalizeValue(op Operator, value any) (any, error) {
	if op != OpIn {
		return primaryKeyOf(value), nil
	}
	items, ok := Sequence(value)
	if !ok {
		return nil, errInNeedsSequence
	}
	for i, item := range items {
		items[i] = primaryKeyOf(item)
	}
	return items, nil
}

var errInNeedsSequence = errors.New("the in operator requires a slice or array value")

// Sequence flattens a slice or array into []any. Strings and byte slices are
// scalars, not sequences.
func Sequence(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if _, isBytes := value.([]byte); isBytes {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func primaryKeyOf(value any) any {
	if pk, ok := value.(PrimaryKeyer); ok && pk != nil {
		return pk.PrimaryKeyValue()
	}
	return value
}

// ParsePath resolves a foreign-key chain such as "bank__currency". Every segment
// must be a foreign key on the entity reached so far.
func ParsePath(root *schema.Entity, path string) ([]Hop, error) {
	normalized := strings.ToLower(strings.TrimSpace(path))
	if normalized == "" {
		return nil, queryerr.Invalid("empty relation path")
	}
	current := root
	var hops []Hop
	for _, name := range strings.Split(normalized, Separator) {
		fk, ok := current.ForeignKey(name)
		if !ok {
			return nil, queryerr.Invalid("%s: %s is not a foreign key of %s", path, name, current.Name)
		}
		hops = append(hops, Hop{Entity: current, Column: fk})
		current = fk.Target
	}
	return hops, nil
}
