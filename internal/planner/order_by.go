package planner

import (
	"strings"

	"relmap/internal/queryerr"
	"relmap/internal/schema"
)

// OrderBy is one ordering term on a root column.
type OrderBy struct {
	Column     *schema.Column
	Descending bool
}

// Direction returns ASC or DESC.
func (o OrderBy) Direction() string {
	if o.Descending {
		return "DESC"
	}
	return "ASC"
}

// ParseOrderBy resolves ordering keys against entity. A leading "-" means
// descending; "pk" names the primary key. Keys crossing a join are rejected.
func ParseOrderBy(entity *schema.Entity, keys []string) ([]OrderBy, error) {
	if len(keys) == 0 {
		return []OrderBy{{Column: entity.PrimaryKey}}, nil
	}

	out := make([]OrderBy, 0, len(keys))
	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		descending := strings.HasPrefix(key, "-")
		key = strings.TrimPrefix(key, "-")
		if key == "" {
			return nil, queryerr.Invalid("empty ordering key")
		}
		if strings.Contains(key, "__") {
			return nil, queryerr.Invalid("ordering by %s: ordering across a relation is not supported", raw)
		}
		col, ok := entity.Column(key)
		if !ok {
			return nil, queryerr.Invalid("ordering by %s: %s has no column %s", raw, entity.Name, key)
		}
		out = append(out, OrderBy{Column: col, Descending: descending})
	}
	return out, nil
}

func (c *Compiler) orderByClauses(spec QuerySpec) ([]string, error) {
	terms, err := ParseOrderBy(spec.Entity, spec.Ordering)
	if err != nil {
		return nil, err
	}
	rootAlias := spec.Entity.Table
	clauses := make([]string, len(terms))
	for i, term := range terms {
		clauses[i] = c.dialect.Column(rootAlias, term.Column.Name) + " " + term.Direction()
	}
	return clauses, nil
}
