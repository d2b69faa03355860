package materialize

import (
	"fmt"

	"relmap/internal/planner"
	"relmap/internal/schema"
)

// Materialize rebuilds the root object of one row. projection and row must be
// the same length and in the order the compiled query selected them.
func Materialize(plan *planner.JoinPlan, projection []planner.ProjectedColumn, row []any, loader Loader) (*Object, error) {
	if len(projection) != len(row) {
		return nil, fmt.Errorf("row has %d values, projection has %d columns", len(row), len(projection))
	}

	byAlias := make(map[string]map[string]any)
	for i, pc := range projection {
		value, err := pc.Column.Kind.Convert(row[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s.%s: %w", pc.Alias, pc.Column.Name, err)
		}
		values, ok := byAlias[pc.Alias]
		if !ok {
			values = make(map[string]any)
			byAlias[pc.Alias] = values
		}
		values[pc.Column.Name] = value
	}

	m := materializer{
		plan:     plan,
		byAlias:  byAlias,
		consumed: make(map[*planner.JoinStep]bool),
		loader:   loader,
	}
	return m.build(plan.RootAlias, plan.Root)
}

type materializer struct {
	plan     *planner.JoinPlan
	byAlias  map[string]map[string]any
	consumed map[*planner.JoinStep]bool
	loader   Loader
}

func (m *materializer) build(alias string, entity *schema.Entity) (*Object, error) {
	values := m.byAlias[alias]
	children := m.plan.Children(alias)
	obj := New(entity, m.loader)

	for _, col := range entity.Columns {
		value := values[col.Name]
		if !col.IsForeignKey() {
			obj.values[col.Name] = value
			continue
		}

		step := m.claim(children, col)
		if step == nil {
			obj.refs[col.Name] = Unresolved(col.Target, value, m.loader)
			continue
		}
		// A left join that matched nothing leaves the related key NULL.
		if m.byAlias[step.Alias][step.Target.PrimaryKey.Name] == nil {
			obj.refs[col.Name] = Unresolved(col.Target, nil, m.loader)
			continue
		}
		nested, err := m.build(step.Alias, step.Target)
		if err != nil {
			return nil, err
		}
		obj.refs[col.Name] = Resolved(nested)
	}
	return obj, nil
}

// claim returns the first unconsumed step that follows col from the current
// alias and marks it consumed.
func (m *materializer) claim(children []*planner.JoinStep, col *schema.Column) *planner.JoinStep {
	for _, step := range children {
		if m.consumed[step] {
			continue
		}
		if step.Column == col && step.Target == col.Target {
			m.consumed[step] = true
			return step
		}
	}
	return nil
}
