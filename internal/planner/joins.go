package planner

import (
	"fmt"

	"relmap/internal/lookup"
	"relmap/internal/schema"
)

// JoinStep is one join in a plan, identified by (base entity, foreign key,
// target entity, parent alias).
type JoinStep struct {
	Alias       string
	ParentAlias string
	Base        *schema.Entity
	Column      *schema.Column
	Target      *schema.Entity
	// Outer is set when any foreign key on the chain from the root is nullable.
	Outer bool
}

// JoinType returns the SQL join keyword for the step.
func (s *JoinStep) JoinType() string {
	if s.Outer {
		return "LEFT JOIN"
	}
	return "INNER JOIN"
}

type stepKey struct {
	base   *schema.Entity
	column string
	target *schema.Entity
	parent string
}

// JoinPlan accumulates the joins required by one compiled query.
type JoinPlan struct {
	Root      *schema.Entity
	RootAlias string

	steps   []*JoinStep
	index   map[stepKey]*JoinStep
	byAlias map[string]*JoinStep
	counter int
}

// NewJoinPlan starts a plan rooted at the given entity. The root alias is the
// root table name.
func NewJoinPlan(root *schema.Entity) *JoinPlan {
	return &JoinPlan{
		Root:      root,
		RootAlias: root.Table,
		index:     make(map[stepKey]*JoinStep),
		byAlias:   make(map[string]*JoinStep),
	}
}

// Resolve walks the path hop by hop, reusing an existing step when the same
// foreign key is followed from the same parent alias, and returns the alias the
// terminal column lives under. An empty path resolves to the root alias.
func (p *JoinPlan) Resolve(path []lookup.Hop) string {
	alias := p.RootAlias
	outer := false
	for _, hop := range path {
		outer = outer || hop.Column.Nullable
		key := stepKey{base: hop.Entity, column: hop.Column.Name, target: hop.Target(), parent: alias}
		if step, ok := p.index[key]; ok {
			alias = step.Alias
			continue
		}
		step := &JoinStep{
			Alias:       p.nextAlias(hop.Target().Table),
			ParentAlias: alias,
			Base:        hop.Entity,
			Column:      hop.Column,
			Target:      hop.Target(),
			Outer:       outer,
		}
		p.steps = append(p.steps, step)
		p.index[key] = step
		p.byAlias[step.Alias] = step
		alias = step.Alias
	}
	return alias
}

// nextAlias numbers aliases per plan, skipping any name already taken by the
// root or an earlier step.
func (p *JoinPlan) nextAlias(table string) string {
	for {
		p.counter++
		alias := fmt.Sprintf("%s_%d", table, p.counter)
		if _, taken := p.byAlias[alias]; !taken && alias != p.RootAlias {
			return alias
		}
	}
}

// Steps returns the join steps in the order they were first requested.
func (p *JoinPlan) Steps() []*JoinStep {
	out := make([]*JoinStep, len(p.steps))
	copy(out, p.steps)
	return out
}

// Children returns the steps attached directly to parentAlias, in plan order.
func (p *JoinPlan) Children(parentAlias string) []*JoinStep {
	var out []*JoinStep
	for _, step := range p.steps {
		if step.ParentAlias == parentAlias {
			out = append(out, step)
		}
	}
	return out
}

// HasOuter reports whether any step is an outer join.
func (p *JoinPlan) HasOuter() bool {
	for _, step := range p.steps {
		if step.Outer {
			return true
		}
	}
	return false
}

// ProjectedColumn is one selected column and the alias it is read from.
type ProjectedColumn struct {
	Alias  string
	Column *schema.Column
}

// Projection lists the root columns in declaration order followed by each
// step's target columns, steps in plan order.
func (p *JoinPlan) Projection() []ProjectedColumn {
	out := make([]ProjectedColumn, 0, len(p.Root.Columns))
	for _, col := range p.Root.Columns {
		out = append(out, ProjectedColumn{Alias: p.RootAlias, Column: col})
	}
	for _, step := range p.steps {
		for _, col := range step.Target.Columns {
			out = append(out, ProjectedColumn{Alias: step.Alias, Column: col})
		}
	}
	return out
}
