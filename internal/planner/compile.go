package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relmap/internal/lookup"
	"relmap/internal/queryerr"
	"relmap/internal/schema"
	"relmap/internal/sqlutil"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// QuerySpec is everything a row set has accumulated before compilation.
type QuerySpec struct {
	Entity    *schema.Entity
	Filters   []Condition
	OrFilters []Condition
	Excludes  []Condition
	// EagerAll loads every direct foreign key of the root entity.
	EagerAll  bool
	EagerLoad []string
	Ordering  []string
	Limit     *uint64
	Offset    uint64
}

// Clone returns a copy whose slices can be appended to independently.
func (s QuerySpec) Clone() QuerySpec {
	out := s
	out.Filters = append([]Condition(nil), s.Filters...)
	out.OrFilters = append([]Condition(nil), s.OrFilters...)
	out.Excludes = append([]Condition(nil), s.Excludes...)
	out.EagerLoad = append([]string(nil), s.EagerLoad...)
	out.Ordering = append([]string(nil), s.Ordering...)
	if s.Limit != nil {
		limit := *s.Limit
		out.Limit = &limit
	}
	return out
}

// Compiled is a statement plus the join plan and projection needed to read its rows.
type Compiled struct {
	SQLQuery
	Plan       *JoinPlan
	Projection []ProjectedColumn
}

// Compiler turns query specs into SQL for one dialect.
type Compiler struct {
	dialect sqlutil.Dialect
}

// New returns a compiler for the dialect.
func New(dialect sqlutil.Dialect) *Compiler {
	return &Compiler{dialect: dialect}
}

// Dialect returns the compiler's SQL dialect.
func (c *Compiler) Dialect() sqlutil.Dialect {
	return c.dialect
}

// CompileSelect builds the SELECT for spec. Clauses are resolved in a fixed
// order: WHERE (which registers condition joins), eager-load joins, FROM/JOIN,
// ORDER BY, then LIMIT/OFFSET.
func (c *Compiler) CompileSelect(spec QuerySpec) (Compiled, error) {
	if spec.Entity == nil {
		return Compiled{}, queryerr.Invalid("query has no entity")
	}
	plan := NewJoinPlan(spec.Entity)

	where := whereBuilder{dialect: c.dialect, plan: plan}
	whereSQL, whereArgs, err := where.build(spec)
	if err != nil {
		return Compiled{}, err
	}

	if err := c.resolveEagerLoads(plan, spec); err != nil {
		return Compiled{}, err
	}

	orderBy, err := c.orderByClauses(spec)
	if err != nil {
		return Compiled{}, err
	}

	projection := plan.Projection()
	columns := make([]string, len(projection))
	for i, pc := range projection {
		columns[i] = c.dialect.Column(pc.Alias, pc.Column.Name)
	}

	builder := sq.Select(columns...).From(c.tableRef(spec.Entity, plan.RootAlias))
	for _, step := range plan.Steps() {
		builder = builder.JoinClause(c.joinClause(step))
	}
	if whereSQL != "" {
		builder = builder.Where(sq.Expr(whereSQL, whereArgs...))
	}
	builder = builder.OrderBy(orderBy...)
	if spec.Limit != nil {
		builder = builder.Limit(*spec.Limit)
	}
	if spec.Offset > 0 {
		builder = builder.Offset(spec.Offset)
	}

	query, args, err := builder.PlaceholderFormat(c.dialect.Placeholder()).ToSql()
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{
		SQLQuery:   SQLQuery{SQL: query, Args: args},
		Plan:       plan,
		Projection: projection,
	}, nil
}

// CompileDelete builds the DELETE form of spec's condition set. It removes
// exactly the rows CompileSelect would return for the same conditions. Eager
// loads and ordering are ignored; pagination is rejected.
func (c *Compiler) CompileDelete(spec QuerySpec) (SQLQuery, error) {
	if spec.Entity == nil {
		return SQLQuery{}, queryerr.Invalid("query has no entity")
	}
	if spec.Limit != nil || spec.Offset > 0 {
		return SQLQuery{}, queryerr.Invalid("cannot delete a sliced row set")
	}
	plan := NewJoinPlan(spec.Entity)

	where := whereBuilder{dialect: c.dialect, plan: plan}
	whereSQL, whereArgs, err := where.build(spec)
	if err != nil {
		return SQLQuery{}, err
	}

	var sb strings.Builder
	steps := plan.Steps()
	rootAlias := c.dialect.QuoteIdentifier(plan.RootAlias)

	switch {
	case c.dialect == sqlutil.MySQL:
		fmt.Fprintf(&sb, "DELETE %s FROM %s", rootAlias, c.tableRef(spec.Entity, plan.RootAlias))
		c.writeJoins(&sb, steps)
		writeWhere(&sb, whereSQL)
	case plan.HasOuter():
		// USING cannot express an outer join; select the keys with the
		// same joins the SELECT uses instead.
		pk := c.dialect.QuoteIdentifier(spec.Entity.PrimaryKey.Name)
		fmt.Fprintf(&sb, "DELETE FROM %s WHERE %s IN (SELECT %s FROM %s",
			c.dialect.QualifiedTable(spec.Entity.Schema, spec.Entity.Table),
			pk,
			c.dialect.Column(plan.RootAlias, spec.Entity.PrimaryKey.Name),
			c.tableRef(spec.Entity, plan.RootAlias),
		)
		c.writeJoins(&sb, steps)
		writeWhere(&sb, whereSQL)
		sb.WriteString(")")
	default:
		fmt.Fprintf(&sb, "DELETE FROM %s", c.tableRef(spec.Entity, plan.RootAlias))
		predicates := make([]string, 0, len(steps)+1)
		if len(steps) > 0 {
			using := make([]string, len(steps))
			for i, step := range steps {
				using[i] = c.tableRef(step.Target, step.Alias)
				predicates = append(predicates, c.joinCondition(step))
			}
			sb.WriteString(" USING ")
			sb.WriteString(strings.Join(using, ", "))
		}
		if whereSQL != "" {
			predicates = append(predicates, whereSQL)
		}
		writeWhere(&sb, strings.Join(predicates, " AND "))
	}

	query, err := c.dialect.Placeholder().ReplacePlaceholders(sb.String())
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: whereArgs}, nil
}

func (c *Compiler) writeJoins(sb *strings.Builder, steps []*JoinStep) {
	for _, step := range steps {
		sb.WriteString(" ")
		sb.WriteString(c.joinClause(step))
	}
}

func writeWhere(sb *strings.Builder, where string) {
	if where == "" {
		return
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(where)
}

func (c *Compiler) resolveEagerLoads(plan *JoinPlan, spec QuerySpec) error {
	if spec.EagerAll {
		for _, fk := range spec.Entity.ForeignKeys() {
			plan.Resolve([]lookup.Hop{{Entity: spec.Entity, Column: fk}})
		}
	}
	for _, path := range spec.EagerLoad {
		hops, err := lookup.ParsePath(spec.Entity, path)
		if err != nil {
			return err
		}
		plan.Resolve(hops)
	}
	return nil
}

func (c *Compiler) tableRef(entity *schema.Entity, alias string) string {
	return c.dialect.QualifiedTable(entity.Schema, entity.Table) + " AS " + c.dialect.QuoteIdentifier(alias)
}

func (c *Compiler) joinCondition(step *JoinStep) string {
	return fmt.Sprintf("%s = %s",
		c.dialect.Column(step.Alias, step.Target.PrimaryKey.Name),
		c.dialect.Column(step.ParentAlias, step.Column.Name),
	)
}

func (c *Compiler) joinClause(step *JoinStep) string {
	return fmt.Sprintf("%s %s ON %s", step.JoinType(), c.tableRef(step.Target, step.Alias), c.joinCondition(step))
}
