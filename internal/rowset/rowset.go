package rowset

import (
	"context"
	"errors"

	"relmap/internal/dbexec"
	"relmap/internal/lookup"
	"relmap/internal/materialize"
	"relmap/internal/planner"
	"relmap/internal/queryerr"
)

// RowSet is a lazily evaluated query over one entity. Chain methods return a
// new RowSet and never touch the database; validation errors are held and
// returned by the first terminal call.
//
// Count materializes the full result and caches it on the row set. All,
// Iterate and Exists on the same row set then read the cache instead of
// querying again, so rows written after Count are not seen. Chain calls start
// from an empty cache and Delete clears it.
type RowSet struct {
	m     *Manager
	spec  planner.QuerySpec
	err   error
	cache []*materialize.Object
}

// Bounds is a slice request over a row set. A nil Stop leaves the end open.
// Step must be 0 or 1.
type Bounds struct {
	Start int
	Stop  *int
	Step  int
}

func (r *RowSet) clone() *RowSet {
	return &RowSet{m: r.m, spec: r.spec.Clone(), err: r.err}
}

func (r *RowSet) fail(err error) *RowSet {
	if r.err == nil {
		r.err = err
	}
	return r
}

func (r *RowSet) checkConditions(values map[string]any) error {
	if r.spec.Entity == nil {
		return nil
	}
	for key, value := range values {
		if _, err := lookup.Parse(r.spec.Entity, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Filter narrows the row set to rows matching every condition.
func (r *RowSet) Filter(conditions map[string]any) *RowSet {
	out := r.clone()
	if err := r.checkConditions(conditions); err != nil {
		return out.fail(err)
	}
	out.spec.Filters = append(out.spec.Filters, planner.Conditions(conditions)...)
	return out
}

// OrFilter adds conditions to the OR group. A row matches the group when it
// matches any one of its conditions.
func (r *RowSet) OrFilter(conditions map[string]any) *RowSet {
	out := r.clone()
	if err := r.checkConditions(conditions); err != nil {
		return out.fail(err)
	}
	out.spec.OrFilters = append(out.spec.OrFilters, planner.Conditions(conditions)...)
	return out
}

// Exclude drops rows matching any of the conditions.
func (r *RowSet) Exclude(conditions map[string]any) *RowSet {
	out := r.clone()
	if err := r.checkConditions(conditions); err != nil {
		return out.fail(err)
	}
	out.spec.Excludes = append(out.spec.Excludes, planner.Conditions(conditions)...)
	return out
}

// OrderBy replaces the ordering. "-name" sorts descending. Without an
// ordering rows come back by primary key.
func (r *RowSet) OrderBy(keys ...string) *RowSet {
	out := r.clone()
	if r.spec.Entity != nil {
		if _, err := planner.ParseOrderBy(r.spec.Entity, keys); err != nil {
			return out.fail(err)
		}
	}
	out.spec.Ordering = append([]string(nil), keys...)
	return out
}

// EagerLoad joins related objects into the same query. With no paths every
// direct foreign key is loaded; otherwise each path ("bank__currency") is.
func (r *RowSet) EagerLoad(paths ...string) *RowSet {
	out := r.clone()
	if len(paths) == 0 {
		out.spec.EagerAll = true
		return out
	}
	if r.spec.Entity != nil {
		for _, path := range paths {
			if _, err := lookup.ParsePath(r.spec.Entity, path); err != nil {
				return out.fail(err)
			}
		}
	}
	out.spec.EagerLoad = append(out.spec.EagerLoad, paths...)
	return out
}

// Range restricts the row set to [Start, Stop). It replaces any earlier slice.
func (r *RowSet) Range(b Bounds) *RowSet {
	out := r.clone()
	if b.Step != 0 && b.Step != 1 {
		return out.fail(queryerr.Invalid("range step %d is not supported", b.Step))
	}
	if b.Start < 0 {
		return out.fail(queryerr.Range("start %d is negative", b.Start))
	}
	out.spec.Offset = uint64(b.Start)
	out.spec.Limit = nil
	if b.Stop != nil {
		if *b.Stop < b.Start {
			return out.fail(queryerr.Range("stop %d before start %d", *b.Stop, b.Start))
		}
		limit := uint64(*b.Stop - b.Start)
		out.spec.Limit = &limit
	}
	return out
}

// Slice restricts the row set to rows start through stop-1.
func (r *RowSet) Slice(start, stop int) *RowSet {
	return r.Range(Bounds{Start: start, Stop: &stop})
}

// From skips the first start rows.
func (r *RowSet) From(start int) *RowSet {
	return r.Range(Bounds{Start: start})
}

// Compile returns the SELECT this row set runs, without executing it.
func (r *RowSet) Compile() (planner.Compiled, error) {
	if r.err != nil {
		return planner.Compiled{}, r.err
	}
	return r.m.compiler.CompileSelect(r.spec)
}

// CompileDelete returns the DELETE that Delete would run.
func (r *RowSet) CompileDelete() (planner.SQLQuery, error) {
	if r.err != nil {
		return planner.SQLQuery{}, r.err
	}
	return r.m.compiler.CompileDelete(r.spec)
}

// Index returns the row at position i.
func (r *RowSet) Index(ctx context.Context, i int) (*materialize.Object, error) {
	if r.err != nil {
		return nil, r.err
	}
	if i < 0 {
		return nil, queryerr.Range("index %d is negative", i)
	}
	if r.spec.Limit != nil && uint64(i) >= *r.spec.Limit {
		return nil, queryerr.NotFound(r.spec.Entity.Name)
	}
	one := r.clone()
	limit := uint64(1)
	one.spec.Limit = &limit
	one.spec.Offset = r.spec.Offset + uint64(i)

	var found *materialize.Object
	err := r.m.observe(ctx, "index", r.spec.Entity, func(ctx context.Context) (int64, error) {
		objects, err := one.fetch(ctx)
		if err != nil {
			return 0, err
		}
		if len(objects) == 0 {
			return 0, queryerr.NotFound(r.spec.Entity.Name)
		}
		found = objects[0]
		return 1, nil
	})
	return found, err
}

// All returns every row, from the Count cache when there is one.
func (r *RowSet) All(ctx context.Context) ([]*materialize.Object, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.cache != nil {
		return append([]*materialize.Object(nil), r.cache...), nil
	}
	var objects []*materialize.Object
	err := r.m.observe(ctx, "all", r.spec.Entity, func(ctx context.Context) (int64, error) {
		var err error
		objects, err = r.fetch(ctx)
		return int64(len(objects)), err
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// Iterate calls fn for each row. Rows are read in batches of the manager's
// fetch size. An error from fn stops the iteration and is returned.
//
// On a Session the whole result is read before fn is first called, since the
// session's single connection cannot serve lazy reference fetches while rows
// are still open.
func (r *RowSet) Iterate(ctx context.Context, fn func(*materialize.Object) error) error {
	if r.err != nil {
		return r.err
	}
	if r.cache != nil {
		for _, obj := range r.cache {
			if err := fn(obj); err != nil {
				return err
			}
		}
		return nil
	}
	return r.m.observe(ctx, "iterate", r.spec.Entity, func(ctx context.Context) (int64, error) {
		if r.m.scoped {
			objects, err := r.fetch(ctx)
			if err != nil {
				return 0, err
			}
			for i, obj := range objects {
				if err := fn(obj); err != nil {
					return int64(i + 1), err
				}
			}
			return int64(len(objects)), nil
		}
		var n int64
		err := r.stream(ctx, func(obj *materialize.Object) error {
			n++
			return fn(obj)
		})
		return n, err
	})
}

// Count returns the number of rows and caches them for All and Iterate.
func (r *RowSet) Count(ctx context.Context) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.cache != nil {
		return len(r.cache), nil
	}
	err := r.m.observe(ctx, "count", r.spec.Entity, func(ctx context.Context) (int64, error) {
		objects, err := r.fetch(ctx)
		if err != nil {
			return 0, err
		}
		r.cache = make([]*materialize.Object, 0, len(objects))
		r.cache = append(r.cache, objects...)
		return int64(len(objects)), nil
	})
	if err != nil {
		return 0, err
	}
	return len(r.cache), nil
}

// Exists reports whether the row set has any row.
func (r *RowSet) Exists(ctx context.Context) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if r.cache != nil {
		return len(r.cache) > 0, nil
	}
	first := r.clone()
	limit := uint64(1)
	if r.spec.Limit != nil && *r.spec.Limit < limit {
		limit = *r.spec.Limit
	}
	first.spec.Limit = &limit

	var found bool
	err := r.m.observe(ctx, "exists", r.spec.Entity, func(ctx context.Context) (int64, error) {
		objects, err := first.fetch(ctx)
		found = len(objects) > 0
		return int64(len(objects)), err
	})
	return found, err
}

// Get returns the single row matching conditions within this row set.
func (r *RowSet) Get(ctx context.Context, conditions map[string]any) (*materialize.Object, error) {
	filtered := r.Filter(conditions)
	if filtered.err != nil {
		return nil, filtered.err
	}
	var found *materialize.Object
	err := r.m.observe(ctx, "get", r.spec.Entity, func(ctx context.Context) (int64, error) {
		objects, err := filtered.fetch(ctx)
		if err != nil {
			return 0, err
		}
		switch len(objects) {
		case 0:
			return 0, queryerr.NotFound(r.spec.Entity.Name)
		case 1:
			found = objects[0]
			return 1, nil
		default:
			return int64(len(objects)), queryerr.Multiple(r.spec.Entity.Name, len(objects))
		}
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// GetOrNone is Get with a missing row reported as nil.
func (r *RowSet) GetOrNone(ctx context.Context, conditions map[string]any) (*materialize.Object, error) {
	obj, err := r.Get(ctx, conditions)
	if errors.Is(err, queryerr.ErrObjectNotFound) {
		return nil, nil
	}
	return obj, err
}

func (r *RowSet) fetch(ctx context.Context) ([]*materialize.Object, error) {
	var objects []*materialize.Object
	err := r.stream(ctx, func(obj *materialize.Object) error {
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (r *RowSet) stream(ctx context.Context, fn func(*materialize.Object) error) error {
	compiled, err := r.m.compiler.CompileSelect(r.spec)
	if err != nil {
		return err
	}
	logStatement(ctx, compiled.SQLQuery)
	r.m.metrics.RecordJoins(ctx, r.spec.Entity.Name, len(compiled.Plan.Steps()))

	rows, err := dbexec.Query(ctx, r.m.exec, r.m.batchSize, len(compiled.Projection), compiled.SQL, compiled.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		obj, err := materialize.Materialize(compiled.Plan, compiled.Projection, rows.Values(), r.m)
		if err != nil {
			return err
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	return rows.Err()
}
