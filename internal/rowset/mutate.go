package rowset

import (
	"context"
	"errors"
	"strings"

	"relmap/internal/dbexec"
	"relmap/internal/lookup"
	"relmap/internal/materialize"
	"relmap/internal/planner"
	"relmap/internal/queryerr"
)

// Create inserts one row built from values and returns it with its primary key set.
func (r *RowSet) Create(ctx context.Context, values map[string]any) (*materialize.Object, error) {
	if r.err != nil {
		return nil, r.err
	}
	obj, err := r.newObject(values)
	if err != nil {
		return nil, err
	}
	if err := r.m.Save(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetOrCreate returns the row matching conditions, creating it from conditions
// merged with defaults when none exists. The bool reports whether a row was
// created. A multiple-match error is returned as is.
func (r *RowSet) GetOrCreate(ctx context.Context, conditions, defaults map[string]any) (*materialize.Object, bool, error) {
	obj, err := r.Get(ctx, conditions)
	if err == nil {
		return obj, false, nil
	}
	if !errors.Is(err, queryerr.ErrObjectNotFound) {
		return nil, false, err
	}

	values := make(map[string]any, len(conditions)+len(defaults))
	for key, value := range conditions {
		column, ok := createColumn(key)
		if !ok {
			return nil, false, queryerr.Invalid("cannot create %s from lookup %s", r.spec.Entity.Name, key)
		}
		values[column] = value
	}
	for key, value := range defaults {
		values[key] = value
	}
	obj, err = r.Create(ctx, values)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// createColumn maps a lookup key to the column it sets. Only plain column
// equality can be turned into an assignment.
func createColumn(key string) (string, bool) {
	key = strings.ToLower(key)
	key = strings.TrimSuffix(key, lookup.Separator+string(lookup.OpExact))
	if strings.Contains(key, lookup.Separator) {
		return "", false
	}
	return key, true
}

// BulkCreate inserts every row in one statement and returns the number of rows
// written. Primary keys are left to the database and are not read back.
func (r *RowSet) BulkCreate(ctx context.Context, rows []map[string]any) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	values := make([]map[string]any, len(rows))
	for i, row := range rows {
		obj, err := r.newObject(row)
		if err != nil {
			return 0, err
		}
		values[i] = obj.Values()
	}
	query, err := r.m.compiler.PlanBulkInsert(r.spec.Entity, values)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = r.m.observe(ctx, "bulk_create", r.spec.Entity, func(ctx context.Context) (int64, error) {
		var err error
		affected, err = r.m.execute(ctx, query)
		return affected, err
	})
	return affected, err
}

// Delete removes every row in the row set and returns the number deleted.
// Eager loads are ignored; a sliced row set cannot be deleted.
func (r *RowSet) Delete(ctx context.Context) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	query, err := r.m.compiler.CompileDelete(r.spec)
	if err != nil {
		return 0, err
	}
	r.cache = nil

	var affected int64
	err = r.m.observe(ctx, "delete", r.spec.Entity, func(ctx context.Context) (int64, error) {
		var err error
		affected, err = r.m.execute(ctx, query)
		return affected, err
	})
	return affected, err
}

func (r *RowSet) newObject(values map[string]any) (*materialize.Object, error) {
	obj := materialize.New(r.spec.Entity, r.m)
	for key, value := range values {
		if err := obj.Set(key, value); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// Save writes obj. An object with a primary key is updated, and inserted with
// that key when no row was updated; an object without one is inserted and
// receives the generated key.
func (m *Manager) Save(ctx context.Context, obj *materialize.Object) error {
	entity := obj.Entity()
	pkName := entity.PrimaryKey.Name
	values := obj.Values()
	pk := obj.PK()
	delete(values, pkName)

	return m.observe(ctx, "save", entity, func(ctx context.Context) (int64, error) {
		if pk != nil && len(values) > 0 {
			update, err := m.compiler.PlanUpdate(entity, values, pk)
			if err != nil {
				return 0, err
			}
			affected, err := m.execute(ctx, update)
			if err != nil || affected > 0 {
				return affected, err
			}
		}

		if pk != nil {
			values[pkName] = pk
		}
		insert, err := m.compiler.PlanInsert(entity, values)
		if err != nil {
			return 0, err
		}
		logStatement(ctx, insert)
		id, err := dbexec.InsertReturningID(ctx, m.exec, m.compiler.Dialect().SupportsReturning(), insert.SQL, insert.Args...)
		if err != nil {
			return 0, err
		}
		if pk == nil {
			key, err := entity.PrimaryKey.Kind.Convert(id)
			if err != nil {
				return 1, err
			}
			if err := obj.Set(pkName, key); err != nil {
				return 1, err
			}
		}
		return 1, nil
	})
}

// DeleteObject deletes obj's row by primary key. Deleting a row that no longer
// exists is reported as not found.
func (m *Manager) DeleteObject(ctx context.Context, obj *materialize.Object) error {
	entity := obj.Entity()
	query, err := m.compiler.PlanDeleteByPK(entity, obj.PK())
	if err != nil {
		return err
	}
	return m.observe(ctx, "delete_object", entity, func(ctx context.Context) (int64, error) {
		affected, err := m.execute(ctx, query)
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, queryerr.NotFound(entity.Name)
		}
		return affected, nil
	})
}

func (m *Manager) execute(ctx context.Context, query planner.SQLQuery) (int64, error) {
	logStatement(ctx, query)
	result, err := m.exec.ExecContext(ctx, query.SQL, query.Args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
