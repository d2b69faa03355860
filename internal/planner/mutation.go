package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"relmap/internal/queryerr"
	"relmap/internal/schema"
)

// PlanInsert builds SQL for inserting a single row. The primary key is only
// written when the caller supplied a non-nil value for it. Postgres statements
// return the primary key.
func (c *Compiler) PlanInsert(entity *schema.Entity, values map[string]interface{}) (SQLQuery, error) {
	columns, err := checkColumns(entity, values)
	if err != nil {
		return SQLQuery{}, err
	}

	quotedCols := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		value := values[col.Name]
		if col.PrimaryKey && value == nil {
			continue
		}
		quotedCols = append(quotedCols, c.dialect.QuoteIdentifier(col.Name))
		args = append(args, value)
	}

	table := c.dialect.QualifiedTable(entity.Schema, entity.Table)
	if len(quotedCols) == 0 {
		if !c.dialect.SupportsReturning() {
			return SQLQuery{SQL: fmt.Sprintf("INSERT INTO %s () VALUES ()", table)}, nil
		}
		query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", table, c.dialect.QuoteIdentifier(entity.PrimaryKey.Name))
		return SQLQuery{SQL: query}, nil
	}

	builder := sq.Insert(table).
		Columns(quotedCols...).
		Values(args...).
		PlaceholderFormat(c.dialect.Placeholder())
	if c.dialect.SupportsReturning() {
		builder = builder.Suffix("RETURNING " + c.dialect.QuoteIdentifier(entity.PrimaryKey.Name))
	}

	query, queryArgs, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: queryArgs}, nil
}

// PlanBulkInsert builds one multi-row INSERT. The primary key column is never
// listed; columns missing from a row are written as DEFAULT.
func (c *Compiler) PlanBulkInsert(entity *schema.Entity, rows []map[string]interface{}) (SQLQuery, error) {
	if len(rows) == 0 {
		return SQLQuery{}, queryerr.Invalid("bulk insert requires at least one row")
	}

	present := make(map[string]bool)
	for _, row := range rows {
		if _, err := checkColumns(entity, row); err != nil {
			return SQLQuery{}, err
		}
		for name := range row {
			present[name] = true
		}
	}

	var columns []*schema.Column
	for _, col := range entity.Columns {
		if col.PrimaryKey || !present[col.Name] {
			continue
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return SQLQuery{}, queryerr.Invalid("bulk insert into %s has no columns to write", entity.Name)
	}

	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = c.dialect.QuoteIdentifier(col.Name)
	}

	builder := sq.Insert(c.dialect.QualifiedTable(entity.Schema, entity.Table)).
		Columns(quotedCols...).
		PlaceholderFormat(c.dialect.Placeholder())
	for _, row := range rows {
		values := make([]interface{}, len(columns))
		for i, col := range columns {
			value, ok := row[col.Name]
			if !ok {
				values[i] = sq.Expr("DEFAULT")
				continue
			}
			values[i] = value
		}
		builder = builder.Values(values...)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanUpdate builds SQL for updating a single row by primary key. Columns are
// written in declaration order; the primary key itself is never updated.
func (c *Compiler) PlanUpdate(entity *schema.Entity, set map[string]interface{}, pkValue interface{}) (SQLQuery, error) {
	if pkValue == nil {
		return SQLQuery{}, queryerr.Invalid("cannot update %s without a primary key value", entity.Name)
	}
	columns, err := checkColumns(entity, set)
	if err != nil {
		return SQLQuery{}, err
	}

	update := sq.Update(c.dialect.QualifiedTable(entity.Schema, entity.Table))
	assigned := 0
	for _, col := range columns {
		if col.PrimaryKey {
			continue
		}
		update = update.Set(c.dialect.QuoteIdentifier(col.Name), set[col.Name])
		assigned++
	}
	if assigned == 0 {
		return SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	update = update.Where(sq.Eq{c.dialect.QuoteIdentifier(entity.PrimaryKey.Name): pkValue})

	query, args, err := update.PlaceholderFormat(c.dialect.Placeholder()).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanDeleteByPK builds SQL for deleting a single row by primary key.
func (c *Compiler) PlanDeleteByPK(entity *schema.Entity, pkValue interface{}) (SQLQuery, error) {
	if pkValue == nil {
		return SQLQuery{}, queryerr.Invalid("cannot delete %s without a primary key value", entity.Name)
	}
	query, args, err := sq.Delete(c.dialect.QualifiedTable(entity.Schema, entity.Table)).
		Where(sq.Eq{c.dialect.QuoteIdentifier(entity.PrimaryKey.Name): pkValue}).
		PlaceholderFormat(c.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// checkColumns rejects unknown column names and returns the supplied columns
// in declaration order.
func checkColumns(entity *schema.Entity, values map[string]interface{}) ([]*schema.Column, error) {
	for name := range values {
		if _, ok := entity.Column(name); !ok {
			return nil, queryerr.Invalid("%s has no column %s", entity.Name, name)
		}
	}
	var out []*schema.Column
	for _, col := range entity.Columns {
		if _, ok := values[col.Name]; ok {
			out = append(out, col)
		}
	}
	return out, nil
}
