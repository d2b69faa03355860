// Package dbexec is the connection layer under the row-set API: pooled and
// connection-scoped executors, batched row streaming, driver selection and
// driver error normalization.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so callers can run against the pool or
// a single scoped connection.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

// DB returns the underlying handle.
func (e *StandardExecutor) DB() *sql.DB {
	return e.db
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// InsertReturningID runs an INSERT and returns the generated primary key. When
// returning is set the statement carries a RETURNING clause and the key is
// scanned from the single result row; otherwise the driver's LastInsertId is used.
func InsertReturningID(ctx context.Context, exec QueryExecutor, returning bool, query string, args ...any) (any, error) {
	if !returning {
		result, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		return id, nil
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	var id any
	if err := rows.Scan(&id); err != nil {
		return nil, err
	}
	return id, rows.Err()
}
