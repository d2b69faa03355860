package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"relmap/internal/sqlutil"
)

// ErrConnClosed is returned by a Conn used after Close.
var ErrConnClosed = errors.New("connection already released")

// ConnConfig controls how a scoped connection is prepared.
type ConnConfig struct {
	DB      *sql.DB
	Dialect sqlutil.Dialect
	// SearchPath, when set, selects the default schema (Postgres) or database
	// (MySQL) for unqualified table names on the acquired connection.
	SearchPath string
}

// Conn is a single pooled connection held for the lifetime of one session.
type Conn struct {
	conn *sql.Conn

	mu     sync.Mutex
	closed bool
}

// Acquire takes one connection from the pool. The connection is returned to
// the pool if preparing it fails.
func Acquire(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	if cfg.DB == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if err := useSearchPath(ctx, conn, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

func useSearchPath(ctx context.Context, conn *sql.Conn, cfg ConnConfig) error {
	if cfg.SearchPath == "" {
		return nil
	}
	// Neither engine accepts a placeholder here; the name is quoted instead.
	stmt := fmt.Sprintf("SET search_path TO %s", cfg.Dialect.QuoteIdentifier(cfg.SearchPath))
	if cfg.Dialect == sqlutil.MySQL {
		stmt = fmt.Sprintf("USE %s", cfg.Dialect.QuoteIdentifier(cfg.SearchPath))
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to select %s: %w", cfg.SearchPath, err)
	}
	return nil
}

func (c *Conn) active() (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	return c.conn, nil
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, err := c.active()
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := c.active()
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

// Close releases the connection back to the pool. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
