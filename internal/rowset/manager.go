// Package rowset is the query session API: chainable row sets that compile to
// SQL, execute on one executor and materialize objects.
package rowset

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relmap/internal/dbexec"
	"relmap/internal/logging"
	"relmap/internal/materialize"
	"relmap/internal/observability"
	"relmap/internal/planner"
	"relmap/internal/schema"
	"relmap/internal/sqlutil"
)

// Options configures a Manager. Zero values fall back to Postgres, a discarded
// log, no metrics and dbexec.DefaultFetchBatchSize.
type Options struct {
	Dialect        sqlutil.Dialect
	Logger         *logging.Logger
	Metrics        *observability.QueryMetrics
	FetchBatchSize int
	// SearchPath is applied to connections acquired by Session.
	SearchPath string
}

// Manager hands out row sets for the entities of one registry. It holds no
// per-query state and is safe for concurrent use.
type Manager struct {
	registry   *schema.Registry
	db         *sql.DB
	exec       dbexec.QueryExecutor
	compiler   *planner.Compiler
	logger     *logging.Logger
	metrics    *observability.QueryMetrics
	batchSize  int
	searchPath string
	scoped     bool
}

// NewManager returns a manager whose row sets run on the db pool.
func NewManager(registry *schema.Registry, db *sql.DB, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	batchSize := opts.FetchBatchSize
	if batchSize <= 0 {
		batchSize = dbexec.DefaultFetchBatchSize
	}
	return &Manager{
		registry:   registry,
		db:         db,
		exec:       dbexec.NewStandardExecutor(db),
		compiler:   planner.New(opts.Dialect),
		logger:     logger,
		metrics:    opts.Metrics,
		batchSize:  batchSize,
		searchPath: opts.SearchPath,
	}
}

// Registry returns the entity registry.
func (m *Manager) Registry() *schema.Registry {
	return m.registry
}

// Dialect returns the SQL dialect statements are compiled for.
func (m *Manager) Dialect() sqlutil.Dialect {
	return m.compiler.Dialect()
}

// Objects returns the unfiltered row set of the named entity. An unknown
// entity is reported by the first terminal call.
func (m *Manager) Objects(entity string) *RowSet {
	e, err := m.registry.Entity(entity)
	return &RowSet{m: m, spec: planner.QuerySpec{Entity: e}, err: err}
}

func (m *Manager) objectsOf(entity *schema.Entity) *RowSet {
	return &RowSet{m: m, spec: planner.QuerySpec{Entity: entity}}
}

// LoadByPK fetches one object by primary key. It resolves lazy references.
func (m *Manager) LoadByPK(ctx context.Context, entity *schema.Entity, pk any) (*materialize.Object, error) {
	m.metrics.RecordLazyLoad(ctx, entity.Name)
	return m.objectsOf(entity).Get(ctx, map[string]any{schema.PKAlias: pk})
}

// Session acquires one connection from the pool. Every row set of the session,
// including lazy reference fetches, runs on that connection until Close.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	conn, err := dbexec.Acquire(ctx, dbexec.ConnConfig{
		DB:         m.db,
		Dialect:    m.compiler.Dialect(),
		SearchPath: m.searchPath,
	})
	if err != nil {
		return nil, dbexec.NormalizeError(err)
	}
	scoped := *m
	scoped.exec = conn
	scoped.scoped = true
	return &Session{m: &scoped, conn: conn}, nil
}

// Session is a Manager bound to a single connection.
type Session struct {
	m    *Manager
	conn *dbexec.Conn
}

// Objects returns the unfiltered row set of the named entity on this session.
func (s *Session) Objects(entity string) *RowSet {
	return s.m.Objects(entity)
}

// Save inserts or updates obj on this session.
func (s *Session) Save(ctx context.Context, obj *materialize.Object) error {
	return s.m.Save(ctx, obj)
}

// DeleteObject deletes obj by primary key on this session.
func (s *Session) DeleteObject(ctx context.Context, obj *materialize.Object) error {
	return s.m.DeleteObject(ctx, obj)
}

// LoadByPK fetches one object by primary key on this session.
func (s *Session) LoadByPK(ctx context.Context, entity *schema.Entity, pk any) (*materialize.Object, error) {
	return s.m.LoadByPK(ctx, entity, pk)
}

// Close releases the connection. Later calls on the session fail with
// dbexec.ErrConnClosed.
func (s *Session) Close() error {
	return s.conn.Close()
}

// observe runs one terminal operation under its own session id, span and
// metrics. fn returns the number of rows read or affected and finds the
// operation's logger in its context. A session id already on ctx is kept as
// the parent.
func (m *Manager) observe(ctx context.Context, op string, entity *schema.Entity, fn func(context.Context) (int64, error)) error {
	sessionID := uuid.NewString()
	logger := m.logger.WithSessionID(sessionID).WithFields(
		slog.String("operation", op),
		slog.String("entity", entity.Name),
	)
	attrs := []attribute.KeyValue{
		attribute.String("relmap.entity", entity.Name),
		attribute.String("relmap.session_id", sessionID),
		attribute.Bool("relmap.scoped_connection", m.scoped),
		attribute.String("db.system", m.compiler.Dialect().String()),
	}
	if parent := logging.GetSessionID(ctx); parent != "" {
		logger = logger.WithFields(slog.String("parent_session_id", parent))
		attrs = append(attrs, attribute.String("relmap.parent_session_id", parent))
	}
	ctx = logging.WithSessionIDContext(logging.WithLogger(ctx, logger), sessionID)

	ctx, span := startSpan(ctx, "rowset."+op, attrs...)
	defer span.End()

	start := time.Now()
	rows, err := fn(ctx)
	err = dbexec.NormalizeError(err)
	duration := time.Since(start)

	m.metrics.RecordQuery(ctx, op, entity.Name, duration, rows, err)
	span.SetAttributes(attribute.Int64("relmap.rows", rows))
	recordSpanError(span, err)
	if err != nil {
		logger.Debug("row set operation failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return err
	}
	logger.Debug("row set operation completed",
		slog.Int64("rows", rows),
		slog.Duration("duration", duration),
	)
	return nil
}

func logStatement(ctx context.Context, query planner.SQLQuery) {
	logging.FromContext(ctx).Debug("executing statement",
		slog.String("sql", query.SQL),
		slog.Int("args", len(query.Args)),
	)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relmap/rowset")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
