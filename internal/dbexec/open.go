package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"relmap/internal/logging"
	"relmap/internal/sqlutil"
)

// Driver names accepted by Open.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// OpenOptions describes how to open and verify the pool.
type OpenOptions struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	Tracing      bool
	Metrics      bool
	SQLCommenter bool
}

// DialectForDriver returns the SQL dialect spoken through a driver.
func DialectForDriver(driver string) (sqlutil.Dialect, error) {
	switch driver {
	case DriverPgx, DriverPostgres:
		return sqlutil.Postgres, nil
	case DriverMySQL:
		return sqlutil.MySQL, nil
	default:
		return sqlutil.Postgres, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func dbSystem(driver string) attribute.KeyValue {
	if driver == DriverMySQL {
		return semconv.DBSystemMySQL
	}
	return semconv.DBSystemPostgreSQL
}

// Open opens the pool, instruments it when tracing or metrics are enabled,
// applies pool limits and pings it. The returned func unregisters the pool
// metrics and closes the handle.
func Open(ctx context.Context, opts OpenOptions, logger *logging.Logger) (*sql.DB, func() error, error) {
	if _, err := DialectForDriver(opts.Driver); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	var db *sql.DB
	var statsReg interface{ Unregister() error }
	var err error

	if opts.Tracing || opts.Metrics {
		otelOpts := []otelsql.Option{otelsql.WithAttributes(dbSystem(opts.Driver))}
		if opts.Tracing {
			otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}
		if opts.SQLCommenter && opts.Tracing {
			otelOpts = append(otelOpts, otelsql.WithSQLCommenter(true))
		} else if opts.SQLCommenter {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		db, err = otelsql.Open(opts.Driver, opts.DSN, otelOpts...)
		if err != nil {
			return nil, nil, err
		}
		if opts.Metrics {
			statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem(opts.Driver)))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}
		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", opts.Metrics),
			slog.Bool("tracing", opts.Tracing),
		)
	} else {
		db, err = sql.Open(opts.Driver, opts.DSN)
		if err != nil {
			return nil, nil, err
		}
	}

	closeFn := func() error {
		if statsReg != nil {
			_ = statsReg.Unregister()
		}
		return db.Close()
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	pingCtx := ctx
	if opts.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", NormalizeError(err))
	}

	logger.Info("connected to database",
		slog.String("driver", opts.Driver),
		slog.Int("pool_max_open", opts.MaxOpenConns),
		slog.Int("pool_max_idle", opts.MaxIdleConns),
		slog.Duration("pool_max_lifetime", opts.ConnMaxLifetime),
	)
	return db, closeFn, nil
}
