// Package app wires configuration, observability, the database pool and the
// entity registry into a rowset.Manager for the command line.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"relmap/internal/config"
	"relmap/internal/logging"
	"relmap/internal/naming"
	"relmap/internal/observability"
	"relmap/internal/rowset"
	"relmap/internal/schema"
	"relmap/internal/sqlutil"
)

// App owns the runtime resources of one relmap invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.QueryMetrics

	registry *schema.Registry
	dialect  sqlutil.Dialect
	db       *sql.DB
	manager  *rowset.Manager

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App and loads the entity registry. No connection is opened
// until Init.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dialect, err := dialectFor(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := LoadRegistry(cfg.Schema)
	if err != nil {
		return nil, err
	}

	logger.Debug("entity registry loaded",
		slog.String("entities_file", cfg.Schema.EntitiesFile),
		slog.Int("entities", len(registry.Entities())),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		dialect:  dialect,
	}, nil
}

// LoadRegistry builds the registry declared by the entities file.
func LoadRegistry(cfg config.SchemaConfig) (*schema.Registry, error) {
	if cfg.EntitiesFile == "" {
		return nil, fmt.Errorf("schema.entities_file is required")
	}
	defs, err := schema.LoadDefinitionsFile(cfg.EntitiesFile)
	if err != nil {
		return nil, err
	}
	registry, err := schema.NewRegistry(defs,
		schema.WithDefaultSchema(cfg.DefaultSchema),
		schema.WithNamer(naming.New(cfg.Naming)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build entity registry: %w", err)
	}
	return registry, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Registry returns the loaded entity registry.
func (a *App) Registry() *schema.Registry {
	return a.registry
}

// Dialect returns the dialect of the configured driver.
func (a *App) Dialect() sqlutil.Dialect {
	return a.dialect
}

// Manager returns the row-set manager. Without Init it has no database and
// can only compile.
func (a *App) Manager() *rowset.Manager {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.manager != nil {
		return a.manager
	}
	return rowset.NewManager(a.registry, nil, a.managerOptions())
}

func (a *App) managerOptions() rowset.Options {
	return rowset.Options{
		Dialect:        a.dialect,
		Logger:         a.logger,
		Metrics:        a.metrics,
		FetchBatchSize: a.cfg.Database.FetchBatchSize,
		SearchPath:     a.cfg.Database.SearchPath,
	}
}

// Init starts metrics and tracing, then opens the database pool. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
		if path := a.cfg.Observability.MetricsTextfile; path != "" {
			// Pushed after the provider so it runs before provider shutdown.
			cleanup.push("metrics textfile", func(context.Context) error {
				return meterProvider.WriteTextfile(path)
			})
		}
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.cfg.Database.Database),
		slog.Bool("dsn_present", a.cfg.Database.DSN != ""),
	)

	db, closeDB, err := connectDB(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	cleanup.push("database", func(context.Context) error {
		return closeDB()
	})

	a.stateMu.Lock()
	if provider := a.loggerProvider; provider != nil {
		// Logs are flushed last so shutdown messages are exported.
		cleanup.items = append([]cleanupItem{{
			name: "logger provider",
			fn: func(shutdownCtx context.Context) error {
				return provider.Shutdown(shutdownCtx, a.logger.Logger)
			},
		}}, cleanup.items...)
	}
	a.meterProvider = meterProvider
	a.tracerProvider = tracerProvider
	a.metrics = metrics
	a.db = db
	a.manager = rowset.NewManager(a.registry, db, a.managerOptions())
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
