package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"relmap/internal/config"
	"relmap/internal/dbexec"
	"relmap/internal/logging"
	"relmap/internal/observability"
	"relmap/internal/sqlutil"
)

// meterName scopes the query instruments.
const meterName = "relmap/rowset"

// InitLogger builds the process logger and, when log export is enabled, an
// OTLP logger provider that the logger fans out to.
func InitLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Debug("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLP: observability.OTLPConfig{
			Endpoint:       otlp.Endpoint,
			Protocol:       otlp.Protocol,
			Insecure:       otlp.Insecure,
			CAFile:         otlp.TLSCertFile,
			ClientCertFile: otlp.TLSClientCertFile,
			ClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:        otlp.Headers,
			Timeout:        otlp.Timeout,
			Compression:    otlp.Compression,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observability.InitQueryMetrics(meterProvider.Meter(meterName))
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}

	logger.Debug("OpenTelemetry metrics initialized",
		slog.String("textfile", cfg.Observability.MetricsTextfile),
	)
	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Debug("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(ctx, otelConfig(cfg, tracesConfig))
}

func dialectFor(cfg *config.Config) (sqlutil.Dialect, error) {
	return dbexec.DialectForDriver(cfg.Database.Driver)
}

func connectDB(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sql.DB, func() error, error) {
	dsn, err := cfg.Database.DataSourceName()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build database DSN: %w", err)
	}
	return dbexec.Open(ctx, dbexec.OpenOptions{
		Driver:          cfg.Database.Driver,
		DSN:             dsn,
		MaxOpenConns:    cfg.Database.Pool.MaxOpen,
		MaxIdleConns:    cfg.Database.Pool.MaxIdle,
		ConnMaxLifetime: cfg.Database.Pool.MaxLifetime,
		ConnMaxIdleTime: cfg.Database.Pool.MaxIdleTime,
		PingTimeout:     cfg.Database.PingTimeout,
		Tracing:         cfg.Observability.TracingEnabled,
		Metrics:         cfg.Observability.MetricsEnabled,
		SQLCommenter:    cfg.Observability.SQLCommenterEnabled,
	}, logger)
}
