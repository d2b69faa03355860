package app

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/config"
	"relmap/internal/logging"
	"relmap/internal/sqlutil"
)

const bankDefinitions = `entities:
  - name: Currency
    columns:
      - {name: id, kind: integer, primary_key: true}
      - {name: code, kind: text, max_length: 3, unique: true}
  - name: Bank
    schema: personal
    columns:
      - {name: id, kind: integer, primary_key: true}
      - {name: name, kind: text, max_length: 100}
      - {name: currency, references: Currency, nullable: true}
`

func testLogger() *logging.Logger {
	return logging.Discard()
}

func writeDefinitions(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bankDefinitions), 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "pgx", FetchBatchSize: 50},
		Schema: config.SchemaConfig{
			EntitiesFile:  writeDefinitions(t),
			DefaultSchema: "public",
		},
	}
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger())
	assert.Error(t, err)

	_, err = New(testConfig(t), nil)
	assert.Error(t, err)
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "sqlite"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported database driver "sqlite"`)
}

func TestLoadRegistry(t *testing.T) {
	t.Run("missing file setting", func(t *testing.T) {
		_, err := LoadRegistry(config.SchemaConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema.entities_file is required")
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := LoadRegistry(config.SchemaConfig{EntitiesFile: filepath.Join(t.TempDir(), "nope.yaml")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open entity definitions")
	})

	t.Run("default schema applies to unqualified entities", func(t *testing.T) {
		registry, err := LoadRegistry(config.SchemaConfig{
			EntitiesFile:  writeDefinitions(t),
			DefaultSchema: "public",
		})
		require.NoError(t, err)
		assert.Equal(t, "public.currency", registry.MustEntity("Currency").QualifiedName())
		assert.Equal(t, "personal.bank", registry.MustEntity("Bank").QualifiedName())
	})
}

func TestManager_CompilesWithoutDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, sqlutil.MySQL, a.Dialect())

	compiled, err := a.Manager().Objects("Bank").
		Filter(map[string]any{"currency__code": "USD"}).
		Compile()
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "LEFT JOIN `public`.`currency` AS `currency_1`")
	assert.Contains(t, compiled.SQL, "WHERE `currency_1`.`code` = ?")
	assert.Equal(t, []interface{}{"USD"}, compiled.Args)
}

func TestInitMetrics_Disabled(t *testing.T) {
	mp, metrics, err := initMetrics(&config.Config{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, mp)
	assert.Nil(t, metrics)
}

func TestInitMetrics_TextfileWrittenBeforeShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.ServiceName = "relmap-test"
	cfg.Observability.MetricsTextfile = filepath.Join(t.TempDir(), "relmap.prom")

	mp, metrics, err := initMetrics(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, metrics)
	metrics.RecordQuery(context.Background(), "all", "Bank", 3*time.Millisecond, 2, nil)

	a := &App{cfg: cfg, logger: testLogger()}
	a.cleanup.push("meter provider", func(ctx context.Context) error {
		return mp.Shutdown(ctx, a.logger.Logger)
	})
	a.cleanup.push("metrics textfile", func(context.Context) error {
		return mp.WriteTextfile(cfg.Observability.MetricsTextfile)
	})
	require.NoError(t, a.Shutdown(context.Background()))

	data, err := os.ReadFile(cfg.Observability.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "relmap_queries")
}

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := initTracing(context.Background(), &config.Config{}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestInit_FailsWithoutDatabaseAndCleansUp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.DSN = "postgres://relmap@127.0.0.1:1/relmap?sslmode=disable&connect_timeout=1"
	cfg.Database.PingTimeout = time.Second

	a, err := New(cfg, testLogger())
	require.NoError(t, err)

	err = a.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to database")
	assert.Nil(t, a.db)
	assert.False(t, a.initialized)
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	s := cleanupStack{}
	for _, name := range []string{"first", "second", "third"} {
		s.push(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	s.run(context.Background(), testLogger())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestShutdown_Idempotent(t *testing.T) {
	a := &App{logger: testLogger()}
	var calls int32
	a.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
