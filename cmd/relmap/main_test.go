package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/app"
	"relmap/internal/config"
	"relmap/internal/queryerr"
	"relmap/internal/rowset"
	"relmap/internal/sqlutil"
)

const definitions = `entities:
  - name: Currency
    schema: personal
    columns:
      - {name: id, kind: integer, primary_key: true}
      - {name: code, kind: text, max_length: 3}
  - name: Bank
    schema: personal
    columns:
      - {name: id, kind: integer, primary_key: true}
      - {name: name, kind: text, max_length: 100}
      - {name: currency, references: Currency, nullable: true}
`

func writeDefinitions(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitions), 0o600))
	return path
}

func testManager(t *testing.T, dialect sqlutil.Dialect) *rowset.Manager {
	t.Helper()
	registry, err := app.LoadRegistry(config.SchemaConfig{EntitiesFile: writeDefinitions(t)})
	require.NoError(t, err)
	return rowset.NewManager(registry, nil, rowset.Options{Dialect: dialect})
}

// newFlagCommand binds a fresh flag set so tests do not share parsed values.
func newFlagCommand(t *testing.T, args ...string) (*cobra.Command, *rowSetFlags) {
	t.Helper()
	f := &rowSetFlags{}
	cmd := &cobra.Command{Use: "test"}
	f.bind(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, f
}

func TestParseConditions(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr string
	}{
		{
			name:  "plain and traversal lookups",
			pairs: []string{"name=First", "currency__code=USD"},
			want:  map[string]any{"name": "First", "currency__code": "USD"},
		},
		{
			name:  "value may contain equals",
			pairs: []string{"name=a=b"},
			want:  map[string]any{"name": "a=b"},
		},
		{
			name:  "in splits on commas",
			pairs: []string{"id__in=1, 2,3"},
			want:  map[string]any{"id__in": []any{"1", "2", "3"}},
		},
		{
			name:  "empty in list",
			pairs: []string{"id__in="},
			want:  map[string]any{"id__in": []any{}},
		},
		{name: "missing equals", pairs: []string{"name"}, wantErr: `expected lookup=value, got "name"`},
		{name: "empty key", pairs: []string{"=x"}, wantErr: "expected lookup=value"},
		{name: "duplicate key", pairs: []string{"name=a", "name=b"}, wantErr: `lookup "name" given more than once`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConditions(tt.pairs)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRowSetFlags_Build(t *testing.T) {
	m := testManager(t, sqlutil.Postgres)
	cmd, f := newFlagCommand(t,
		"--entity", "Bank",
		"--filter", "currency__code=USD",
		"--exclude", "name__startswith=Old",
		"--order", "-name",
		"--limit", "5",
		"--offset", "10",
	)

	rs, err := f.build(cmd, m)
	require.NoError(t, err)
	compiled, err := rs.Compile()
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL, `LEFT JOIN "personal"."currency" AS "currency_1"`)
	assert.Contains(t, compiled.SQL, `"currency_1"."code" = $1`)
	assert.Contains(t, compiled.SQL, `NOT ("bank"."name" LIKE $2)`)
	assert.Contains(t, compiled.SQL, `ORDER BY "bank"."name" DESC`)
	assert.Contains(t, compiled.SQL, "LIMIT 5 OFFSET 10")
	assert.Equal(t, []interface{}{"USD", "Old%"}, compiled.Args)
}

func TestRowSetFlags_ZeroLimitIsKept(t *testing.T) {
	m := testManager(t, sqlutil.Postgres)
	cmd, f := newFlagCommand(t, "--entity", "Bank", "--limit", "0")

	rs, err := f.build(cmd, m)
	require.NoError(t, err)
	compiled, err := rs.Compile()
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "LIMIT 0")
}

func TestRowSetFlags_OffsetWithoutLimit(t *testing.T) {
	m := testManager(t, sqlutil.Postgres)
	cmd, f := newFlagCommand(t, "--entity", "Bank", "--offset", "3")

	rs, err := f.build(cmd, m)
	require.NoError(t, err)
	compiled, err := rs.Compile()
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, `ORDER BY "bank"."id" ASC OFFSET 3`)
	assert.NotContains(t, compiled.SQL, "LIMIT")
}

func TestRowSetFlags_InListIsDecimal(t *testing.T) {
	m := testManager(t, sqlutil.Postgres)
	cmd, f := newFlagCommand(t, "--entity", "Bank", "--filter", "pk__in=010,08")

	rs, err := f.build(cmd, m)
	require.NoError(t, err)
	compiled, err := rs.Compile()
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, `"bank"."id" = ANY($1)`)
	assert.Equal(t, []interface{}{pq.Array([]int64{10, 8})}, compiled.Args)
}

func TestRowSetFlags_InvalidLookupIsDeferred(t *testing.T) {
	m := testManager(t, sqlutil.Postgres)
	cmd, f := newFlagCommand(t, "--entity", "Bank", "--filter", "owner__name=x")

	rs, err := f.build(cmd, m)
	require.NoError(t, err)
	_, err = rs.Compile()
	assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
}

func TestRowSetFlags_UnknownEntity(t *testing.T) {
	m := testManager(t, sqlutil.Postgres)
	cmd, f := newFlagCommand(t, "--entity", "Branch")

	rs, err := f.build(cmd, m)
	require.NoError(t, err)
	_, err = rs.Compile()
	assert.Error(t, err)
}

func TestFormatArgs(t *testing.T) {
	got := formatArgs([]interface{}{"USD", int64(3), pq.Array([]int64{1, 2}), nil})
	assert.Equal(t, []string{"USD", "3", "{1,2}", "<nil>"}, got)
}

func TestExplainCommand_MySQLDelete(t *testing.T) {
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"explain",
		"--entities", writeDefinitions(t),
		"--database.driver", "mysql",
		"--database.port", "3306",
		"--entity", "Bank",
		"--filter", "currency__code=EUR",
		"--delete",
	})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t,
		"DELETE `bank` FROM `personal`.`bank` AS `bank` "+
			"LEFT JOIN `personal`.`currency` AS `currency_1` ON `currency_1`.`id` = `bank`.`currency` "+
			"WHERE `currency_1`.`code` = ?\n"+
			"  [1] EUR\n",
		out.String())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "relmap "+version)
}
