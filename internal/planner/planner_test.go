package planner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/queryerr"
	"relmap/internal/schema"
	"relmap/internal/schema/schematest"
	"relmap/internal/sqlutil"
)

func banking(t *testing.T) *schema.Registry {
	t.Helper()
	return schematest.Banking()
}

func TestCompileSelect_NoConditions(t *testing.T) {
	reg := banking(t)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{Entity: reg.MustEntity("Currency")})
	require.NoError(t, err)

	assertSQLMatches(t, compiled.SQL,
		`SELECT "currency"."id", "currency"."code" FROM "personal"."currency" AS "currency" ORDER BY "currency"."id" ASC`)
	assert.Empty(t, compiled.Args)
	assert.Empty(t, compiled.Plan.Steps())
	require.Len(t, compiled.Projection, 2)
	assert.Equal(t, "currency", compiled.Projection[0].Alias)
}

func TestCompileSelect_ForeignKeyCondition(t *testing.T) {
	reg := banking(t)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("Bank"),
		Filters: Conditions(map[string]any{"currency__code": "USD"}),
	})
	require.NoError(t, err)

	assertSQLMatches(t, compiled.SQL,
		`SELECT "bank"."id", "bank"."name", "bank"."currency", "currency_1"."id", "currency_1"."code" `+
			`FROM "personal"."bank" AS "bank" `+
			`LEFT JOIN "personal"."currency" AS "currency_1" ON "currency_1"."id" = "bank"."currency" `+
			`WHERE "currency_1"."code" = $1 ORDER BY "bank"."id" ASC`)
	assertArgsEqual(t, compiled.Args, []interface{}{"USD"})
}

func TestCompileSelect_SharedJoinAcrossConditions(t *testing.T) {
	reg := banking(t)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity:   reg.MustEntity("Bank"),
		Filters:  Conditions(map[string]any{"currency__code__startswith": "U"}),
		Excludes: Conditions(map[string]any{"currency__code": "USX"}),
	})
	require.NoError(t, err)

	require.Len(t, compiled.Plan.Steps(), 1)
	assert.Equal(t, 1, strings.Count(compiled.SQL, "JOIN"))
	assert.Contains(t, compiled.SQL, `WHERE "currency_1"."code" LIKE $1 AND (NOT ("currency_1"."code" = $2) OR "currency_1"."code" IS NULL)`)
	assertArgsEqual(t, compiled.Args, []interface{}{"U%", "USX"})
}

func TestCompileSelect_TwoForeignKeysToSameTarget(t *testing.T) {
	reg := banking(t)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity: reg.MustEntity("InterBankStatus"),
		Filters: Conditions(map[string]any{
			"depositor__name": "A",
			"receiver__name":  "B",
		}),
	})
	require.NoError(t, err)

	steps := compiled.Plan.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "bank_1", steps[0].Alias)
	assert.Equal(t, "depositor", steps[0].Column.Name)
	assert.Equal(t, "bank_2", steps[1].Alias)
	assert.Equal(t, "receiver", steps[1].Column.Name)
	assert.False(t, steps[0].Outer)

	assert.Contains(t, compiled.SQL, `INNER JOIN "personal"."bank" AS "bank_1" ON "bank_1"."id" = "inter_bank_status"."depositor"`)
	assert.Contains(t, compiled.SQL, `INNER JOIN "personal"."bank" AS "bank_2" ON "bank_2"."id" = "inter_bank_status"."receiver"`)
	assert.Contains(t, compiled.SQL, `WHERE "bank_1"."name" = $1 AND "bank_2"."name" = $2`)
	assertArgsEqual(t, compiled.Args, []interface{}{"A", "B"})
}

func TestCompileSelect_SelfReference(t *testing.T) {
	reg := banking(t)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("Employee"),
		Filters: Conditions(map[string]any{"manager__manager__name": "Boss"}),
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL, `LEFT JOIN "public"."employee" AS "employee_1" ON "employee_1"."id" = "employee"."manager"`)
	assert.Contains(t, compiled.SQL, `LEFT JOIN "public"."employee" AS "employee_2" ON "employee_2"."id" = "employee_1"."manager"`)
	assert.Contains(t, compiled.SQL, `WHERE "employee_2"."name" = $1`)
}

func TestJoinPlan_AliasSkipsRootTable(t *testing.T) {
	defs := append(schematest.BankingDefinitions(), schema.EntityDef{
		Name:   "BankSnapshot",
		Table:  "bank_1",
		Schema: "personal",
		Columns: []schema.ColumnDef{
			schema.Serial("id"),
			schema.ForeignKey("bank", "Bank"),
		},
	})
	reg, err := schema.NewRegistry(defs)
	require.NoError(t, err)

	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("BankSnapshot"),
		Filters: Conditions(map[string]any{"bank__name": "B1"}),
	})
	require.NoError(t, err)

	steps := compiled.Plan.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "bank_1", compiled.Plan.RootAlias)
	assert.Equal(t, "bank_2", steps[0].Alias)
	assert.Contains(t, compiled.SQL, `INNER JOIN "personal"."bank" AS "bank_2" ON "bank_2"."id" = "bank_1"."bank"`)
	assert.Contains(t, compiled.SQL, `WHERE "bank_2"."name" = $1`)
}

func TestCompileSelect_EagerLoad(t *testing.T) {
	reg := banking(t)
	compiler := New(sqlutil.Postgres)

	t.Run("bare eager load covers direct foreign keys", func(t *testing.T) {
		compiled, err := compiler.CompileSelect(QuerySpec{Entity: reg.MustEntity("InterBankStatus"), EagerAll: true})
		require.NoError(t, err)
		steps := compiled.Plan.Steps()
		require.Len(t, steps, 2)
		assert.Equal(t, "depositor", steps[0].Column.Name)
		assert.Equal(t, "receiver", steps[1].Column.Name)
		assert.Len(t, compiled.Projection, 4+3+3)
	})

	t.Run("eager path reuses condition join", func(t *testing.T) {
		compiled, err := compiler.CompileSelect(QuerySpec{
			Entity:    reg.MustEntity("Transaction"),
			Filters:   Conditions(map[string]any{"bank__name": "B1"}),
			EagerLoad: []string{"bank__currency", "bank"},
		})
		require.NoError(t, err)
		steps := compiled.Plan.Steps()
		require.Len(t, steps, 2)
		assert.Equal(t, "bank_1", steps[0].Alias)
		assert.Equal(t, "currency_2", steps[1].Alias)
		assert.Equal(t, "bank_1", steps[1].ParentAlias)
		assert.True(t, steps[1].Outer)
	})

	t.Run("invalid eager path", func(t *testing.T) {
		_, err := compiler.CompileSelect(QuerySpec{Entity: reg.MustEntity("Bank"), EagerLoad: []string{"name"}})
		assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
	})
}

func TestCompileSelect_WhereComposition(t *testing.T) {
	reg := banking(t)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity: reg.MustEntity("Bank"),
		OrFilters: []Condition{
			{Key: "name", Value: "A"},
			{Key: "name", Value: "B"},
		},
		Filters: Conditions(map[string]any{"id__gt": 1}),
		Excludes: []Condition{
			{Key: "currency__isnull", Value: true},
			{Key: "name__contains", Value: "x"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL,
		`WHERE ("bank"."name" = $1 OR "bank"."name" = $2) AND "bank"."id" > $3 AND NOT ("bank"."currency" IS NULL) AND NOT ("bank"."name" LIKE $4)`)
	assertArgsEqual(t, compiled.Args, []interface{}{"A", "B", 1, "%x%"})
}

func TestCompileSelect_Operators(t *testing.T) {
	reg := banking(t)
	bank := reg.MustEntity("Bank")

	tests := []struct {
		name     string
		key      string
		value    any
		wantSQL  string
		wantArgs []interface{}
	}{
		{name: "exact", key: "name__exact", value: "A", wantSQL: `"bank"."name" = $1`, wantArgs: []interface{}{"A"}},
		{name: "nil equality", key: "currency", value: nil, wantSQL: `"bank"."currency" IS NULL`},
		{name: "iexact", key: "name__iexact", value: "a", wantSQL: `UPPER("bank"."name") = UPPER($1)`, wantArgs: []interface{}{"a"}},
		{name: "gte", key: "id__gte", value: 2, wantSQL: `"bank"."id" >= $1`, wantArgs: []interface{}{2}},
		{name: "lt", key: "id__lt", value: 2, wantSQL: `"bank"."id" < $1`, wantArgs: []interface{}{2}},
		{name: "lte", key: "id__lte", value: 2, wantSQL: `"bank"."id" <= $1`, wantArgs: []interface{}{2}},
		{name: "icontains escapes wildcards", key: "name__icontains", value: "b_1%", wantSQL: `UPPER("bank"."name") ILIKE $1`, wantArgs: []interface{}{`%b\_1\%%`}},
		{name: "istartswith", key: "name__istartswith", value: "b", wantSQL: `UPPER("bank"."name") ILIKE $1`, wantArgs: []interface{}{"b%"}},
		{name: "endswith", key: "name__endswith", value: "1", wantSQL: `"bank"."name" LIKE $1`, wantArgs: []interface{}{"%1"}},
		{name: "iendswith", key: "name__iendswith", value: "1", wantSQL: `UPPER("bank"."name") ILIKE $1`, wantArgs: []interface{}{"%1"}},
		{name: "isnull false", key: "currency__isnull", value: false, wantSQL: `"bank"."currency" IS NOT NULL`},
		{name: "isnull truthy string", key: "currency__isnull", value: "yes", wantSQL: `"bank"."currency" IS NULL`},
		{name: "in", key: "id__in", value: []int{1, 2}, wantSQL: `"bank"."id" = ANY($1)`, wantArgs: []interface{}{pq.Array([]int64{1, 2})}},
		{name: "in from decimal text", key: "id__in", value: []string{"010", "08"}, wantSQL: `"bank"."id" = ANY($1)`, wantArgs: []interface{}{pq.Array([]int64{10, 8})}},
		{name: "pk", key: "pk", value: 5, wantSQL: `"bank"."id" = $1`, wantArgs: []interface{}{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
				Entity:  bank,
				Filters: []Condition{{Key: tt.key, Value: tt.value}},
			})
			require.NoError(t, err)
			assert.Contains(t, compiled.SQL, "WHERE "+tt.wantSQL+" ORDER BY")
			if tt.wantArgs == nil {
				assert.Empty(t, compiled.Args)
				return
			}
			assert.Equal(t, tt.wantArgs, compiled.Args)
		})
	}
}

func TestCompileSelect_ExcludeKeepsNullRows(t *testing.T) {
	reg := banking(t)

	tests := []struct {
		name    string
		entity  string
		key     string
		value   any
		wantSQL string
	}{
		{"nullable column", "Bank", "currency", 3, `(NOT ("bank"."currency" = $1) OR "bank"."currency" IS NULL)`},
		{"required column", "Bank", "name", "A", `NOT ("bank"."name" = $1)`},
		{"null equality", "Bank", "currency", nil, `NOT ("bank"."currency" IS NULL)`},
		{"isnull", "Bank", "currency__isnull", false, `NOT ("bank"."currency" IS NOT NULL)`},
		{"nullable hop", "Bank", "currency__code__in", []string{"USD"}, `(NOT ("currency_1"."code" = ANY($1)) OR "currency_1"."code" IS NULL)`},
		{"required hops", "InterBankStatus", "depositor__name", "A", `NOT ("bank_1"."name" = $1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
				Entity:   reg.MustEntity(tt.entity),
				Excludes: []Condition{{Key: tt.key, Value: tt.value}},
			})
			require.NoError(t, err)
			assert.Contains(t, compiled.SQL, "WHERE "+tt.wantSQL+" ORDER BY")
		})
	}
}

func TestCompileSelect_InTypedArrays(t *testing.T) {
	reg := banking(t)
	compiler := New(sqlutil.Postgres)

	compiled, err := compiler.CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("Currency"),
		Filters: []Condition{{Key: "code__in", Value: []string{"USD", "EUR"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{pq.Array([]string{"USD", "EUR"})}, compiled.Args)

	_, err = compiler.CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("Currency"),
		Filters: []Condition{{Key: "id__in", Value: []string{"one"}}},
	})
	assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)

	_, err = compiler.CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("Currency"),
		Filters: []Condition{{Key: "id__in", Value: 3}},
	})
	assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
}

func TestCompileSelect_MySQL(t *testing.T) {
	reg := banking(t)
	compiler := New(sqlutil.MySQL)

	compiled, err := compiler.CompileSelect(QuerySpec{
		Entity: reg.MustEntity("Bank"),
		Filters: Conditions(map[string]any{
			"currency__code__icontains": "us",
			"id__in":                    []int{1, 2},
		}),
	})
	require.NoError(t, err)

	assertSQLMatches(t, compiled.SQL,
		"SELECT `bank`.`id`, `bank`.`name`, `bank`.`currency`, `currency_1`.`id`, `currency_1`.`code` "+
			"FROM `personal`.`bank` AS `bank` "+
			"LEFT JOIN `personal`.`currency` AS `currency_1` ON `currency_1`.`id` = `bank`.`currency` "+
			"WHERE UPPER(`currency_1`.`code`) LIKE UPPER(?) AND `bank`.`id` IN (?,?) ORDER BY `bank`.`id` ASC")
	assertArgsEqual(t, compiled.Args, []interface{}{"%us%", 1, 2})

	compiled, err = compiler.CompileSelect(QuerySpec{
		Entity:  reg.MustEntity("Bank"),
		Filters: []Condition{{Key: "id__in", Value: []int{}}},
	})
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "WHERE (1=0)")
}

func TestCompileSelect_OrderingAndPagination(t *testing.T) {
	reg := banking(t)
	limit := uint64(2)
	compiled, err := New(sqlutil.Postgres).CompileSelect(QuerySpec{
		Entity:   reg.MustEntity("Bank"),
		Ordering: []string{"-name", "pk"},
		Limit:    &limit,
		Offset:   3,
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.SQL, `ORDER BY "bank"."name" DESC, "bank"."id" ASC`)
	assertLimitOffsetArgs(t, compiled.SQL, compiled.Args, 2, 3)
}

func TestCompileSelect_Errors(t *testing.T) {
	reg := banking(t)
	compiler := New(sqlutil.Postgres)

	tests := []struct {
		name string
		spec QuerySpec
	}{
		{name: "no entity", spec: QuerySpec{}},
		{name: "bad lookup", spec: QuerySpec{Entity: reg.MustEntity("Bank"), Filters: Conditions(map[string]any{"name__code": 1})}},
		{name: "bad exclude", spec: QuerySpec{Entity: reg.MustEntity("Bank"), Excludes: Conditions(map[string]any{"nope": 1})}},
		{name: "bad order", spec: QuerySpec{Entity: reg.MustEntity("Bank"), Ordering: []string{"nope"}}},
		{name: "order across relation", spec: QuerySpec{Entity: reg.MustEntity("Bank"), Ordering: []string{"currency__code"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.CompileSelect(tt.spec)
			assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
		})
	}
}

func TestCompileDelete(t *testing.T) {
	reg := banking(t)

	t.Run("postgres using", func(t *testing.T) {
		query, err := New(sqlutil.Postgres).CompileDelete(QuerySpec{
			Entity:   reg.MustEntity("InterBankStatus"),
			Filters:  Conditions(map[string]any{"depositor__name": "A"}),
			EagerAll: true,
		})
		require.NoError(t, err)
		assertSQLMatches(t, query.SQL,
			`DELETE FROM "public"."inter_bank_status" AS "inter_bank_status" USING "personal"."bank" AS "bank_1" `+
				`WHERE "bank_1"."id" = "inter_bank_status"."depositor" AND "bank_1"."name" = $1`)
		assertArgsEqual(t, query.Args, []interface{}{"A"})
	})

	t.Run("postgres nullable relation keeps outer join", func(t *testing.T) {
		query, err := New(sqlutil.Postgres).CompileDelete(QuerySpec{
			Entity:    reg.MustEntity("Bank"),
			Filters:   Conditions(map[string]any{"currency__code": "USD"}),
			EagerAll:  true,
			EagerLoad: []string{"currency"},
		})
		require.NoError(t, err)
		assertSQLMatches(t, query.SQL,
			`DELETE FROM "personal"."bank" WHERE "id" IN (SELECT "bank"."id" FROM "personal"."bank" AS "bank" `+
				`LEFT JOIN "personal"."currency" AS "currency_1" ON "currency_1"."id" = "bank"."currency" `+
				`WHERE "currency_1"."code" = $1)`)
		assertArgsEqual(t, query.Args, []interface{}{"USD"})
	})

	t.Run("postgres delete matches select", func(t *testing.T) {
		specs := map[string]QuerySpec{
			"or group": {
				Entity:    reg.MustEntity("Bank"),
				OrFilters: []Condition{{Key: "currency__code", Value: "USD"}, {Key: "name", Value: "B2"}},
			},
			"isnull": {
				Entity:  reg.MustEntity("Bank"),
				Filters: Conditions(map[string]any{"currency__code__isnull": true}),
			},
			"exclude": {
				Entity:   reg.MustEntity("Bank"),
				Excludes: Conditions(map[string]any{"currency__code": "EUR"}),
			},
		}
		compiler := New(sqlutil.Postgres)
		for name, spec := range specs {
			t.Run(name, func(t *testing.T) {
				selected, err := compiler.CompileSelect(spec)
				require.NoError(t, err)
				deleted, err := compiler.CompileDelete(spec)
				require.NoError(t, err)

				from := selected.SQL[strings.Index(selected.SQL, " FROM "):strings.Index(selected.SQL, " ORDER BY ")]
				assert.Equal(t, `DELETE FROM "personal"."bank" WHERE "id" IN (SELECT "bank"."id"`+from+`)`, deleted.SQL)
				assertArgsEqual(t, deleted.Args, selected.Args)
				assert.NotContains(t, deleted.SQL, "USING")
			})
		}
	})

	t.Run("postgres single table", func(t *testing.T) {
		query, err := New(sqlutil.Postgres).CompileDelete(QuerySpec{
			Entity:    reg.MustEntity("Bank"),
			OrFilters: []Condition{{Key: "name", Value: "A"}, {Key: "name", Value: "B"}},
		})
		require.NoError(t, err)
		assertSQLMatches(t, query.SQL,
			`DELETE FROM "personal"."bank" AS "bank" WHERE ("bank"."name" = $1 OR "bank"."name" = $2)`)
	})

	t.Run("postgres everything", func(t *testing.T) {
		query, err := New(sqlutil.Postgres).CompileDelete(QuerySpec{Entity: reg.MustEntity("Bank")})
		require.NoError(t, err)
		assertSQLMatches(t, query.SQL, `DELETE FROM "personal"."bank" AS "bank"`)
		assert.Empty(t, query.Args)
	})

	t.Run("mysql join", func(t *testing.T) {
		query, err := New(sqlutil.MySQL).CompileDelete(QuerySpec{
			Entity:  reg.MustEntity("Bank"),
			Filters: Conditions(map[string]any{"currency__code": "USD"}),
		})
		require.NoError(t, err)
		assertSQLMatches(t, query.SQL,
			"DELETE `bank` FROM `personal`.`bank` AS `bank` "+
				"LEFT JOIN `personal`.`currency` AS `currency_1` ON `currency_1`.`id` = `bank`.`currency` "+
				"WHERE `currency_1`.`code` = ?")
	})

	t.Run("sliced row set", func(t *testing.T) {
		limit := uint64(1)
		_, err := New(sqlutil.Postgres).CompileDelete(QuerySpec{Entity: reg.MustEntity("Bank"), Limit: &limit})
		assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)

		_, err = New(sqlutil.Postgres).CompileDelete(QuerySpec{Entity: reg.MustEntity("Bank"), Offset: 1})
		assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
	})
}

func TestQuerySpec_Clone(t *testing.T) {
	limit := uint64(5)
	spec := QuerySpec{Filters: []Condition{{Key: "a", Value: 1}}, Limit: &limit}
	clone := spec.Clone()
	clone.Filters = append(clone.Filters, Condition{Key: "b", Value: 2})
	*clone.Limit = 9

	assert.Len(t, spec.Filters, 1)
	assert.Equal(t, uint64(5), *spec.Limit)
}

func assertSQLMatches(t *testing.T, got string, candidates ...string) {
	t.Helper()

	gotNorm := normalizeSQL(got)
	for _, candidate := range candidates {
		if gotNorm == normalizeSQL(candidate) {
			return
		}
	}

	assert.Fail(t, "SQL did not match any expected form", "got: %q candidates: %v", gotNorm, candidates)
}

// Accept either bound args or literal LIMIT/OFFSET in SQL.
func assertLimitOffsetArgs(t *testing.T, sql string, args []interface{}, limit, offset int) {
	t.Helper()

	if len(args) == 0 {
		normalized := normalizeSQL(sql)
		assert.Contains(t, normalized, fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset))
		return
	}

	expected := []interface{}{limit, offset}
	assertArgsEqual(t, args, expected)
}

// Compare args by string form to avoid int vs int64 differences.
func assertArgsEqual(t *testing.T, got []interface{}, expected []interface{}) {
	t.Helper()

	if len(got) != len(expected) {
		assert.Equal(t, len(expected), len(got))
		return
	}

	gotNorm := normalizeArgs(got)
	expectedNorm := normalizeArgs(expected)
	assert.Equal(t, expectedNorm, gotNorm)
}

// Normalize args to strings so numeric types compare consistently.
func normalizeArgs(args []interface{}) []string {
	normalized := make([]string, len(args))
	for i, arg := range args {
		normalized[i] = fmt.Sprintf("%v", arg)
	}
	return normalized
}

// Normalize SQL for stable comparisons across whitespace differences.
func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
