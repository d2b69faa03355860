package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/queryerr"
	"relmap/internal/schema/schematest"
)

type fakeRow struct{ id int64 }

func (f fakeRow) PrimaryKeyValue() any { return f.id }

func TestParse(t *testing.T) {
	reg := schematest.Banking()
	bank := reg.MustEntity("Bank")
	currency := reg.MustEntity("Currency")
	tx := reg.MustEntity("Transaction")

	tests := []struct {
		name       string
		key        string
		value      any
		wantPath   []string
		wantEntity string
		wantColumn string
		wantOp     Operator
	}{
		{name: "bare column", key: "name", value: "B1", wantEntity: "Bank", wantColumn: "name", wantOp: OpEqual},
		{name: "operator on root column", key: "name__startswith", value: "B", wantEntity: "Bank", wantColumn: "name", wantOp: OpStartsWith},
		{name: "one hop", key: "currency__code", value: "USD", wantPath: []string{"currency"}, wantEntity: "Currency", wantColumn: "code", wantOp: OpEqual},
		{name: "one hop with operator", key: "currency__code__iexact", value: "usd", wantPath: []string{"currency"}, wantEntity: "Currency", wantColumn: "code", wantOp: OpIExact},
		{name: "pk alias", key: "pk", value: 1, wantEntity: "Bank", wantColumn: "id", wantOp: OpEqual},
		{name: "pk through a hop", key: "currency__pk__gt", value: 1, wantPath: []string{"currency"}, wantEntity: "Currency", wantColumn: "id", wantOp: OpGT},
		{name: "foreign key column itself", key: "currency", value: 7, wantEntity: "Bank", wantColumn: "currency", wantOp: OpEqual},
		{name: "case is normalized", key: "Currency__CODE", value: "USD", wantPath: []string{"currency"}, wantEntity: "Currency", wantColumn: "code", wantOp: OpEqual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lk, err := Parse(bank, tt.key, tt.value)
			require.NoError(t, err)

			var path []string
			for _, hop := range lk.Path {
				path = append(path, hop.Column.Name)
			}
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantEntity, lk.Entity.Name)
			assert.Equal(t, tt.wantColumn, lk.Column.Name)
			assert.Equal(t, tt.wantOp, lk.Operator)
			assert.Equal(t, tt.key, lk.Key)
		})
	}

	t.Run("two hops", func(t *testing.T) {
		lk, err := Parse(tx, "bank__currency__code__startswith", "U")
		require.NoError(t, err)
		require.Len(t, lk.Path, 2)
		assert.Same(t, tx, lk.Path[0].Entity)
		assert.Same(t, bank, lk.Path[0].Target())
		assert.Same(t, bank, lk.Path[1].Entity)
		assert.Same(t, currency, lk.Path[1].Target())
		assert.Equal(t, OpStartsWith, lk.Operator)
	})
}

func TestParse_Errors(t *testing.T) {
	bank := schematest.Banking().MustEntity("Bank")

	tests := []struct {
		name  string
		key   string
		value any
		want  string
	}{
		{name: "empty key", key: "  ", want: "empty lookup key"},
		{name: "empty segment", key: "currency____code", want: "malformed"},
		{name: "non foreign key in path", key: "name__code", want: "name is not a foreign key of Bank"},
		{name: "unknown column", key: "colour", want: "Bank has no column colour"},
		{name: "unknown column after hop", key: "currency__name", want: "Currency has no column name"},
		{name: "unknown operator is a column", key: "name__like", want: "name is not a foreign key"},
		{name: "operator alone is a column", key: "gt", want: "Bank has no column gt"},
		{name: "in with scalar", key: "id__in", value: 3, want: "requires a slice"},
		{name: "in with string", key: "name__in", value: "abc", want: "requires a slice"},
		{name: "in with nil", key: "name__in", value: nil, want: "requires a slice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(bank, tt.key, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_Values(t *testing.T) {
	bank := schematest.Banking().MustEntity("Bank")

	lk, err := Parse(bank, "id__in", []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, lk.Value)

	lk, err = Parse(bank, "id__in", [2]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, lk.Value)

	lk, err = Parse(bank, "currency", fakeRow{id: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), lk.Value)

	lk, err = Parse(bank, "currency__in", []any{fakeRow{id: 1}, int64(2)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, lk.Value)
}

func TestOperator_CaseInsensitive(t *testing.T) {
	assert.True(t, OpIExact.CaseInsensitive())
	assert.True(t, OpIContains.CaseInsensitive())
	assert.False(t, OpContains.CaseInsensitive())
	assert.False(t, OpEqual.CaseInsensitive())
}

func TestSequence(t *testing.T) {
	_, ok := Sequence([]byte("raw"))
	assert.False(t, ok)

	items, ok := Sequence([]string{})
	assert.True(t, ok)
	assert.Empty(t, items)
}

func TestParsePath(t *testing.T) {
	reg := schematest.Banking()
	tx := reg.MustEntity("Transaction")

	hops, err := ParsePath(tx, "bank__currency")
	require.NoError(t, err)
	require.Len(t, hops, 2)
	assert.Equal(t, "bank", hops[0].Column.Name)
	assert.Equal(t, "Currency", hops[1].Target().Name)

	_, err = ParsePath(tx, "bank__name")
	assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)

	_, err = ParsePath(tx, "")
	assert.ErrorIs(t, err, queryerr.ErrInvalidQuery)
}
