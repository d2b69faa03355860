package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/queryerr"
)

func TestParseOrderBy(t *testing.T) {
	reg := banking(t)
	bank := reg.MustEntity("Bank")

	t.Run("defaults to the primary key", func(t *testing.T) {
		terms, err := ParseOrderBy(bank, nil)
		require.NoError(t, err)
		require.Len(t, terms, 1)
		assert.Equal(t, "id", terms[0].Column.Name)
		assert.Equal(t, "ASC", terms[0].Direction())
	})

	t.Run("descending prefix and several keys", func(t *testing.T) {
		terms, err := ParseOrderBy(bank, []string{"-name", " currency "})
		require.NoError(t, err)
		require.Len(t, terms, 2)
		assert.Equal(t, "name", terms[0].Column.Name)
		assert.Equal(t, "DESC", terms[0].Direction())
		assert.Equal(t, "currency", terms[1].Column.Name)
		assert.Equal(t, "ASC", terms[1].Direction())
	})

	errorCases := []struct {
		name string
		keys []string
		want string
	}{
		{name: "empty key", keys: []string{"-"}, want: "empty ordering key"},
		{name: "across a relation", keys: []string{"currency__code"}, want: "ordering across a relation is not supported"},
		{name: "unknown column", keys: []string{"owner"}, want: "Bank has no column owner"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOrderBy(bank, tt.keys)
			require.ErrorIs(t, err, queryerr.ErrInvalidQuery)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
