package dbexec

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/sqlutil"
)

func TestAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("postgres search path", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta(`SET search_path TO "personal"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

		conn, err := Acquire(ctx, ConnConfig{DB: db, Dialect: sqlutil.Postgres, SearchPath: "personal"})
		require.NoError(t, err)

		rows, err := conn.QueryContext(ctx, "SELECT 1")
		require.NoError(t, err)
		require.NoError(t, rows.Close())

		require.NoError(t, conn.Close())
		require.NoError(t, conn.Close())

		_, err = conn.QueryContext(ctx, "SELECT 1")
		assert.ErrorIs(t, err, ErrConnClosed)
		_, err = conn.ExecContext(ctx, "SELECT 1")
		assert.ErrorIs(t, err, ErrConnClosed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mysql use database", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("USE `bank`")).WillReturnResult(sqlmock.NewResult(0, 0))

		conn, err := Acquire(ctx, ConnConfig{DB: db, Dialect: sqlutil.MySQL, SearchPath: "bank"})
		require.NoError(t, err)
		require.NoError(t, conn.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed preparation releases the connection", func(t *testing.T) {
		db, mock := newMockDB(t)
		boom := errors.New("no such schema")
		mock.ExpectExec("SET search_path").WillReturnError(boom)

		_, err := Acquire(ctx, ConnConfig{DB: db, SearchPath: "missing"})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, db.Stats().InUse)
	})

	t.Run("nil db", func(t *testing.T) {
		_, err := Acquire(ctx, ConnConfig{})
		assert.Error(t, err)
	})
}
