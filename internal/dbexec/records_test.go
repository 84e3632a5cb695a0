package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"relload/internal/record"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `users`.* FROM `users` WHERE `users`.`id` IN (?,?)")).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "nickname"}).
			AddRow(int64(1), []byte("ada"), nil).
			AddRow(int64(2), "grace", "amazing"))

	exec := NewStandardExecutor(db)
	rows, err := QueryRecords(context.Background(), exec,
		"SELECT `users`.* FROM `users` WHERE `users`.`id` IN (?,?)", 1, 2)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, record.Record{"id": int64(1), "name": "ada", "nickname": nil}, rows[0])
	assert.Equal(t, record.Record{"id": int64(2), "name": "grace", "nickname": "amazing"}, rows[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRecordsPropagatesErrors(t *testing.T) {
	t.Run("query error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		boom := errors.New("connection reset")
		mock.ExpectQuery("SELECT").WillReturnError(boom)

		_, err = QueryRecords(context.Background(), NewStandardExecutor(db), "SELECT 1")
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		boom := errors.New("row broke")
		mock.ExpectQuery("SELECT").WillReturnRows(
			sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, boom))

		_, err = QueryRecords(context.Background(), NewStandardExecutor(db), "SELECT id")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil database", func(t *testing.T) {
		_, err := QueryRecords(context.Background(), NewStandardExecutor(nil), "SELECT 1")
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})

	t.Run("nil executor", func(t *testing.T) {
		_, err := QueryRecords(context.Background(), nil, "SELECT 1")
		assert.Error(t, err)
	})
}

func TestExecutorFunc(t *testing.T) {
	called := false
	exec := ExecutorFunc(func(ctx context.Context, query string, args ...any) (Rows, error) {
		called = true
		assert.Equal(t, "SELECT 1", query)
		return nil, sql.ErrNoRows
	})

	_, err := QueryRecords(context.Background(), exec, "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.True(t, called)
}
