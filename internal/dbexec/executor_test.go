package dbexec

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardExecutor_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	rows, err := NewStandardExecutor(db).QueryContext(context.Background(), "SELECT 1")
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"n"}, cols)
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxExecutor_Exec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = NewTxExecutor(tx).ExecContext(context.Background(), "CREATE TABLE t (id int)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilHandle(t *testing.T) {
	_, err := NewStandardExecutor(nil).QueryContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)

	_, err = NewTxExecutor(nil).ExecContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
