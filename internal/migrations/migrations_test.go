package migrations

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"pg-engine/internal/dbexec"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner(t *testing.T) (*Runner, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := filepath.Join(t.TempDir(), "migrations")
	r := New(dir, dbexec.NewStandardExecutor(db), slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.UnixMilli(1700000000000)
	r.now = func() time.Time { return clock }
	ids := 0
	r.newID = func() string {
		ids++
		return []string{"first", "second", "third"}[ids-1]
	}
	return r, mock, dir
}

func writeFile(t *testing.T, dir string, m Migration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, m.Filename), data, 0o644))
}

func TestCreate_RecordsAppliedFile(t *testing.T) {
	r, mock, dir := newRunner(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id int)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id int)")).WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := r.Create(context.Background(), "CREATE TABLE a (id int)", "DROP TABLE a")
	require.NoError(t, err)
	second, err := r.Create(context.Background(), "CREATE TABLE b (id int)", "DROP TABLE b")
	require.NoError(t, err)

	assert.Equal(t, "1700000000000__migration.json", first.Filename)
	assert.Equal(t, "1700000000001__migration.json", second.Filename)
	assert.Equal(t, "first", first.ID)
	assert.True(t, first.Applied)
	assert.Equal(t, "Tue, 14 Nov 2023 22:13:20 GMT", first.Timestamp)

	all, err := r.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "DROP TABLE b", all[1].Down)
	assert.Equal(t, []any{}, all[0].Args)
	assert.True(t, r.Exists())
	_, err = os.Stat(filepath.Join(dir, first.Filename))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RequiresBothStatements(t *testing.T) {
	r, _, _ := newRunner(t)
	_, err := r.Create(context.Background(), "CREATE TABLE a (id int)", " ")
	assert.Error(t, err)
}

func TestCreate_FailureWritesNothing(t *testing.T) {
	r, mock, _ := newRunner(t)
	mock.ExpectExec("CREATE").WillReturnError(errors.New("syntax error"))

	_, err := r.Create(context.Background(), "CREATE TABLE", "DROP TABLE a")
	require.Error(t, err)
	all, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApply_RunsPendingInOrder(t *testing.T) {
	r, mock, dir := newRunner(t)
	writeFile(t, dir, Migration{Filename: "1600000000002__migration.json", Up: "UP 2", Down: "DOWN 2", ID: "b"})
	writeFile(t, dir, Migration{Filename: "1600000000001__migration.json", Up: "UP 1", Down: "DOWN 1", ID: "a", Applied: true})
	writeFile(t, dir, Migration{Filename: "1600000000003__migration.json", Up: "UP 3 $1", Down: "DOWN 3", ID: "c", Args: []any{"x"}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	mock.ExpectExec(regexp.QuoteMeta("UP 2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UP 3 $1")).WithArgs("x").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := r.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := r.List()
	require.NoError(t, err)
	for _, m := range all {
		assert.True(t, m.Applied, m.Filename)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_StopsAtFailure(t *testing.T) {
	r, mock, dir := newRunner(t)
	writeFile(t, dir, Migration{Filename: "1600000000001__migration.json", Up: "UP 1", ID: "a"})
	writeFile(t, dir, Migration{Filename: "1600000000002__migration.json", Up: "UP 2", ID: "b"})
	mock.ExpectExec(regexp.QuoteMeta("UP 1")).WillReturnError(errors.New("boom"))

	n, err := r.Apply(context.Background())
	require.ErrorContains(t, err, "1600000000001__migration.json")
	assert.Zero(t, n)
	all, _ := r.List()
	assert.False(t, all[0].Applied)
	assert.False(t, all[1].Applied)
}

func TestRollback(t *testing.T) {
	r, mock, dir := newRunner(t)
	writeFile(t, dir, Migration{Filename: "1600000000001__migration.json", Up: "UP 1", Down: "DOWN 1", ID: "a", Applied: true})
	writeFile(t, dir, Migration{Filename: "1600000000002__migration.json", Up: "UP 2", Down: "DOWN 2", ID: "b", Applied: true})
	writeFile(t, dir, Migration{Filename: "1600000000003__migration.json", Up: "UP 3", Down: "DOWN 3", ID: "c", Applied: true})

	mock.ExpectExec(regexp.QuoteMeta("DOWN 3")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DOWN 2")).WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := r.Rollback(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := r.List()
	require.NoError(t, err)
	assert.True(t, all[0].Applied)
	assert.False(t, all[1].Applied)
	assert.False(t, all[2].Applied)

	_, err = r.Rollback(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReset(t *testing.T) {
	r, mock, dir := newRunner(t)
	writeFile(t, dir, Migration{Filename: "1600000000001__migration.json", Up: "UP 1", ID: "a", Applied: true})

	mock.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "app" CASCADE`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA "app"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.Reset(context.Background(), "app"))
	assert.False(t, r.Exists())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartup_RecordsAdditionalOnce(t *testing.T) {
	r, mock, dir := newRunner(t)
	writeFile(t, dir, Migration{Filename: "1600000000001__migration.json", Up: "CREATE TABLE a (id int)", Down: "DROP TABLE a", ID: "a", Applied: true})
	writeFile(t, dir, Migration{Filename: "1600000000002__migration.json", Up: "UP 2", Down: "DOWN 2", ID: "b"})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id int)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UP 2")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.Startup(context.Background(), StartupOptions{
		Schema: "public",
		Additional: []Spec{
			{Up: "CREATE TABLE a (id int)", Down: "DROP TABLE a"},
			{Up: "CREATE TABLE b (id int)", Down: "DROP TABLE b"},
		},
	})
	require.NoError(t, err)

	all, err := r.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "CREATE TABLE b (id int)", all[2].Up)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_MissingDir(t *testing.T) {
	r, _, _ := newRunner(t)
	all, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.False(t, r.Exists())
}
