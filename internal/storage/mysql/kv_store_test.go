package mysql

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

func newMock(t *testing.T, pageSize int) (KVStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewKVStore(db, pageSize), mock
}

func TestKVStoreGet(t *testing.T) {
	t.Parallel()
	store, mock := newMock(t, 0)

	const query = `SELECT v FROM ledger_kv WHERE k = ?`
	mock.ExpectQuery(query).WithArgs([]byte("agent-1")).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow([]byte(`{"id":"agent-1"}`)))
	mock.ExpectQuery(query).WithArgs([]byte("agent-2")).
		WillReturnRows(sqlmock.NewRows([]string{"v"}))

	value, err := store.Get([]byte("agent-1"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"agent-1"}`, string(value))

	value, err = store.Get([]byte("agent-2"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestKVStoreIteratePages(t *testing.T) {
	t.Parallel()
	store, mock := newMock(t, 2)

	mock.ExpectQuery(`SELECT k, v FROM ledger_kv WHERE k >= ? AND k < ? ORDER BY k ASC LIMIT ?`).
		WithArgs([]byte("a"), []byte("c"), 2).
		WillReturnRows(sqlmock.NewRows([]string{"k", "v"}).AddRow([]byte("a1"), []byte("1")).AddRow([]byte("a2"), []byte("2")))
	mock.ExpectQuery(`SELECT k, v FROM ledger_kv WHERE k > ? AND k < ? ORDER BY k ASC LIMIT ?`).
		WithArgs([]byte("a2"), []byte("c"), 2).
		WillReturnRows(sqlmock.NewRows([]string{"k", "v"}).AddRow([]byte("b1"), []byte("3")))

	var keys []string
	err := store.Iterate([]byte("a"), []byte("c"), kv.Ascending, func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2", "b1"}, keys)
}

func TestKVStoreIterateDescendingStopsEarly(t *testing.T) {
	t.Parallel()
	store, mock := newMock(t, 2)

	mock.ExpectQuery(`SELECT k, v FROM ledger_kv WHERE k < ? ORDER BY k DESC LIMIT ?`).
		WithArgs([]byte("z"), 2).
		WillReturnRows(sqlmock.NewRows([]string{"k", "v"}).AddRow([]byte("y"), []byte("1")).AddRow([]byte("x"), []byte("2")))

	var keys []string
	err := store.Iterate(nil, []byte("z"), kv.Descending, func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, keys)
}

func TestKVStoreApply(t *testing.T) {
	t.Parallel()
	store, mock := newMock(t, 0)

	const upsert = `INSERT INTO ledger_kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)`
	mock.ExpectBegin()
	mock.ExpectExec(upsert).WithArgs([]byte("k1"), []byte("v1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM ledger_kv WHERE k = ?`).WithArgs([]byte("k2")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Apply(context.Background(), []kv.Op{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Delete: true},
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(upsert).WithArgs([]byte("k3"), []byte("v3")).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err = store.Apply(context.Background(), []kv.Op{{Key: []byte("k3"), Value: []byte("v3")}})
	require.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))

	require.NoError(t, store.Apply(context.Background(), nil))
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	files := fstest.MapFS{
		"0001_ledger_kv.sql": {Data: []byte("CREATE TABLE a (k INT);")},
		"0002_extra.sql":     {Data: []byte("CREATE TABLE b (k INT); CREATE TABLE c (k INT);")},
		"README.md":          {Data: []byte("ignored")},
	}

	mock.ExpectExec(createVersionTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM ledger_schema_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE b (k INT)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE c (k INT)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO ledger_schema_versions (version, applied_at) VALUES (?, ?)`).
		WithArgs("0002", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, migrate(context.Background(), db, files))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrationCreatesLedgerTable(t *testing.T) {
	t.Parallel()
	files, err := loadMigrationFiles(nil)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Equal(t, "0001", files[0].version)
	require.Contains(t, files[0].statements[0], "ledger_kv")
}
