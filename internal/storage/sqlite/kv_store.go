// Package sqlite 使用纯 Go 的 modernc SQLite 驱动持久化账本，适合单机部署。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
	"AgentLedger-Chain/internal/storage/sqlkv"
)

const schema = `CREATE TABLE IF NOT EXISTS ledger_kv (
    k BLOB NOT NULL PRIMARY KEY,
    v BLOB NOT NULL
) WITHOUT ROWID`

// KVStore 是 kv.Backend 的 SQLite 实现。
type KVStore struct {
	*sqlkv.Store
}

var _ kv.Backend = KVStore{}

// Open 打开或创建数据库文件并建表。
func Open(ctx context.Context, path string) (KVStore, error) {
	if path == "" {
		return KVStore{}, xerrors.New(xerrors.CodeInitializationFailure, "sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return KVStore{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create sqlite directory")
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return KVStore{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open sqlite")
	}
	// 单连接串行化写入，避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return KVStore{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("ping sqlite %s", path))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return KVStore{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create ledger_kv")
	}
	return KVStore{Store: sqlkv.New(db, sqlkv.SQLite, 0)}, nil
}
