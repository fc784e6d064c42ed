package mysql

import (
	"context"
	"database/sql"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
	"AgentLedger-Chain/internal/storage/sqlkv"
)

// KVStore 是 kv.Backend 的 MySQL 实现。
type KVStore struct {
	*sqlkv.Store
}

var _ kv.Backend = KVStore{}

// Open 建立连接并执行迁移。
func Open(ctx context.Context, cfg Config) (KVStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return KVStore{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open mysql")
	}
	if err := migrate(ctx, db, nil); err != nil {
		db.Close()
		return KVStore{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "migrate mysql")
	}
	return NewKVStore(db, cfg.PageSize), nil
}

// NewKVStore 在已有连接上构造存储，不执行迁移。
func NewKVStore(db *sql.DB, pageSize int) KVStore {
	return KVStore{Store: sqlkv.New(db, sqlkv.MySQL, pageSize)}
}
