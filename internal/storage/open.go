// Package storage 根据配置选择账本状态后端。
package storage

import (
	"context"
	"time"

	"AgentLedger-Chain/internal/config"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
	"AgentLedger-Chain/internal/storage/mysql"
	"AgentLedger-Chain/internal/storage/redis"
	"AgentLedger-Chain/internal/storage/sqlite"
)

// Open 打开配置指定的后端。
func Open(ctx context.Context, cfg config.StorageConfig) (kv.Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return kv.NewMemoryBackend(), nil
	case "leveldb":
		return opened(kv.OpenLevelDB(cfg.LevelDB.Path, cfg.LevelDB.SyncWrites))
	case "sqlite":
		return opened(sqlite.Open(ctx, cfg.SQLite.Path))
	case "mysql":
		return opened(mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			PageSize:        cfg.MySQL.PageSize,
		}))
	case "redis":
		return opened(redis.Open(ctx, redis.Config{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
			PageSize:  cfg.Redis.PageSize,
		}))
	default:
		return nil, xerrors.Newf(xerrors.CodeMisconfiguration, "unsupported storage driver %q", cfg.Driver)
	}
}

// opened 避免把失败时的类型化 nil 装进接口。
func opened[T kv.Backend](backend T, err error) (kv.Backend, error) {
	if err != nil {
		return nil, err
	}
	return backend, nil
}
