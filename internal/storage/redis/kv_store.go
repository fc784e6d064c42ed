package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	// Namespace 是所有键的前缀，默认 agentledger。
	Namespace string
	PageSize  int
}

// KVStore 是 kv.Backend 的 Redis 实现。
type KVStore struct {
	client   redis.UniversalClient
	dataKey  string
	indexKey string
	pageSize int64
}

var _ kv.Backend = (*KVStore)(nil)

// Open 连接 Redis 并校验可用性。
func Open(ctx context.Context, cfg Config) (*KVStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("connect redis %s", cfg.Address))
	}
	return NewKVStore(client, cfg.Namespace, cfg.PageSize), nil
}

// NewKVStore 在已有客户端上构造存储。
func NewKVStore(client redis.UniversalClient, namespace string, pageSize int) *KVStore {
	if namespace == "" {
		namespace = "agentledger"
	}
	if pageSize <= 0 {
		pageSize = 256
	}
	return &KVStore{
		client:   client,
		dataKey:  namespace + ":kv",
		indexKey: namespace + ":keys",
		pageSize: int64(pageSize),
	}
}

// Get 实现 kv.Reader。
func (s *KVStore) Get(key []byte) ([]byte, error) {
	value, err := s.client.HGet(context.Background(), s.dataKey, string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis hget")
	}
	return value, nil
}

// lexBounds 把 [start, end) 转为 ZRANGEBYLEX 的 min/max。
func lexBounds(start, end []byte) (lo, hi string) {
	lo, hi = "-", "+"
	if start != nil {
		lo = "[" + string(start)
	}
	if end != nil {
		hi = "(" + string(end)
	}
	return lo, hi
}

// Iterate 按页扫描键索引，再批量读取值。
func (s *KVStore) Iterate(start, end []byte, order kv.Order, fn kv.Visitor) error {
	ctx := context.Background()
	lo, hi := lexBounds(start, end)
	for {
		by := &redis.ZRangeBy{Min: lo, Max: hi, Count: s.pageSize}
		var (
			keys []string
			err  error
		)
		if order == kv.Descending {
			keys, err = s.client.ZRevRangeByLex(ctx, s.indexKey, by).Result()
		} else {
			keys, err = s.client.ZRangeByLex(ctx, s.indexKey, by).Result()
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis zrangebylex")
		}
		if len(keys) == 0 {
			return nil
		}
		values, err := s.client.HMGet(ctx, s.dataKey, keys...).Result()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis hmget")
		}
		for i, key := range keys {
			raw, ok := values[i].(string)
			if !ok {
				continue
			}
			next, err := fn([]byte(key), []byte(raw))
			if err != nil {
				return err
			}
			if !next {
				return nil
			}
		}
		if int64(len(keys)) < s.pageSize {
			return nil
		}
		last := keys[len(keys)-1]
		if order == kv.Descending {
			hi = "(" + last
		} else {
			lo = "(" + last
		}
	}
}

// Apply 用 MULTI/EXEC 原子写入数据与索引。
func (s *KVStore) Apply(ctx context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			key := string(op.Key)
			if op.Delete {
				pipe.HDel(ctx, s.dataKey, key)
				pipe.ZRem(ctx, s.indexKey, key)
				continue
			}
			pipe.HSet(ctx, s.dataKey, key, op.Value)
			pipe.ZAdd(ctx, s.indexKey, redis.Z{Score: 0, Member: key})
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis exec")
	}
	return nil
}

// Close 关闭客户端。
func (s *KVStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
