package kv

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	xerrors "AgentLedger-Chain/internal/errors"
)

func walk(it iterator.Iterator, order Order, fn Visitor) error {
	defer it.Release()
	var ok bool
	if order == Descending {
		ok = it.Last()
	} else {
		ok = it.First()
	}
	for ok {
		next, err := fn(bytes.Clone(it.Key()), bytes.Clone(it.Value()))
		if err != nil {
			return err
		}
		if !next {
			break
		}
		if order == Descending {
			ok = it.Prev()
		} else {
			ok = it.Next()
		}
	}
	if err := it.Error(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate")
	}
	return nil
}

// MemoryBackend 是基于 goleveldb memdb 跳表的内存有序存储，适用于测试与单机开发。
type MemoryBackend struct {
	mu sync.RWMutex
	db *memdb.DB
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend 创建内存存储。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{db: memdb.New(comparer.DefaultComparer, 0)}
}

// Get 实现 Reader。
func (m *MemoryBackend) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, err := m.db.Get(key)
	if stdErrors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "memdb get")
	}
	return bytes.Clone(value), nil
}

// Iterate 实现 Reader。
func (m *MemoryBackend) Iterate(start, end []byte, order Order, fn Visitor) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return walk(m.db.NewIterator(&util.Range{Start: start, Limit: end}), order, fn)
}

// Apply 在写锁内依次应用批次。
func (m *MemoryBackend) Apply(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		var err error
		if op.Delete {
			err = m.db.Delete(op.Key)
		} else {
			err = m.db.Put(op.Key, op.Value)
		}
		if err != nil && !stdErrors.Is(err, leveldb.ErrNotFound) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "memdb apply")
		}
	}
	return nil
}

// Close 释放内存。
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db.Reset()
	return nil
}

// LevelDBBackend 将账本持久化到本地 LevelDB 目录。
type LevelDBBackend struct {
	db   *leveldb.DB
	sync bool
}

var _ Backend = (*LevelDBBackend)(nil)

// OpenLevelDB 打开或创建数据目录。syncWrites 为 true 时每个批次都会 fsync。
func OpenLevelDB(path string, syncWrites bool) (*LevelDBBackend, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "leveldb path is empty")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("open leveldb %s", path))
	}
	return &LevelDBBackend{db: db, sync: syncWrites}, nil
}

// Get 实现 Reader。
func (l *LevelDBBackend) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if stdErrors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "leveldb get")
	}
	return value, nil
}

// Iterate 实现 Reader。
func (l *LevelDBBackend) Iterate(start, end []byte, order Order, fn Visitor) error {
	return walk(l.db.NewIterator(&util.Range{Start: start, Limit: end}, nil), order, fn)
}

// Apply 以单个 leveldb.Batch 原子写入。
func (l *LevelDBBackend) Apply(_ context.Context, ops []Op) error {
	batch := new(leveldb.Batch)
	for _, op := range ops {
		if op.Delete {
			batch.Delete(op.Key)
		} else {
			batch.Put(op.Key, op.Value)
		}
	}
	if err := l.db.Write(batch, &opt.WriteOptions{Sync: l.sync}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "leveldb write batch")
	}
	return nil
}

// Close 关闭数据库。
func (l *LevelDBBackend) Close() error {
	return l.db.Close()
}
