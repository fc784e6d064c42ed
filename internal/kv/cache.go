package kv

import (
	"bytes"
	"context"
	"sort"
)

type dirtyEntry struct {
	value   []byte
	deleted bool
}

// Cache 是单次调用的写缓冲。读取优先命中本次调用的写入，
// 扫描时将缓冲与底层有序合并。Cache 不是并发安全的。
type Cache struct {
	parent Reader
	dirty  map[string]dirtyEntry
}

var _ Store = (*Cache)(nil)

// NewCache 在 parent 之上创建写缓冲。
func NewCache(parent Reader) *Cache {
	return &Cache{parent: parent, dirty: make(map[string]dirtyEntry)}
}

// Get 实现 Reader。
func (c *Cache) Get(key []byte) ([]byte, error) {
	if entry, ok := c.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return bytes.Clone(entry.value), nil
	}
	return c.parent.Get(key)
}

// Set 实现 Store。
func (c *Cache) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	c.dirty[string(key)] = dirtyEntry{value: bytes.Clone(value)}
	return nil
}

// Delete 实现 Store。
func (c *Cache) Delete(key []byte) error {
	c.dirty[string(key)] = dirtyEntry{deleted: true}
	return nil
}

// Iterate 合并缓冲与底层数据，按 order 输出。
func (c *Cache) Iterate(start, end []byte, order Order, fn Visitor) error {
	pending := c.dirtyKeys(start, end, order)
	before := func(a, b []byte) bool {
		if order == Descending {
			return bytes.Compare(a, b) > 0
		}
		return bytes.Compare(a, b) < 0
	}

	stopped := false
	emitDirty := func(key []byte) (bool, error) {
		entry := c.dirty[string(key)]
		if entry.deleted {
			return true, nil
		}
		return fn(bytes.Clone(key), bytes.Clone(entry.value))
	}

	idx := 0
	err := c.parent.Iterate(start, end, order, func(key, value []byte) (bool, error) {
		for idx < len(pending) && before(pending[idx], key) {
			next, err := emitDirty(pending[idx])
			idx++
			if err != nil || !next {
				stopped = true
				return false, err
			}
		}
		if idx < len(pending) && bytes.Equal(pending[idx], key) {
			next, err := emitDirty(pending[idx])
			idx++
			if err != nil || !next {
				stopped = true
			}
			return next && err == nil, err
		}
		next, err := fn(key, value)
		if err != nil || !next {
			stopped = true
		}
		return next && err == nil, err
	})
	if err != nil || stopped {
		return err
	}
	for ; idx < len(pending); idx++ {
		next, err := emitDirty(pending[idx])
		if err != nil || !next {
			return err
		}
	}
	return nil
}

func (c *Cache) dirtyKeys(start, end []byte, order Order) [][]byte {
	keys := make([][]byte, 0, len(c.dirty))
	for k := range c.dirty {
		key := []byte(k)
		if inRange(key, start, end) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if order == Descending {
			return bytes.Compare(keys[i], keys[j]) > 0
		}
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	return keys
}

// Ops 返回按键排序的待提交批次。
func (c *Cache) Ops() []Op {
	ops := make([]Op, 0, len(c.dirty))
	for k, entry := range c.dirty {
		ops = append(ops, Op{Key: []byte(k), Value: entry.value, Delete: entry.deleted})
	}
	sort.Slice(ops, func(i, j int) bool { return bytes.Compare(ops[i].Key, ops[j].Key) < 0 })
	return ops
}

// Len 返回缓冲中的写入数量。
func (c *Cache) Len() int { return len(c.dirty) }

// Flush 将缓冲作为一个批次提交到 backend，成功后清空缓冲。
func (c *Cache) Flush(ctx context.Context, backend Backend) error {
	if len(c.dirty) == 0 {
		return nil
	}
	if err := backend.Apply(ctx, c.Ops()); err != nil {
		return err
	}
	c.Discard()
	return nil
}

// Discard 丢弃所有未提交的写入。
func (c *Cache) Discard() {
	c.dirty = make(map[string]dirtyEntry)
}
