package kv

import (
	"encoding/json"
	"fmt"

	xerrors "AgentLedger-Chain/internal/errors"
)

func encode(label string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode "+label)
	}
	return raw, nil
}

func decode(label string, raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode "+label)
	}
	return nil
}

// Item 是单个键上的类型化记录。
type Item[T any] struct {
	key   []byte
	label string
}

// NewItem 创建单例记录。
func NewItem[T any](ns string) Item[T] {
	return Item[T]{key: Namespace(ns).Bytes(), label: ns}
}

// Get 读取记录；不存在时 ok 为 false。
func (i Item[T]) Get(r Reader) (T, bool, error) {
	var v T
	raw, err := r.Get(i.key)
	if err != nil || raw == nil {
		return v, false, err
	}
	if err := decode(i.label, raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Load 读取记录；不存在时返回 NOT_FOUND。
func (i Item[T]) Load(r Reader) (T, error) {
	v, ok, err := i.Get(r)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, xerrors.New(xerrors.CodeNotFound, i.label+" not found")
	}
	return v, nil
}

// Save 写入记录。
func (i Item[T]) Save(s Store, v T) error {
	raw, err := encode(i.label, v)
	if err != nil {
		return err
	}
	return s.Set(i.key, raw)
}

// Map 是以字符串 id 为键的类型化集合，按 id 字典序排列。
type Map[T any] struct {
	prefix Path
	label  string
}

// NewMap 创建集合。label 用于错误信息，例如 "agent"。
func NewMap[T any](ns, label string) Map[T] {
	return Map[T]{prefix: Namespace(ns), label: label}
}

// Label 返回集合的实体名称。
func (m Map[T]) Label() string { return m.label }

// Get 读取记录；不存在时 ok 为 false。
func (m Map[T]) Get(r Reader, id string) (T, bool, error) {
	var v T
	raw, err := r.Get(m.prefix.Key(id))
	if err != nil || raw == nil {
		return v, false, err
	}
	if err := decode(m.label, raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Load 读取记录；不存在时返回 NOT_FOUND。
func (m Map[T]) Load(r Reader, id string) (T, error) {
	v, ok, err := m.Get(r, id)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("%s not found: %s", m.label, id))
	}
	return v, nil
}

// Has 判断记录是否存在。
func (m Map[T]) Has(r Reader, id string) (bool, error) {
	raw, err := r.Get(m.prefix.Key(id))
	return raw != nil, err
}

// Save 写入记录。
func (m Map[T]) Save(s Store, id string, v T) error {
	raw, err := encode(m.label, v)
	if err != nil {
		return err
	}
	return s.Set(m.prefix.Key(id), raw)
}

// Remove 删除记录。
func (m Map[T]) Remove(s Store, id string) error {
	return s.Delete(m.prefix.Key(id))
}

// Range 按 id 顺序遍历，startAfter 非空时从其后开始。
func (m Map[T]) Range(r Reader, startAfter string, order Order, fn func(id string, v T) (bool, error)) error {
	var after []byte
	if startAfter != "" {
		after = m.prefix.Key(startAfter)
	}
	return ScanPrefix(r, m.prefix.Bytes(), after, order, func(key, raw []byte) (bool, error) {
		id, _ := m.prefix.TailOf(key)
		var v T
		if err := decode(m.label, raw, &v); err != nil {
			return false, err
		}
		return fn(id, v)
	})
}

// Count 返回集合中的记录数。
func (m Map[T]) Count(r Reader) (uint64, error) {
	var n uint64
	err := ScanPrefix(r, m.prefix.Bytes(), nil, Ascending, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}
