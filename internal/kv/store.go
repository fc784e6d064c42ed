// Package kv 定义账本使用的有序键值存储抽象。
//
// 合约逻辑只依赖 Store 接口；每次调用在 Cache 写缓冲上执行，
// 成功后以单个批次原子地提交到 Backend，失败则整体丢弃。
package kv

import (
	"bytes"
	"context"
)

// Order 指定范围扫描方向。
type Order int

const (
	Ascending Order = iota
	Descending
)

// Visitor 在扫描中依次接收键值。返回 false 停止扫描。
// 回调收到的切片归调用方所有。
type Visitor func(key, value []byte) (bool, error)

// Reader 提供点查和有序范围扫描。
type Reader interface {
	// Get 返回键对应的值；键不存在时返回 nil, nil。
	Get(key []byte) ([]byte, error)
	// Iterate 扫描 [start, end) 区间，nil 表示不设边界。
	Iterate(start, end []byte, order Order, fn Visitor) error
}

// Store 是合约执行期间可读写的存储视图。
type Store interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Op 描述批次中的一次写入或删除。
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Backend 是持久化引擎需要实现的接口。Apply 必须原子地应用整个批次。
type Backend interface {
	Reader
	Apply(ctx context.Context, ops []Op) error
	Close() error
}

// PrefixEnd 返回以 prefix 为前缀的所有键的上界（不含）。
// prefix 全为 0xff 时返回 nil，表示无上界。
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// inRange 判断 key 是否落在 [start, end)。
func inRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// ScanPrefix 扫描 prefix 下的键。after 非空时从该键之后（升序）或之前（降序）开始，不含 after 本身。
func ScanPrefix(r Reader, prefix, after []byte, order Order, fn Visitor) error {
	start, end := prefix, PrefixEnd(prefix)
	if after != nil {
		if order == Ascending {
			start = append(bytes.Clone(after), 0x00)
		} else {
			end = after
		}
	}
	return r.Iterate(start, end, order, fn)
}
