package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Path 构造带命名空间的复合键。
//
// 中间分量带 4 字节长度前缀，数值分量为 8 字节大端，
// 因此任意 Path 都是其扩展键的严格前缀，且同一前缀下数值按大小排序。
type Path struct {
	buf []byte
}

// Namespace 以命名空间开始一个 Path。
func Namespace(ns string) Path {
	return Path{}.Str(ns)
}

// Str 追加一个带长度前缀的字符串分量。长度超出前缀范围时 panic。
func (p Path) Str(s string) Path {
	if uint64(len(s)) > math.MaxUint32 {
		panic(fmt.Sprintf("kv: path component of %d bytes exceeds the length prefix", len(s)))
	}
	out := make([]byte, len(p.buf), len(p.buf)+4+len(s))
	copy(out, p.buf)
	out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	out = append(out, s...)
	return Path{buf: out}
}

// Uint64 追加一个定长数值分量。
func (p Path) Uint64(n uint64) Path {
	out := make([]byte, len(p.buf), len(p.buf)+8)
	copy(out, p.buf)
	return Path{buf: binary.BigEndian.AppendUint64(out, n)}
}

// Uint8 追加一个单字节枚举分量。
func (p Path) Uint8(n uint8) Path {
	out := make([]byte, len(p.buf), len(p.buf)+1)
	copy(out, p.buf)
	return Path{buf: append(out, n)}
}

// Key 返回以原始字符串结尾的完整键。末尾分量不带长度前缀，保证按字典序排列。
func (p Path) Key(tail string) []byte {
	out := make([]byte, len(p.buf), len(p.buf)+len(tail))
	copy(out, p.buf)
	return append(out, tail...)
}

// Bytes 返回 Path 本身的编码。
func (p Path) Bytes() []byte {
	return bytes.Clone(p.buf)
}

// Len 返回编码长度。
func (p Path) Len() int { return len(p.buf) }

// TailOf 去掉 Path 前缀，返回末尾原始分量。
func (p Path) TailOf(key []byte) (string, bool) {
	if !bytes.HasPrefix(key, p.buf) {
		return "", false
	}
	return string(key[len(p.buf):]), true
}

// Uint64Of 读取紧跟在 Path 之后的定长数值分量。
func (p Path) Uint64Of(key []byte) (uint64, bool) {
	if !bytes.HasPrefix(key, p.buf) || len(key) < len(p.buf)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(p.buf) : len(p.buf)+8]), true
}
