// Package kvtest 提供 kv.Backend 实现共用的一致性测试。
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"AgentLedger-Chain/internal/kv"
)

// Factory 为每个子测试创建一个空的后端。
type Factory func(t *testing.T) kv.Backend

func collect(t *testing.T, r kv.Reader, start, end []byte, order kv.Order, limit int) []string {
	t.Helper()
	var keys []string
	err := r.Iterate(start, end, order, func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return limit <= 0 || len(keys) < limit, nil
	})
	require.NoError(t, err)
	return keys
}

func seed(t *testing.T, b kv.Backend, keys ...string) {
	t.Helper()
	ops := make([]kv.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, kv.Op{Key: []byte(k), Value: []byte("v:" + k)})
	}
	require.NoError(t, b.Apply(context.Background(), ops))
}

// Run 执行全部一致性用例。
func Run(t *testing.T, newBackend Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		value, err := b.Get([]byte("absent"))
		require.NoError(t, err)
		require.Nil(t, value)
	})

	t.Run("ApplyPutAndDelete", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b, "a", "b")
		require.NoError(t, b.Apply(context.Background(), []kv.Op{
			{Key: []byte("a"), Value: []byte("updated")},
			{Key: []byte("b"), Delete: true},
			{Key: []byte("missing"), Delete: true},
		}))

		value, err := b.Get([]byte("a"))
		require.NoError(t, err)
		require.Equal(t, "updated", string(value))
		value, err = b.Get([]byte("b"))
		require.NoError(t, err)
		require.Nil(t, value)
	})

	t.Run("IterateRangeBothOrders", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b, "ag\x00\x01", "ag\x00\x02", "ag\x00\x03", "ag\x01", "b")

		require.Equal(t, []string{"ag\x00\x01", "ag\x00\x02", "ag\x00\x03"},
			collect(t, b, []byte("ag\x00"), []byte("ag\x01"), kv.Ascending, 0))
		require.Equal(t, []string{"ag\x00\x03", "ag\x00\x02"},
			collect(t, b, []byte("ag\x00"), []byte("ag\x01"), kv.Descending, 2))
		require.Len(t, collect(t, b, nil, nil, kv.Ascending, 0), 5)
	})

	t.Run("ScanPrefixAfterCursor", func(t *testing.T) {
		b := newBackend(t)
		prefix := kv.Namespace("tx").Str("agent-1")
		var keys []string
		for i := uint64(1); i <= 5; i++ {
			keys = append(keys, string(prefix.Uint64(i).Bytes()))
		}
		seed(t, b, keys...)

		var got []uint64
		err := kv.ScanPrefix(b, prefix.Bytes(), prefix.Uint64(2).Bytes(), kv.Ascending, func(key, _ []byte) (bool, error) {
			n, ok := prefix.Uint64Of(key)
			require.True(t, ok)
			got = append(got, n)
			return true, nil
		})
		require.NoError(t, err)
		require.Equal(t, []uint64{3, 4, 5}, got)
	})

	t.Run("CacheFlushIsVisible", func(t *testing.T) {
		b := newBackend(t)
		seed(t, b, "k1")
		cache := kv.NewCache(b)
		require.NoError(t, cache.Set([]byte("k2"), []byte("v2")))
		require.NoError(t, cache.Delete([]byte("k1")))
		require.Equal(t, []string{"k2"}, collect(t, cache, nil, nil, kv.Ascending, 0))
		require.NoError(t, cache.Flush(context.Background(), b))
		require.Equal(t, []string{"k2"}, collect(t, b, nil, nil, kv.Ascending, 0))
	})
}
