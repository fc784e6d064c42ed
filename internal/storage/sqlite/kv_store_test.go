package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"AgentLedger-Chain/internal/kv"
	"AgentLedger-Chain/internal/kv/kvtest"
)

func TestKVStoreConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		store, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestKVStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, store.Apply(context.Background(), []kv.Op{{Key: []byte("config"), Value: []byte(`{"denom":"uusd"}`)}}))
	require.NoError(t, store.Close())

	store, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()
	value, err := store.Get([]byte("config"))
	require.NoError(t, err)
	require.JSONEq(t, `{"denom":"uusd"}`, string(value))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
