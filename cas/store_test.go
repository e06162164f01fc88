package cas

import (
	"context"
	"testing"

	"github.com/bottletopbil/agent-network-sub002/swarmerr"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash, err := store.Put(ctx, []byte("hello swarm"))
	require.NoError(t, err)
	require.Len(t, hash, 64)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, []byte("hello swarm"), got)

	has, err := store.Has(ctx, hash)
	require.NoError(t, err)
	require.True(t, has)
}

func TestPutIsIdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	h1, err := store.Put(ctx, []byte("same content"))
	require.NoError(t, err)
	h2, err := store.Put(ctx, []byte("same content"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "00000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, swarmerr.ErrNotFound)
}

func TestPutJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash, err := store.PutJSON(ctx, map[string]any{"status": "success", "output": "x"})
	require.NoError(t, err)

	has, err := store.Has(ctx, hash)
	require.NoError(t, err)
	require.True(t, has)
}

func TestFactoryReportsBackend(t *testing.T) {
	store, isIPFS, err := GetCASStore(t.TempDir(), "", false)
	require.NoError(t, err)
	require.False(t, isIPFS)
	require.NotNil(t, store)
}
