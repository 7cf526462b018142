package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutAndGet(t *testing.T) {
	store, err := NewLocalStore(LocalStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	ref, err := store.Put(ctx, "export.csv", "text/csv", []byte("number\n15551234567\n"))
	require.NoError(t, err)
	assert.Equal(t, "export.csv", ref)

	body, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("number\n15551234567\n"), body)
}

func TestLocalStore_RejectsPathTraversal(t *testing.T) {
	store, err := NewLocalStore(LocalStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Put(ctx, "../escape.csv", "text/csv", nil)
	assert.Error(t, err)

	_, err = store.Get(ctx, "nested/name.csv")
	assert.Error(t, err)
}

func TestLocalStore_MissingArtifact(t *testing.T) {
	store, err := NewLocalStore(LocalStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "absent.csv")
	assert.Error(t, err)
}

func TestNewLocalStore_RequiresDir(t *testing.T) {
	_, err := NewLocalStore(LocalStoreOptions{})
	assert.Error(t, err)
}
