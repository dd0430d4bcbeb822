package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClaraKoka/cocalc/pkg/types"
)

func TestLocalStoreRoundtrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	exists, err := store.Exists(ctx, "blob-1")
	require.NoError(t, err)
	assert.False(t, exists)

	err = store.Save(ctx, "blob-1", []byte("hello"))
	require.NoError(t, err)

	exists, err = store.Exists(ctx, "blob-1")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "blob-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestLocalStoreRequiresDir(t *testing.T) {
	_, err := NewLocalStore("")
	assert.Error(t, err)
}

func TestNewSelectsLocalByDefault(t *testing.T) {
	store, err := New(types.BlobConfig{LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(types.BlobConfig{Mode: "ftp"})
	assert.Error(t, err)
}
