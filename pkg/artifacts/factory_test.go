package artifacts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_DefaultsToFS(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(context.Background(), Options{DataDir: dir})
	require.NoError(t, err)

	fs, ok := store.(*FileStore)
	require.True(t, ok, "got %T", store)
	assert.Equal(t, filepath.Join(dir, "artifacts"), fs.baseDir)
}

func TestNewStore_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(ctx, Options{Type: StoreTypeS3})
	assert.ErrorContains(t, err, "ARTIFACT_S3_BUCKET is required")

	_, err = NewStore(ctx, Options{Type: StoreTypeGCS})
	assert.ErrorContains(t, err, "ARTIFACT_GCS_BUCKET is required")

	_, err = NewStore(ctx, Options{Type: "tape"})
	assert.ErrorContains(t, err, "unsupported artifact storage type")
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte(`{"receipt_id":"r-1"}`)
	ref, err := store.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Ref(data), ref)

	again, err := store.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, ref, again, "content addressing is idempotent")

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref), "deleting twice is fine")

	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err = store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_RejectsBadRefs(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"", "md5:abcd", "sha256:zz", "sha256:abcd", "sha256:../../etc/passwd"} {
		_, err := store.Get(ctx, ref)
		assert.Error(t, err, ref)
		_, err = store.Exists(ctx, ref)
		assert.Error(t, err, ref)
		assert.Error(t, store.Delete(ctx, ref), ref)
	}
}
