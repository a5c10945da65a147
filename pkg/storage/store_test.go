package storage

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"film-forge-server/config"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(&config.Config{
		Storage: config.StorageConfig{MediaPath: t.TempDir()},
	})
	require.NoError(t, err)
	return store
}

func TestPutAndFilePath(t *testing.T) {
	store := newTestStore(t)

	handle, err := store.Put(strings.NewReader("fake mp4 bytes"), ".mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(handle, ".mp4"))
	assert.False(t, strings.HasPrefix(handle, "/"), "handles are relative paths")

	path, err := store.FilePath(handle)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fake mp4 bytes", string(data))
}

func TestPutNormalizesExtension(t *testing.T) {
	store := newTestStore(t)

	handle, err := store.Put(strings.NewReader("x"), "webm")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(handle, ".webm"))

	handle, err = store.Put(strings.NewReader("x"), "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(handle, ".mp4"))
}

func TestFetchCopiesTheObject(t *testing.T) {
	store := newTestStore(t)

	handle, err := store.Put(strings.NewReader("payload"), ".mp4")
	require.NoError(t, err)

	dest := t.TempDir() + "/part_0001.mp4"
	require.NoError(t, store.Fetch(handle, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFilePathRejectsEscapes(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FilePath("../../etc/passwd")
	require.Error(t, err)
}

func TestURLUsesDownloadRoute(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, "/api/v1/videos/download/20240102/x.mp4", store.URL("20240102/x.mp4"))
}
