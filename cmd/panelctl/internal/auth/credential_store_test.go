package auth

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	_, ok, err := store.Get("token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set("token", "abc"))
	require.NoError(t, store.Set("refreshToken", "def"))

	v, ok, err := store.Get("token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	// A second store on the same file sees the persisted values.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err = reopened.Get("refreshToken")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "def", v)
}

func TestFileStore_DeleteRemovesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Delete("missing"))
	require.NoError(t, store.Set("token", "abc"))
	require.NoError(t, store.Delete("token"))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files are left behind")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, _, err = store.Get("token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal session file")

	// A write replaces the unreadable file.
	require.NoError(t, store.Set("token", "abc"))
	v, ok, err := store.Get("token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestFileStore_DeleteClearsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := NewFileStore(path, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, store.Delete("token"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, ok, err := store.Get("token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_EmptyFileIsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok, err := store.Get("token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := NewFileStore("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".panel", "session.json"), store.Path())
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			assert.NoError(t, store.Set(k, k+"-value"))
		}(k)
	}
	wg.Wait()

	for _, k := range keys {
		v, ok, err := store.Get(k)
		require.NoError(t, err)
		require.True(t, ok, k)
		assert.Equal(t, k+"-value", v)
	}
}
