package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextBatch(t *testing.T, w *Watcher) []string {
	t.Helper()
	select {
	case batch := <-w.Changes():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return nil
	}
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, ShaderExtensions, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	frag := filepath.Join(dir, "unlit.frag")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(frag, []byte("void main() {}"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	assert.Equal(t, []string{frag}, nextBatch(t, w))
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, ShaderExtensions, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "post", "blur")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	vert := filepath.Join(sub, "blur.VERT")
	require.NoError(t, os.WriteFile(vert, []byte("void main() {}"), 0o644))

	assert.Contains(t, nextBatch(t, w), vert)
}

func TestWatcherIgnoresExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.comp")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	w, err := NewWatcher(dir, nil, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	fresh := filepath.Join(dir, "fresh.bin")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	assert.Equal(t, []string{fresh}, nextBatch(t, w))
}

func TestWatcherClose(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, open := <-w.Changes()
	assert.False(t, open)
	assert.ErrorIs(t, w.Close(), ErrWatcherClosed)
	assert.ErrorIs(t, w.Add(t.TempDir()), ErrWatcherClosed)
}

func TestNewWatcherMissingRoot(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil, 0)
	assert.Error(t, err)
}
