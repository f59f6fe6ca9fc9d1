package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStore_Save(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "sounds")
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	name, n, err := store.Save("airhorn.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	require.Equal(t, int64(len("audio-bytes")), n)
	require.True(t, strings.HasSuffix(name, "-airhorn.mp3"))
	require.Equal(t, dir, store.Dir())

	// The clip must be readable from where the static file server looks.
	content, err := os.ReadFile(filepath.Join(store.Dir(), name))
	require.NoError(t, err)
	require.Equal(t, "audio-bytes", string(content))
}

func TestLocalStore_UniqueNames(t *testing.T) {
	t.Parallel()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	first, _, err := store.Save("clip.mp3", strings.NewReader("one"))
	require.NoError(t, err)
	second, _, err := store.Save("clip.mp3", strings.NewReader("two"))
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestLocalStore_TraversalContained(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	name, _, err := store.Save("../../etc/passwd", strings.NewReader("nope"))
	require.NoError(t, err)

	// The file must land inside the store dir under a flattened name.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, name, entries[0].Name())
	require.NotContains(t, name, "..")
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "clip.mp3", sanitizeFilename("clip.mp3"))
	require.Equal(t, "clip.mp3", sanitizeFilename("nested/dir/clip.mp3"))
	require.Equal(t, "unnamed", sanitizeFilename(""))
	require.Equal(t, "unnamed", sanitizeFilename(".."))
	require.Equal(t, "unnamed", sanitizeFilename("."))
}
