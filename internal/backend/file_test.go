package backend_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielsz/konserve/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_Contract(t *testing.T) {
	f, err := backend.NewFile(t.TempDir())
	require.NoError(t, err)
	runContract(t, f)
}

func TestFile_EmptyDir(t *testing.T) {
	_, err := backend.NewFile("")
	require.Error(t, err)
}

func TestFile_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	f, err := backend.NewFile(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, f.Dir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFile_KeysSkipForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := backend.NewFile(dir)
	require.NoError(t, err)

	require.NoError(t, f.Write(ctx, "../escape", []byte("v")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("x"), 0o644))

	keys, err := f.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"../escape"}, keys)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), "/"))
	}
}

func TestFile_KeyTooLong(t *testing.T) {
	f, err := backend.NewFile(t.TempDir())
	require.NoError(t, err)
	err = f.Write(context.Background(), strings.Repeat("k", 400), []byte("v"))
	require.Error(t, err)
}

func TestFile_CancelledContext(t *testing.T) {
	f, err := backend.NewFile(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.Write(ctx, "k", []byte("v")), context.Canceled)
	_, err = f.Read(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}
