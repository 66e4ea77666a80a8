package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritableRoot_IsPathWritable(t *testing.T) {
	root := WritableRoot{
		Root:         "/workspace",
		ReadOnlySubs: []string{".git", ".cortex"},
	}

	assert.True(t, root.IsPathWritable("/workspace/src/main.go"))
	assert.True(t, root.IsPathWritable("/workspace"))
	assert.False(t, root.IsPathWritable("/workspace/.git/HEAD"))
	assert.False(t, root.IsPathWritable("/workspace/.cortex/session.json"))
	assert.False(t, root.IsPathWritable("/elsewhere/file.txt"))
}

func TestResolveAndValidate(t *testing.T) {
	tmp := t.TempDir()
	cwd := filepath.Join(tmp, "workspace")
	require.NoError(t, os.MkdirAll(cwd, 0o755))

	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))

	t.Run("within cwd", func(t *testing.T) {
		got, err := ResolveAndValidate(cwd, "file.txt", nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(cwd, "file.txt"), got)
	})

	t.Run("escape via dotdot rejected", func(t *testing.T) {
		_, err := ResolveAndValidate(cwd, "../outside/file.txt", nil)
		require.Error(t, err)
		assert.Equal(t, cortexerr.KindPathEscape, cortexerr.KindOf(err))
	})

	t.Run("writable root permits escape", func(t *testing.T) {
		roots := []WritableRoot{{Root: outside}}
		got, err := ResolveAndValidate(cwd, "../outside/file.txt", roots)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outside, "file.txt"), got)
	})

	t.Run("read-only subpath still resolves for read", func(t *testing.T) {
		roots := []WritableRoot{{Root: outside, ReadOnlySubs: []string{"locked"}}}
		got, err := ResolveAndValidate(cwd, "../outside/locked/file.txt", roots)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outside, "locked", "file.txt"), got)
	})
}

func TestEnsureWithinCwd(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, EnsureWithinCwd(tmp, filepath.Join(tmp, "a", "b")))
	assert.Error(t, EnsureWithinCwd(tmp, filepath.Join(tmp, "..", "x")))
}
