package filetool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/filetime"
	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCtx(t *testing.T, cwd string) tool.Context {
	t.Helper()
	mgr := sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, cwd)
	return tool.NewInvocationContext(cwd, mgr, nil, "turn-1", "conv-1", "call-1", false, nil)
}

func TestReadFile_RecordsReadInTracker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2\n"), 0o644))

	tracker := filetime.New()
	rf, err := NewReadFile(ReadFileConfig{Tracker: tracker})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	res, err := rf.Call(ctx, map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "line1")
	assert.True(t, tracker.WasRead(ctx.ConversationID(), filepath.Join(dir, "a.txt")))
}

func TestWriteFile_FailsWithoutPriorRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	tracker := filetime.New()
	wf, err := NewWriteFile(WriteFileConfig{Tracker: tracker})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	_, err = wf.Call(ctx, map[string]any{"path": "a.txt", "content": "new"})
	require.Error(t, err)
	assert.Equal(t, cortexerr.KindNotRead, cortexerr.KindOf(err))
}

func TestWriteFile_SucceedsAfterRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	tracker := filetime.New()
	rf, err := NewReadFile(ReadFileConfig{Tracker: tracker})
	require.NoError(t, err)
	wf, err := NewWriteFile(WriteFileConfig{Tracker: tracker})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	_, err = rf.Call(ctx, map[string]any{"path": "a.txt"})
	require.NoError(t, err)

	res, err := wf.Call(ctx, map[string]any{"path": "a.txt", "content": "new content"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(written))
}

func TestWriteFile_CreatesNewFileWithoutPriorRead(t *testing.T) {
	dir := t.TempDir()
	tracker := filetime.New()
	wf, err := NewWriteFile(WriteFileConfig{Tracker: tracker})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	res, err := wf.Call(ctx, map[string]any{"path": "new.txt", "content": "hello"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSearchReplace_RequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo\nfoo\n"), 0o644))

	sr, err := NewSearchReplace(SearchReplaceConfig{})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	_, err = sr.Call(ctx, map[string]any{"path": "a.txt", "old_string": "foo", "new_string": "bar"})
	assert.Error(t, err)
}

func TestSearchReplace_ReplacesUniqueOccurrence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo\nbaz\n"), 0o644))

	sr, err := NewSearchReplace(SearchReplaceConfig{})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	res, err := sr.Call(ctx, map[string]any{"path": "a.txt", "old_string": "foo", "new_string": "bar"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "bar")
}

func TestGrepSearch_EmptyResultsIncludesDoNotRetryPhrase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644))

	gs, err := NewGrepSearch(GrepSearchConfig{})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	res, err := gs.Call(ctx, map[string]any{"pattern": "nonexistent_pattern_zzz"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Do NOT retry this search")
}

func TestGrepSearch_FindsMatchAndSkipsGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("needle here"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "b.txt"), []byte("needle here too"), 0o644))

	gs, err := NewGrepSearch(GrepSearchConfig{})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	res, err := gs.Call(ctx, map[string]any{"pattern": "needle"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "a.txt")
	assert.NotContains(t, res.Content, ".git")
}

func TestApplyPatch_RequiresMatchingContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2\nline3\nline4\nline5\nline6\nline7\n"), 0o644))

	ap, err := NewApplyPatch(ApplyPatchConfig{ContextLines: 2})
	require.NoError(t, err)

	ctx := newCtx(t, dir)
	res, err := ap.Call(ctx, map[string]any{
		"path":               "a.txt",
		"old_string":         "line2\nline3\nline4\nline5\nline6",
		"new_string":         "line2\nline3\nCHANGED\nline5\nline6",
		"context_validation": true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "CHANGED")
}
