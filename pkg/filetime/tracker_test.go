package filetime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTracker_AssertWritable_RequiresPriorRead(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")

	err := tr.AssertWritable("session-1", path)
	require.Error(t, err)
	assert.Equal(t, cortexerr.KindNotRead, cortexerr.KindOf(err))
}

func TestTracker_AssertWritable_AllowsNewFile(t *testing.T) {
	tr := New()
	path := filepath.Join(t.TempDir(), "new.txt")

	assert.NoError(t, tr.AssertWritable("session-1", path))
}

func TestTracker_AssertWritable_SucceedsAfterRead(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")

	require.NoError(t, tr.RecordRead("session-1", path))
	assert.NoError(t, tr.AssertWritable("session-1", path))
}

func TestTracker_AssertWritable_FailsOnExternalModification(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")

	require.NoError(t, tr.RecordRead("session-1", path))

	// Simulate an external modification with a distinct mtime.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("modified"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	err := tr.AssertWritable("session-1", path)
	require.Error(t, err)
	assert.Equal(t, cortexerr.KindModifiedExternally, cortexerr.KindOf(err))
}

func TestTracker_WasRead(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")

	assert.False(t, tr.WasRead("session-1", path))
	require.NoError(t, tr.RecordRead("session-1", path))
	assert.True(t, tr.WasRead("session-1", path))
}

func TestTracker_ClearSession(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")
	require.NoError(t, tr.RecordRead("session-1", path))

	tr.ClearSession("session-1")
	assert.False(t, tr.WasRead("session-1", path))
}

func TestTracker_RecordWrite_RefreshesMtime(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")
	require.NoError(t, tr.RecordRead("session-1", path))

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("written by us"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))
	require.NoError(t, tr.RecordWrite("session-1", path))

	assert.NoError(t, tr.AssertWritable("session-1", path))
}

func TestTracker_WithLock_SerializesAccess(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")

	results := make(chan int, 2)
	done := make(chan struct{})

	go func() {
		_ = tr.WithLock(context.Background(), path, func() error {
			results <- 1
			<-done
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	go func() {
		_ = tr.WithLock(context.Background(), path, func() error {
			results <- 2
			return nil
		})
	}()

	assert.Equal(t, 1, <-results)
	close(done)
	assert.Equal(t, 2, <-results)
}

func TestTracker_WithLock_RespectsCancellation(t *testing.T) {
	tr := New()
	path := writeTemp(t, "hello")

	release := make(chan struct{})
	go func() {
		_ = tr.WithLock(context.Background(), path, func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := tr.WithLock(ctx, path, func() error { return nil })
	require.Error(t, err)
	assert.Equal(t, cortexerr.KindCancelled, cortexerr.KindOf(err))
	close(release)
}
