package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_WritableRoots(t *testing.T) {
	t.Run("danger full access", func(t *testing.T) {
		m := New(Policy{Kind: DangerFullAccess}, "/workspace")
		assert.Equal(t, []pathutil.WritableRoot{{Root: "/"}}, m.WritableRoots())
	})

	t.Run("read only", func(t *testing.T) {
		m := New(Policy{Kind: ReadOnly}, "/workspace")
		assert.Equal(t, []pathutil.WritableRoot{{Root: os.TempDir()}}, m.WritableRoots())
	})

	t.Run("workspace write", func(t *testing.T) {
		m := New(Policy{Kind: WorkspaceWrite}, "/workspace")
		roots := m.WritableRoots()
		assert.Equal(t, "/workspace", roots[0].Root)
		assert.ElementsMatch(t, []string{".git", ".cortex"}, roots[0].ReadOnlySubs)
	})

	t.Run("custom verbatim", func(t *testing.T) {
		custom := []pathutil.WritableRoot{{Root: "/data"}}
		m := New(Policy{Kind: Custom, WritableRoots: custom}, "/workspace")
		assert.Equal(t, custom, m.WritableRoots())
	})
}

func TestIsActionAllowed_ReadFile(t *testing.T) {
	home := "/home/user"
	t.Run("protected path always denied", func(t *testing.T) {
		m := New(Policy{Kind: DangerFullAccess}, "/workspace")
		m.protectedPaths = DefaultProtectedPaths(home)
		allowed := m.IsActionAllowed(Action{Kind: ActionReadFile, Path: home + "/.ssh/id_rsa"})
		assert.False(t, allowed)
	})

	t.Run("full disk read access required otherwise", func(t *testing.T) {
		m := New(Policy{Kind: WorkspaceWrite}, "/workspace")
		allowed := m.IsActionAllowed(Action{Kind: ActionReadFile, Path: "/etc/passwd"})
		assert.False(t, allowed)
	})
}

func TestIsActionAllowed_WriteFile(t *testing.T) {
	m := New(Policy{Kind: WorkspaceWrite}, "/workspace")
	assert.True(t, m.IsActionAllowed(Action{Kind: ActionWriteFile, Path: "/workspace/main.go"}))
	assert.False(t, m.IsActionAllowed(Action{Kind: ActionWriteFile, Path: "/workspace/.git/HEAD"}))
	assert.False(t, m.IsActionAllowed(Action{Kind: ActionWriteFile, Path: "/etc/passwd"}))
}

func TestIsActionAllowed_Execute(t *testing.T) {
	m := New(Policy{Kind: ReadOnly}, "/workspace")
	assert.True(t, m.IsActionAllowed(Action{Kind: ActionExecute}))
}

func TestIsActionAllowed_NetworkConnect(t *testing.T) {
	assert.True(t, New(Policy{Kind: DangerFullAccess}, "/workspace").
		IsActionAllowed(Action{Kind: ActionNetworkConnect}))
	assert.False(t, New(Policy{Kind: WorkspaceWrite, NetworkAccess: false}, "/workspace").
		IsActionAllowed(Action{Kind: ActionNetworkConnect}))
	assert.True(t, New(Policy{Kind: WorkspaceWrite, NetworkAccess: true}, "/workspace").
		IsActionAllowed(Action{Kind: ActionNetworkConnect}))
}

func TestManager_ResolveAndValidate(t *testing.T) {
	tmp := t.TempDir()
	m := New(Policy{Kind: WorkspaceWrite}, tmp)
	got, err := m.ResolveAndValidate("file.txt")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "file.txt"), got)
}

func TestEnvVars(t *testing.T) {
	m := New(Policy{Kind: ReadOnly}, "/workspace")
	vars := m.EnvVars("passthrough")
	assert.Contains(t, vars, "CORTEX_SANDBOX=passthrough")
	assert.Contains(t, vars, "CORTEX_SANDBOX_NETWORK_DISABLED=1")
}
