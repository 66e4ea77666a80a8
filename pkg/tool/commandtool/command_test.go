package commandtool

import (
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTool_RequiresApproval(t *testing.T) {
	ct := New(Config{})
	assert.True(t, ct.RequiresApproval(map[string]any{"command": "rm -rf /"}))
	assert.False(t, ct.RequiresApproval(map[string]any{"command": "ls -la"}))
}

func TestTool_CallStreaming_MissingCommand(t *testing.T) {
	ct := New(Config{})
	tmp := t.TempDir()
	mgr := sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, tmp)
	ctx := tool.NewInvocationContext(tmp, mgr, nil, "turn-1", "conv-1", "call-1", false, nil)

	var gotErr error
	for _, err := range ct.CallStreaming(ctx, map[string]any{}) {
		gotErr = err
		break
	}
	assert.Error(t, gotErr)
}

func TestValidateCommand_RejectsMetacharacters(t *testing.T) {
	cases := []string{
		"ls && rm -rf /",
		"echo hi | grep hi",
		"echo $(whoami)",
		"echo `whoami`",
		"cat file > /etc/passwd",
	}
	for _, c := range cases {
		_, err := validateCommand(c)
		assert.Error(t, err, c)
	}
}

func TestValidateCommand_RejectsDeniedBasename(t *testing.T) {
	_, err := validateCommand("sudo ls")
	assert.Error(t, err)

	_, err = validateCommand("rm file.txt")
	assert.Error(t, err)
}

func TestValidateCommand_AllowsPlainArgv(t *testing.T) {
	argv, err := validateCommand(`echo "hello world"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello world"}, argv)
}

func TestTool_CallStreaming_Echo(t *testing.T) {
	ct := New(Config{})
	tmp := t.TempDir()
	mgr := sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, tmp)
	ctx := tool.NewInvocationContext(tmp, mgr, nil, "turn-1", "conv-1", "call-1", false, nil)

	var final *tool.Result
	for res, err := range ct.CallStreaming(ctx, map[string]any{"command": "echo hello"}) {
		require.NoError(t, err)
		if !res.Streaming {
			final = res
		}
	}
	require.NotNil(t, final)
	assert.True(t, final.Success)
	assert.Contains(t, final.Content, "hello")
}
