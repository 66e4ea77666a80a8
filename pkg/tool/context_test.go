package tool

import (
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/stretchr/testify/assert"
)

func TestNonInteractiveEnv(t *testing.T) {
	env := NonInteractiveEnv(map[string]string{"FOO": "bar"})
	assert.Equal(t, "bar", env["FOO"])
	assert.Equal(t, "true", env["CI"])
	assert.Equal(t, "noninteractive", env["DEBIAN_FRONTEND"])
	assert.Equal(t, "1", env["NO_COLOR"])
	assert.Equal(t, "dumb", env["TERM"])
	assert.Equal(t, "1", env["NONINTERACTIVE"])
}

func TestInvocationContext_SendOutput_NoConsumerIsValid(t *testing.T) {
	ctx := NewInvocationContext("/workspace", sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, "/workspace"),
		nil, "turn-1", "conv-1", "call-1", false, nil)
	assert.NotPanics(t, func() { ctx.SendOutput("chunk") })
}

func TestInvocationContext_SendOutput_DropsWhenFull(t *testing.T) {
	ch := make(chan string, 1)
	ch <- "already full"
	ctx := NewInvocationContext("/workspace", sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, "/workspace"),
		nil, "turn-1", "conv-1", "call-1", false, ch)
	assert.NotPanics(t, func() { ctx.SendOutput("dropped") })
	assert.Equal(t, "already full", <-ch)
}

func TestInvocationContext_Accessors(t *testing.T) {
	mgr := sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, "/workspace")
	ctx := NewInvocationContext("/workspace", mgr, nil, "turn-1", "conv-1", "call-1", true, nil)
	assert.Equal(t, "/workspace", ctx.Cwd())
	assert.Equal(t, mgr, ctx.Sandbox())
	assert.Equal(t, "turn-1", ctx.TurnID())
	assert.Equal(t, "conv-1", ctx.ConversationID())
	assert.Equal(t, "call-1", ctx.CallID())
	assert.True(t, ctx.AutoApprove())
}
