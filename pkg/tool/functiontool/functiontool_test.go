package functiontool_test

import (
	"strings"
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/functiontool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name string `json:"name" jsonschema:"required,description=Name to greet"`
}

func newTestContext() tool.Context {
	mgr := sandbox.New(sandbox.Policy{Kind: sandbox.WorkspaceWrite}, "/workspace")
	return tool.NewInvocationContext("/workspace", mgr, nil, "turn-1", "conv-1", "call-1", false, nil)
}

func TestFunctionTool_CallInvokesTypedFunction(t *testing.T) {
	greet, err := functiontool.New(
		functiontool.Config{Name: "greet", Description: "Greets someone", RiskClass: tool.RiskOther},
		func(ctx tool.Context, args greetArgs) (*tool.Result, error) {
			return &tool.Result{Success: true, Content: "hello " + args.Name}, nil
		},
	)
	require.NoError(t, err)

	res, err := greet.Call(newTestContext(), map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", res.Content)
}

func TestFunctionTool_SchemaMarksRequiredField(t *testing.T) {
	greet, err := functiontool.New(
		functiontool.Config{Name: "greet", Description: "Greets someone"},
		func(ctx tool.Context, args greetArgs) (*tool.Result, error) {
			return &tool.Result{Success: true}, nil
		},
	)
	require.NoError(t, err)

	schema := greet.Schema()
	required, _ := schema["required"].([]any)
	found := false
	for _, r := range required {
		if r == "name" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFunctionTool_RejectsMissingConfig(t *testing.T) {
	_, err := functiontool.New(
		functiontool.Config{Description: "no name"},
		func(ctx tool.Context, args greetArgs) (*tool.Result, error) {
			return &tool.Result{Success: true}, nil
		},
	)
	assert.Error(t, err)
}

func TestFunctionToolWithValidation_RunsValidationBeforeCall(t *testing.T) {
	greet, err := functiontool.NewWithValidation(
		functiontool.Config{Name: "greet", Description: "Greets someone"},
		func(ctx tool.Context, args greetArgs) (*tool.Result, error) {
			return &tool.Result{Success: true, Content: "hello " + args.Name}, nil
		},
		func(args greetArgs) error {
			if strings.TrimSpace(args.Name) == "" {
				return assert.AnError
			}
			return nil
		},
	)
	require.NoError(t, err)

	_, err = greet.Call(newTestContext(), map[string]any{"name": ""})
	assert.Error(t, err)

	res, err := greet.Call(newTestContext(), map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", res.Content)
}
