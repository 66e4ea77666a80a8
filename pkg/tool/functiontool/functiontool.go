// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package functiontool provides a convenient way to create tools from typed Go functions.
//
// FunctionTool is syntactic sugar over the CallableTool interface - it generates
// a CallableTool implementation from a typed function, reducing boilerplate and
// improving type safety.
//
// # Basic Usage
//
//	type GetWeatherArgs struct {
//	    City  string `json:"city" jsonschema:"required,description=City name"`
//	    Units string `json:"units,omitempty" jsonschema:"description=Temperature units,default=celsius,enum=celsius|fahrenheit"`
//	}
//
//	weatherTool, err := functiontool.New(
//	    functiontool.Config{
//	        Name:        "get_weather",
//	        Description: "Get current weather for a city",
//	        RiskClass:   tool.RiskOther,
//	    },
//	    func(ctx tool.Context, args GetWeatherArgs) (*tool.Result, error) {
//	        return &tool.Result{Success: true, Content: "22C, sunny"}, nil
//	    },
//	)
//
// Use FunctionTool for simple, stateless tools with few parameters, no
// streaming output, and straightforward error handling. For complex
// tools (streaming, dynamic schema, stateful), implement CallableTool
// or StreamingTool directly.
package functiontool

import (
	"fmt"

	"github.com/cortexlabs/cortex-agent/pkg/tool"
)

// Config defines the configuration for a function tool.
type Config struct {
	Name        string
	Description string
	RiskClass   tool.RiskClass
	Permission  tool.PermissionDefault
}

// New creates a CallableTool from a typed function.
//
// The function signature must be:
//
//	func(tool.Context, Args) (*tool.Result, error)
//
// Where Args is a struct with json and jsonschema tags defining the parameters.
func New[Args any](cfg Config, fn func(tool.Context, Args) (*tool.Result, error)) (tool.CallableTool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{
		config: cfg,
		fn:     fn,
		schema: schema,
	}, nil
}

// NewWithValidation creates a CallableTool with custom argument validation.
// The validation function is called before the main function, allowing you to
// implement complex validation logic beyond what struct tags can express.
func NewWithValidation[Args any](
	cfg Config,
	fn func(tool.Context, Args) (*tool.Result, error),
	validate func(Args) error,
) (tool.CallableTool, error) {
	baseTool, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}

	return &functionToolWithValidation[Args]{
		functionTool: baseTool.(*functionTool[Args]),
		validate:     validate,
	}, nil
}

// functionTool implements tool.CallableTool by wrapping a typed function.
type functionTool[Args any] struct {
	config Config
	fn     func(tool.Context, Args) (*tool.Result, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string        { return t.config.Name }
func (t *functionTool[Args]) Description() string { return t.config.Description }

func (t *functionTool[Args]) RiskClass() tool.RiskClass {
	if t.config.RiskClass == "" {
		return tool.RiskOther
	}
	return t.config.RiskClass
}

func (t *functionTool[Args]) PermissionDefault() tool.PermissionDefault {
	if t.config.Permission == "" {
		return tool.PermissionAllow
	}
	return t.config.Permission
}

// RequiresApproval returns false: function tools don't escalate based
// on arguments by default. Tools that need to (commandtool) implement
// CallableTool/StreamingTool directly instead of going through this
// wrapper.
func (t *functionTool[Args]) RequiresApproval(args map[string]any) bool { return false }

func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

// Call executes the function with typed arguments.
func (t *functionTool[Args]) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}
	return t.fn(ctx, typedArgs)
}

// functionToolWithValidation wraps a function tool with custom validation.
type functionToolWithValidation[Args any] struct {
	*functionTool[Args]
	validate func(Args) error
}

func (t *functionToolWithValidation[Args]) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}
	if err := t.validate(typedArgs); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", t.config.Name, err)
	}
	return t.fn(ctx, typedArgs)
}

func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return fmt.Errorf("tool description is required")
	}
	return nil
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)
var _ tool.CallableTool = (*functionToolWithValidation[struct{}])(nil)
