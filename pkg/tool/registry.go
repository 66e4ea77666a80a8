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

package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
)

// RegistryError wraps a registry operation failure with the component
// and action that produced it, in the teacher's structured-error
// style (see the original tools.ToolRegistryError).
type RegistryError struct {
	Action  string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool registry %s: %s: %v", e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("tool registry %s: %s", e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Registry is an insertion-ordered, process-wide, immutable-after-
// construction map from tool name to Tool. The turn engine borrows
// it; it does not own or mutate it once built (spec.md §3).
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]Tool
	frozen bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its own name. Returns an error on name
// collision or if the registry has already been frozen.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return &RegistryError{Action: "Register", Message: "registry is frozen"}
	}
	name := t.Name()
	if name == "" {
		return &RegistryError{Action: "Register", Message: "tool name cannot be empty"}
	}
	if _, exists := r.tools[name]; exists {
		return &RegistryError{Action: "Register", Message: fmt.Sprintf("tool %q already registered", name)}
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Freeze marks the registry immutable; subsequent Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns the LLM-facing Definition for every registered
// tool, in registration order, filtered through the given Predicate.
func (r *Registry) Definitions(pred Predicate, ctx FilterContext) []Definition {
	tools := r.List()
	defs := make([]Definition, 0, len(tools))
	for _, t := range tools {
		if pred != nil && !pred(ctx, t) {
			continue
		}
		defs = append(defs, ToDefinition(t))
	}
	return defs
}

// Execute resolves name, then calls or streams it depending on which
// interface it implements, normalizing both into a single Result.
// Streaming tools' intermediate chunks are forwarded via onChunk as
// they are produced and swallowed at the end in favor of the final
// Result (mirroring Context.SendOutput's fire-and-forget contract).
func (r *Registry) Execute(ctx context.Context, toolCtx Context, call Call, onChunk func(*Result)) (*Result, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return nil, cortexerr.New(cortexerr.KindToolError, fmt.Sprintf("unknown tool %q", call.Name))
	}

	switch impl := t.(type) {
	case CallableTool:
		return impl.Call(toolCtx, call.Args)
	case StreamingTool:
		var final *Result
		for res, err := range impl.CallStreaming(toolCtx, call.Args) {
			if err != nil {
				return nil, err
			}
			if res.Streaming {
				if onChunk != nil {
					onChunk(res)
				}
				continue
			}
			final = res
		}
		if final == nil {
			return nil, cortexerr.New(cortexerr.KindToolError, fmt.Sprintf("tool %q produced no final result", call.Name))
		}
		return final, nil
	default:
		return nil, cortexerr.New(cortexerr.KindInternal, fmt.Sprintf("tool %q implements neither CallableTool nor StreamingTool", call.Name))
	}
}
