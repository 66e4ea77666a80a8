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

// Package tool defines the interfaces every tool handler implements
// and the registry that holds them.
//
// # Tool Interface Hierarchy
//
//	Tool (base)
//	  ├── CallableTool  - synchronous execution, single Result
//	  └── StreamingTool - incremental output via iter.Seq2
//
// A tool additionally carries a RiskClass and PermissionDefault (the
// Tool Descriptor) that the approval manager consults before running
// it, and may implement RequiresApproval() to force approval
// regardless of the configured default.
package tool

import (
	"iter"
	"strconv"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
)

// RiskClass classifies what kind of effect a tool has, independent of
// any particular invocation's arguments.
type RiskClass string

const (
	RiskRead    RiskClass = "read"
	RiskEdit    RiskClass = "edit"
	RiskSearch  RiskClass = "search"
	RiskExecute RiskClass = "execute"
	RiskFetch   RiskClass = "fetch"
	RiskOther   RiskClass = "other"
)

// PermissionDefault is the default approval disposition for a tool's
// risk class, overridable per session/config.
type PermissionDefault string

const (
	PermissionAllow PermissionDefault = "allow"
	PermissionAsk   PermissionDefault = "ask"
	PermissionDeny  PermissionDefault = "deny"
)

// Tool is the base interface every tool handler satisfies.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description used by the
	// model to decide when to invoke this tool.
	Description() string

	// RiskClass classifies the tool for the Tool Descriptor surfaced to
	// clients and consulted by the approval manager.
	RiskClass() RiskClass

	// PermissionDefault is this tool's default approval disposition.
	PermissionDefault() PermissionDefault

	// RequiresApproval reports whether this specific invocation needs
	// human approval before running, independent of PermissionDefault
	// (e.g. a command tool escalating because of AssessCommandRisk).
	RequiresApproval(args map[string]any) bool
}

// CallableTool executes synchronously and returns a single Result.
type CallableTool interface {
	Tool

	Call(ctx Context, args map[string]any) (*Result, error)

	// Schema returns the JSON schema for the tool's arguments, or nil
	// if the tool takes none.
	Schema() map[string]any
}

// StreamingTool yields incremental Result chunks as it runs, ending
// with a final non-streaming Result. Implementations must keep
// yielding false-returning iterations cheap: the caller stops
// iterating as soon as yield returns false (client disconnect).
type StreamingTool interface {
	Tool

	CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error]

	Schema() map[string]any
}

// artifactInlineBudget is the approximate inline-content ceiling
// (spec.md §4.4) above which output is diverted to the artifact
// side-channel and replaced by a short pointer string.
const artifactInlineBudget = 16 * 1024

// Result is a tool invocation's outcome: { success, content, optional
// structured artifact, optional error kind }.
type Result struct {
	Success   bool
	Content   string
	Artifact  *Artifact
	ErrorKind cortexerr.Kind
	Streaming bool
}

// Artifact is the out-of-band payload a Result points to when its
// content would otherwise exceed the inline budget.
type Artifact struct {
	ConversationID string
	Key            string
	ContentType    string
	Size           int
}

// DivertIfOversized replaces content exceeding the inline budget with
// a short pointer, returning the artifact that should be persisted by
// the caller's artifact store. Returns nil if no diversion occurred.
func DivertIfOversized(conversationID, key, contentType, content string) (string, *Artifact) {
	if len(content) <= artifactInlineBudget {
		return content, nil
	}
	artifact := &Artifact{
		ConversationID: conversationID,
		Key:            key,
		ContentType:    contentType,
		Size:           len(content),
	}
	pointer := "[output diverted to artifact " + key + ", " + contentType + ", " +
		strconv.Itoa(artifact.Size) + " bytes]"
	return pointer, artifact
}

// Context is the execution context handed to every tool invocation
// (the Tool Invocation Context of spec.md §3): cwd is always absolute,
// and Env always contains the non-interactive forcers.
type Context interface {
	Cwd() string
	Sandbox() *sandbox.Manager
	Env() map[string]string
	TurnID() string
	ConversationID() string
	AutoApprove() bool
	CallID() string

	// ResolvePath normalizes p without enforcing sandbox/cwd
	// containment.
	ResolvePath(p string) string

	// ResolveAndValidatePath normalizes and additionally enforces
	// spec.md §4.1's containment rules via the sandbox manager,
	// failing with KindPathEscape.
	ResolveAndValidatePath(p string) (string, error)

	// SendOutput is a non-blocking, fire-and-forget send on the
	// per-invocation streaming channel. Absence of a consumer is
	// valid: callers that never read this channel simply miss the
	// streamed chunks.
	SendOutput(chunk string)
}

// Definition is a tool's LLM-facing function-calling descriptor.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	RiskClass   RiskClass
	Permission  PermissionDefault
}

// ToDefinition converts a tool to its Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
		RiskClass:   t.RiskClass(),
		Permission:  t.PermissionDefault(),
	}
	switch typed := t.(type) {
	case CallableTool:
		def.Parameters = typed.Schema()
	case StreamingTool:
		def.Parameters = typed.Schema()
	}
	return def
}

// Call represents a model's request to invoke a tool.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}
