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

// Package llmclient is the provider-agnostic model-calling boundary the
// turn engine drives: one Message/CompletionRequest/CompletionChunk
// shape, with per-vendor Provider implementations underneath.
package llmclient

import "context"

// Role is the speaker of a Message, mirroring pkg/context.Role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON arguments
}

// ToolResult is the outcome of a previously requested ToolCall, fed
// back into the next completion request.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDefinition is a tool's model-facing descriptor (built from
// pkg/tool.Definition by the turn engine).
type ToolDefinition struct {
	Name        string
	Description string
	Schema      []byte // JSON Schema
}

// CompletionRequest is one model call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// CompletionChunk is one increment of a streamed completion.
type CompletionChunk struct {
	Text         string
	ToolCall     *ToolCall
	Done         bool
	InputTokens  int
	OutputTokens int
	Err          error
}

// Provider is one LLM vendor's streaming-completion implementation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// maxEmptyStreamEvents bounds how many consecutive no-op stream events
// a Provider tolerates before declaring the stream malformed — the
// same guard the pack's Anthropic integrations use against a server
// that floods empty SSE events.
const maxEmptyStreamEvents = 300
