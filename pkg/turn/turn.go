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

// Package turn is the central state machine that drives one
// conversational turn (spec.md §4.10): it owns the model round trip,
// the tool-call loop, and delegates to pkg/approval and pkg/context as
// needed, emitting progress through a pkg/delegate.Delegate.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-agent/pkg/approval"
	cortexcontext "github.com/cortexlabs/cortex-agent/pkg/context"
	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/delegate"
	"github.com/cortexlabs/cortex-agent/pkg/llmclient"
	"github.com/cortexlabs/cortex-agent/pkg/observability"
	"github.com/cortexlabs/cortex-agent/pkg/ratelimit"
	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/cortexlabs/cortex-agent/pkg/session"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
)

// State is the turn's position in the state machine:
// Idle → Processing → WaitingForModel → ToolExecution|WaitingForApproval → Idle|Error.
type State string

const (
	StateIdle               State = "idle"
	StateProcessing         State = "processing"
	StateWaitingForModel    State = "waiting_for_model"
	StateToolExecution      State = "tool_execution"
	StateWaitingForApproval State = "waiting_for_approval"
	StateError              State = "error"
)

// Config bounds one Engine's execution.
type Config struct {
	MaxIterations         int // model round trips within one turn
	MaxToolCallsPerTurn   int
	ApprovalTimeout       time.Duration
	WorkspaceRoot         string
	MaxModelRetries       int // retries of a failed-before-any-output model call
	ModelRetryBaseDelay   time.Duration
}

// DefaultConfig matches spec.md's suggested bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       50,
		MaxToolCallsPerTurn: 200,
		ApprovalTimeout:     5 * time.Minute,
		MaxModelRetries:     3,
		ModelRetryBaseDelay: 500 * time.Millisecond,
	}
}

// Engine is the single-writer owner of one conversation's turn
// execution. It is not safe to run two turns on the same Engine
// concurrently — the turn engine is the conversation's single writer
// (spec.md §5).
type Engine struct {
	mu sync.Mutex

	cfg       Config
	model     string
	provider  llmclient.Provider
	ctxMgr    *cortexcontext.Manager
	approvals *approval.Manager
	registry  *tool.Registry
	sessions  session.Store
	sandbox   *sandbox.Manager
	delegate  delegate.Delegate
	limiter   ratelimit.Limiter
	obs       *observability.Manager

	state          State
	conversationID string
}

// New constructs an Engine. delegate may be delegate.NoOp{} if the
// caller does not need progress events. Model calls are throttled
// in-process by default (ratelimit.LocalLimiter); use WithLimiter to
// share a limiter across Engines, or a cluster-wide one.
func New(cfg Config, model string, provider llmclient.Provider, ctxMgr *cortexcontext.Manager, approvals *approval.Manager, registry *tool.Registry, sessions session.Store, sandboxMgr *sandbox.Manager, conversationID string, d delegate.Delegate) *Engine {
	if d == nil {
		d = delegate.NoOp{}
	}
	return &Engine{
		cfg:            cfg,
		model:          model,
		provider:       provider,
		ctxMgr:         ctxMgr,
		approvals:      approvals,
		registry:       registry,
		sessions:       sessions,
		sandbox:        sandboxMgr,
		conversationID: conversationID,
		delegate:       d,
		limiter:        ratelimit.NewLocalLimiter(1, 4),
		obs:            observability.NoopManager(),
		state:          StateIdle,
	}
}

// WithLimiter replaces the Engine's model-call limiter.
func (e *Engine) WithLimiter(l ratelimit.Limiter) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiter = l
	return e
}

// WithObservability replaces the Engine's tracer/metrics manager.
func (e *Engine) WithObservability(m *observability.Manager) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = m
	return e
}

// State reports the engine's current position in the state machine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run executes one turn for userMessage: it adds the message to the
// context, drives the model/tool loop to completion (text-only
// response, error, or cancellation), and returns the final assistant
// text.
func (e *Engine) Run(ctx context.Context, userMessage string) (string, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return "", cortexerr.New(cortexerr.KindInternal, "turn already in progress")
	}
	e.state = StateProcessing
	e.mu.Unlock()

	turnID := uuid.NewString()
	defer e.setState(StateIdle)

	started := time.Now()
	ctx, span := e.obs.Tracer.StartTurn(ctx, turnID, e.conversationID)
	outcome := "error"
	defer func() {
		span.End()
		e.obs.Recorder.RecordTurn(e.conversationID, time.Since(started), outcome)
	}()

	if err := e.ctxMgr.AddMessage(cortexcontext.Message{Role: cortexcontext.RoleUser, Content: userMessage, Critical: true}); err != nil {
		e.setState(StateError)
		e.emitError(turnID, err)
		return "", err
	}
	e.appendHistory(turnID, "user", userMessage)

	toolCalls := 0
	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			e.setState(StateIdle)
			outcome = "cancelled"
			return "", cortexerr.Wrap(cortexerr.KindCancelled, "turn cancelled", ctx.Err())
		default:
		}

		e.setState(StateWaitingForModel)
		text, calls, err := e.callModel(ctx, turnID)
		if err != nil {
			e.setState(StateError)
			e.emitError(turnID, err)
			return "", err
		}

		if len(calls) == 0 {
			e.emitEvent(delegate.Event{Kind: delegate.EventTurnComplete, TurnID: turnID, Text: text})
			outcome = "completed"
			return text, nil
		}

		e.setState(StateToolExecution)
		for _, call := range calls {
			toolCalls++
			if toolCalls > e.cfg.MaxToolCallsPerTurn {
				err := cortexerr.New(cortexerr.KindInternal, "tool call budget exceeded for this turn")
				e.setState(StateError)
				e.emitError(turnID, err)
				return "", err
			}

			result, err := e.executeToolCall(ctx, turnID, call)
			if err != nil {
				e.setState(StateError)
				e.emitError(turnID, err)
				return "", err
			}
			e.recordToolResult(turnID, call, result)
		}
	}

	err := cortexerr.New(cortexerr.KindInternal, "turn exceeded max iterations without completing")
	e.setState(StateError)
	e.emitError(turnID, err)
	return "", err
}

func (e *Engine) callModel(ctx context.Context, turnID string) (string, []llmclient.ToolCall, error) {
	if err := e.limiter.Wait(ctx, e.conversationID); err != nil {
		return "", nil, cortexerr.Wrap(cortexerr.KindCancelled, "rate limit wait cancelled", err)
	}

	messages := e.ctxMgr.GetMessages()
	req := llmclient.CompletionRequest{Model: e.model, Messages: toLLMMessages(messages)}

	defs := e.registry.Definitions(nil, nil)
	req.Tools = toLLMToolDefs(defs)

	started := time.Now()
	ctx, span := e.obs.Tracer.StartModelCall(ctx, e.provider.Name(), e.model)
	defer span.End()

	chunks, err := e.provider.Complete(ctx, req)
	for attempt := 0; err != nil && llmclient.IsRetryable(err) && attempt < e.cfg.MaxModelRetries; attempt++ {
		delay := llmclient.Backoff(e.cfg.ModelRetryBaseDelay, attempt)
		select {
		case <-ctx.Done():
			return "", nil, cortexerr.Wrap(cortexerr.KindCancelled, "model retry wait cancelled", ctx.Err())
		case <-time.After(delay):
		}
		chunks, err = e.provider.Complete(ctx, req)
	}
	if err != nil {
		return "", nil, cortexerr.Wrap(cortexerr.KindModelError, "model request failed", err)
	}

	var text string
	var calls []llmclient.ToolCall
	var inputTokens, outputTokens int
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", nil, cortexerr.Wrap(cortexerr.KindModelError, "model stream failed", chunk.Err)
		}
		if chunk.Text != "" {
			text += chunk.Text
			e.emitEvent(delegate.Event{Kind: delegate.EventMessageChunk, TurnID: turnID, Text: chunk.Text})
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens, outputTokens = chunk.InputTokens, chunk.OutputTokens
		}
	}
	e.obs.Recorder.RecordModelCall(e.provider.Name(), e.model, time.Since(started), inputTokens, outputTokens)

	if text != "" {
		_ = e.ctxMgr.AddMessage(cortexcontext.Message{Role: cortexcontext.RoleAssistant, Content: text})
		e.appendHistory(turnID, "assistant", text)
	}
	return text, calls, nil
}

func (e *Engine) executeToolCall(ctx context.Context, turnID string, call llmclient.ToolCall) (*tool.Result, error) {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		return nil, cortexerr.New(cortexerr.KindToolError, fmt.Sprintf("unknown tool %q", call.Name))
	}

	args, err := unmarshalArgs(call.Input)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindInvalidParams, "invalid tool call arguments", err)
	}

	if t.RequiresApproval(args) || t.PermissionDefault() == tool.PermissionAsk {
		resp, err := e.requestApproval(ctx, turnID, call, t, args)
		if err != nil {
			return nil, err
		}
		switch resp.Decision {
		case approval.Rejected:
			return nil, cortexerr.New(cortexerr.KindApprovalRejected, "tool call rejected: "+call.Name)
		case approval.ApprovedWithChanges:
			if resp.Changes != nil {
				args = resp.Changes
			}
		}
	} else if t.PermissionDefault() == tool.PermissionDeny {
		return nil, cortexerr.New(cortexerr.KindApprovalRejected, "tool is denied by policy: "+call.Name)
	}

	e.setState(StateToolExecution)
	e.emitEvent(delegate.Event{Kind: delegate.EventToolCall, TurnID: turnID, ToolCall: &delegate.ToolCallInfo{
		CallID: call.ID, ToolName: call.Name, Status: "running",
	}})

	outCh := make(chan string, 16)
	toolCtx := tool.NewInvocationContext(e.cfg.WorkspaceRoot, e.sandbox, nil, turnID, e.conversationID, call.ID, false, outCh)

	started := time.Now()
	ctx, span := e.obs.Tracer.StartToolCall(ctx, call.Name, call.ID)
	defer span.End()

	result, err := e.registry.Execute(ctx, toolCtx, tool.Call{ID: call.ID, Name: call.Name, Args: args}, func(r *tool.Result) {
		e.emitEvent(delegate.Event{Kind: delegate.EventToolCallUpdate, TurnID: turnID, Text: r.Content, ToolCall: &delegate.ToolCallInfo{
			CallID: call.ID, ToolName: call.Name, Status: "running",
		}})
	})

	status := "succeeded"
	if err != nil || (result != nil && !result.Success) {
		status = "failed"
	}
	e.obs.Recorder.RecordToolCall(call.Name, time.Since(started), status)
	e.emitEvent(delegate.Event{Kind: delegate.EventToolCallUpdate, TurnID: turnID, ToolCall: &delegate.ToolCallInfo{
		CallID: call.ID, ToolName: call.Name, Status: status,
	}})

	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "tool execution failed: "+call.Name, err)
	}
	return result, nil
}

func (e *Engine) requestApproval(ctx context.Context, turnID string, call llmclient.ToolCall, t tool.Tool, args map[string]any) (approval.Response, error) {
	e.setState(StateWaitingForApproval)
	req := approval.Request{
		ID:       uuid.NewString(),
		Kind:     "tool_call",
		Summary:  fmt.Sprintf("run %s", call.Name),
		ToolName: call.Name,
		ToolArgs: args,
	}
	// approval.Manager is the blocking primitive; the delegate supplies
	// the actual decision (a human prompt, an auto-approve policy, a
	// test stub) and reports it back via Respond, retrying until Request
	// has registered req as pending or this call has returned.
	done := make(chan struct{})
	defer close(done)
	go func() {
		resp, err := e.delegate.OnApprovalNeeded(req)
		if err != nil {
			resp = approval.Response{Decision: approval.Rejected, Reason: err.Error()}
		}
		for e.approvals.Respond(req.ID, resp) != nil {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()
	return e.approvals.Request(ctx, req, e.cfg.ApprovalTimeout)
}

func (e *Engine) recordToolResult(turnID string, call llmclient.ToolCall, result *tool.Result) {
	content := ""
	if result != nil {
		content = result.Content
	}
	_ = e.ctxMgr.AddMessage(cortexcontext.Message{Role: cortexcontext.RoleTool, Content: content})
	e.appendHistory(turnID, "tool", content)
}

func (e *Engine) appendHistory(turnID, role, content string) {
	if e.sessions == nil {
		return
	}
	_ = e.sessions.AppendMessage(e.conversationID, session.Message{
		Role: role, Content: content, Timestamp: time.Now(), TurnID: turnID,
	})
}

func (e *Engine) emitEvent(ev delegate.Event) { e.delegate.OnEvent(ev) }

func (e *Engine) emitError(turnID string, err error) {
	e.delegate.OnEvent(delegate.Event{Kind: delegate.EventTurnError, TurnID: turnID, Err: err})
}

func toLLMMessages(messages []cortexcontext.Message) []llmclient.Message {
	out := make([]llmclient.Message, len(messages))
	for i, m := range messages {
		out[i] = llmclient.Message{Role: llmclient.Role(m.Role), Content: m.Content}
	}
	return out
}

func toLLMToolDefs(defs []tool.Definition) []llmclient.ToolDefinition {
	out := make([]llmclient.ToolDefinition, len(defs))
	for i, d := range defs {
		schema, _ := marshalSchema(d.Parameters)
		out[i] = llmclient.ToolDefinition{Name: d.Name, Description: d.Description, Schema: schema}
	}
	return out
}
