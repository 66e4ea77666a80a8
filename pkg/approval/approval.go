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

// Package approval holds the single pending human-approval request a
// turn may be waiting on (spec.md §4.9): tool-call approval and
// plan-approval both flow through this one primitive.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
)

// Decision is the outcome of a resolved approval request.
type Decision string

const (
	Approved            Decision = "approved"
	ApprovedWithChanges Decision = "approved_with_changes"
	Rejected            Decision = "rejected"
	Deferred            Decision = "deferred"
)

// Request describes one thing awaiting human approval: a tool call or
// a plan.
type Request struct {
	ID          string
	Kind        string // "tool_call" | "patch" | "spec_plan" | "elicitation"
	Summary     string
	ToolName    string
	ToolArgs    map[string]any
	PlanContent string
}

// Response is what the human (or auto-approve policy) returns for a
// Request.
type Response struct {
	Decision Decision
	Changes  map[string]any // when Decision == ApprovedWithChanges, the edited args/plan
	Reason   string
}

// Manager tracks at most one pending Request at a time and blocks
// callers on Respond until it resolves, times out, or the caller
// cancels.
type Manager struct {
	mu          sync.Mutex
	pending     *Request
	responseCh  chan Response
	autoApprove bool
}

// NewManager constructs a Manager. When autoApprove is true, Request
// resolves immediately as Approved without ever blocking — the same
// short-circuit spec.md describes for non-interactive sessions.
func NewManager(autoApprove bool) *Manager {
	return &Manager{autoApprove: autoApprove}
}

// SetAutoApprove toggles the auto-approve short-circuit at runtime
// (e.g. a `--yolo` flag flipped mid-session).
func (m *Manager) SetAutoApprove(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoApprove = v
}

// Request registers req as the pending approval and blocks until
// Respond is called, ctx is cancelled, or timeout elapses (zero means
// no timeout). It returns a cortexerr.KindInternal error if another
// request is already pending — the spec's zero-or-one invariant.
func (m *Manager) Request(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	m.mu.Lock()
	if m.autoApprove {
		m.mu.Unlock()
		return Response{Decision: Approved, Reason: "auto-approve enabled"}, nil
	}
	if m.pending != nil {
		m.mu.Unlock()
		return Response{}, cortexerr.New(cortexerr.KindInternal, "an approval request is already pending")
	}
	m.pending = &req
	ch := make(chan Response, 1)
	m.responseCh = ch
	m.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-timeoutCh:
		m.clearPending(&req)
		return Response{}, cortexerr.New(cortexerr.KindApprovalTimeout, "approval request timed out")
	case <-ctx.Done():
		m.clearPending(&req)
		return Response{}, cortexerr.Wrap(cortexerr.KindCancelled, "approval request cancelled", ctx.Err())
	}
}

// Respond resolves the currently pending request. It returns an error
// if reqID does not match the pending request (stale or unknown ID).
func (m *Manager) Respond(reqID string, resp Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.ID != reqID {
		return cortexerr.New(cortexerr.KindInvalidParams, "no matching pending approval request: "+reqID)
	}
	ch := m.responseCh
	m.pending = nil
	m.responseCh = nil
	ch <- resp
	return nil
}

// Pending returns the currently pending request, if any.
func (m *Manager) Pending() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Request{}, false
	}
	return *m.pending, true
}

func (m *Manager) clearPending(req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == req {
		m.pending = nil
		m.responseCh = nil
	}
}
