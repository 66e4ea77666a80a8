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

// Package delegate fans turn-engine events out to whatever is
// listening — a local CLI renderer, a JSON-RPC session/update stream,
// a test spy — without the turn engine knowing which (spec.md §4.14).
package delegate

import (
	"log/slog"

	"github.com/cortexlabs/cortex-agent/pkg/approval"
)

// EventKind identifies the shape of an Event.
type EventKind string

const (
	EventMessageChunk   EventKind = "agent_message_chunk"
	EventThoughtChunk   EventKind = "agent_thought_chunk"
	EventToolCall       EventKind = "tool_call"
	EventToolCallUpdate EventKind = "tool_call_update"
	EventCommandsUpdate EventKind = "available_commands_update"
	EventTurnComplete   EventKind = "turn_complete"
	EventTurnError      EventKind = "turn_error"
)

// Event is one unit of progress a turn emits as it runs.
type Event struct {
	Kind      EventKind
	TurnID    string
	Text      string
	ToolCall  *ToolCallInfo
	Commands  []string
	Err       error
}

// ToolCallInfo accompanies EventToolCall/EventToolCallUpdate.
type ToolCallInfo struct {
	CallID   string
	ToolName string
	Status   string // "running" | "succeeded" | "failed"
	Summary  string
}

// Delegate receives turn-engine callbacks. OnApprovalNeeded returns the
// human's decision; every other method is fire-and-forget.
type Delegate interface {
	OnEvent(Event)
	OnApprovalNeeded(req approval.Request) (approval.Response, error)
}

// NoOp discards every event and auto-approves nothing — it returns
// Rejected for any approval, since a silent delegate should never let
// a risky action through by default.
type NoOp struct{}

func (NoOp) OnEvent(Event) {}
func (NoOp) OnApprovalNeeded(approval.Request) (approval.Response, error) {
	return approval.Response{Decision: approval.Rejected, Reason: "no delegate attached"}, nil
}

// Composite forwards OnEvent to every child in order, and forwards
// OnApprovalNeeded to each child in order, short-circuiting on the
// first response whose Decision is not Approved — the first child to
// object wins.
type Composite struct {
	Children []Delegate
}

func (c Composite) OnEvent(e Event) {
	for _, child := range c.Children {
		child.OnEvent(e)
	}
}

func (c Composite) OnApprovalNeeded(req approval.Request) (approval.Response, error) {
	last := approval.Response{Decision: approval.Approved}
	for _, child := range c.Children {
		resp, err := child.OnApprovalNeeded(req)
		if err != nil {
			return approval.Response{}, err
		}
		last = resp
		if resp.Decision != approval.Approved {
			return resp, nil
		}
	}
	return last, nil
}

// Channel forwards events onto a bounded channel, dropping and
// logging when the channel is full rather than blocking the turn
// engine — a slow or dead consumer must never stall a turn.
type Channel struct {
	C        chan Event
	approver func(approval.Request) (approval.Response, error)
}

// NewChannel constructs a Channel-backed delegate with the given
// buffer size. approver handles OnApprovalNeeded; if nil, every
// approval request is rejected.
func NewChannel(buffer int, approver func(approval.Request) (approval.Response, error)) *Channel {
	return &Channel{C: make(chan Event, buffer), approver: approver}
}

func (c *Channel) OnEvent(e Event) {
	select {
	case c.C <- e:
	default:
		slog.Warn("delegate channel full, dropping event", "kind", e.Kind, "turn_id", e.TurnID)
	}
}

func (c *Channel) OnApprovalNeeded(req approval.Request) (approval.Response, error) {
	if c.approver == nil {
		return approval.Response{Decision: approval.Rejected, Reason: "no approver configured"}, nil
	}
	return c.approver(req)
}

// Close closes the underlying channel. Callers must stop sending
// events before calling Close.
func (c *Channel) Close() { close(c.C) }
