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

package protocol

import (
	"github.com/cortexlabs/cortex-agent/pkg/delegate"
)

// UpdateKind discriminates a session/update notification's payload.
type UpdateKind string

const (
	UpdateAgentMessageChunk     UpdateKind = "agent_message_chunk"
	UpdateAgentThoughtChunk     UpdateKind = "agent_thought_chunk"
	UpdateToolCall              UpdateKind = "tool_call"
	UpdateToolCallUpdate        UpdateKind = "tool_call_update"
	UpdateAvailableCommands     UpdateKind = "available_commands_update"
)

// ToolCallKind mirrors pkg/tool.RiskClass for wire purposes, keeping
// the protocol package free of a pkg/tool import.
type ToolCallKind string

const (
	ToolCallKindRead    ToolCallKind = "read"
	ToolCallKindEdit    ToolCallKind = "edit"
	ToolCallKindSearch  ToolCallKind = "search"
	ToolCallKindExecute ToolCallKind = "execute"
	ToolCallKindFetch   ToolCallKind = "fetch"
	ToolCallKindOther   ToolCallKind = "other"
)

// ToolCallStatus is a tool call's lifecycle stage on the wire.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// SessionUpdate is the envelope for every session/update payload
// variant; exactly one of the optional fields is populated per Kind.
type SessionUpdate struct {
	SessionID string     `json:"sessionId"`
	Kind      UpdateKind `json:"kind"`

	AgentMessageChunk *TextChunk         `json:"agentMessageChunk,omitempty"`
	AgentThoughtChunk *TextChunk         `json:"agentThoughtChunk,omitempty"`
	ToolCall          *ToolCallUpdate    `json:"toolCall,omitempty"`
	ToolCallUpdate    *ToolCallUpdate    `json:"toolCallUpdate,omitempty"`
	AvailableCommands *AvailableCommands `json:"availableCommandsUpdate,omitempty"`
}

// TextChunk is one increment of streamed text.
type TextChunk struct {
	Text string `json:"text"`
}

// ToolCallUpdate mirrors a tool call's lifecycle for the wire.
type ToolCallUpdate struct {
	CallID  string         `json:"callId"`
	Name    string         `json:"name"`
	Kind    ToolCallKind   `json:"kind"`
	Status  ToolCallStatus `json:"status"`
	Summary string         `json:"summary,omitempty"`
}

// AvailableCommands lists the slash-style commands currently valid.
type AvailableCommands struct {
	Commands []string `json:"commands"`
}

// FromDelegateEvent converts an internal delegate.Event into the wire
// SessionUpdate shape, or reports ok=false for event kinds that have
// no session/update representation (e.g. turn completion/error, which
// the adapter surfaces via the prompt response instead).
func FromDelegateEvent(sessionID string, e delegate.Event) (SessionUpdate, bool) {
	su := SessionUpdate{SessionID: sessionID}
	switch e.Kind {
	case delegate.EventMessageChunk:
		su.Kind = UpdateAgentMessageChunk
		su.AgentMessageChunk = &TextChunk{Text: e.Text}
	case delegate.EventThoughtChunk:
		su.Kind = UpdateAgentThoughtChunk
		su.AgentThoughtChunk = &TextChunk{Text: e.Text}
	case delegate.EventToolCall:
		su.Kind = UpdateToolCall
		su.ToolCall = toolCallUpdateFrom(e.ToolCall)
	case delegate.EventToolCallUpdate:
		su.Kind = UpdateToolCallUpdate
		su.ToolCallUpdate = toolCallUpdateFrom(e.ToolCall)
	case delegate.EventCommandsUpdate:
		su.Kind = UpdateAvailableCommands
		su.AvailableCommands = &AvailableCommands{Commands: e.Commands}
	default:
		return SessionUpdate{}, false
	}
	return su, true
}

func toolCallUpdateFrom(info *delegate.ToolCallInfo) *ToolCallUpdate {
	if info == nil {
		return nil
	}
	status := ToolCallPending
	switch info.Status {
	case "running":
		status = ToolCallInProgress
	case "succeeded":
		status = ToolCallCompleted
	case "failed":
		status = ToolCallFailed
	}
	return &ToolCallUpdate{
		CallID:  info.CallID,
		Name:    info.ToolName,
		Status:  status,
		Summary: info.Summary,
	}
}

// MarshalNotification wraps su as a ready-to-send Notification.
func (su SessionUpdate) MarshalNotification() (Notification, error) {
	return NewNotification(NotificationSessionUpdate, su)
}
