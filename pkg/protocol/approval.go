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

import "github.com/cortexlabs/cortex-agent/pkg/approval"

// ReviewDecision is the wire form of approval.Decision, carried by the
// response to any of the dedicated approval/elicitation request types.
type ReviewDecision string

const (
	ReviewApproved            ReviewDecision = "approved"
	ReviewApprovedWithChanges ReviewDecision = "approved_with_changes"
	ReviewRejected            ReviewDecision = "rejected"
	ReviewDeferred            ReviewDecision = "deferred"
)

// FromApprovalDecision converts an internal approval.Decision to its
// wire ReviewDecision.
func FromApprovalDecision(d approval.Decision) ReviewDecision {
	switch d {
	case approval.Approved:
		return ReviewApproved
	case approval.ApprovedWithChanges:
		return ReviewApprovedWithChanges
	case approval.Rejected:
		return ReviewRejected
	default:
		return ReviewDeferred
	}
}

// ToApprovalDecision converts a wire ReviewDecision back to the
// internal approval.Decision the approval manager expects.
func ToApprovalDecision(d ReviewDecision) approval.Decision {
	switch d {
	case ReviewApproved:
		return approval.Approved
	case ReviewApprovedWithChanges:
		return approval.ApprovedWithChanges
	case ReviewRejected:
		return approval.Rejected
	default:
		return approval.Deferred
	}
}

// ApprovalRequestKind discriminates the four dedicated request types
// that flow outside the normal RPC method dispatch.
type ApprovalRequestKind string

const (
	ApprovalRequestTool       ApprovalRequestKind = "tool_call_approval"
	ApprovalRequestPatch      ApprovalRequestKind = "patch_approval"
	ApprovalRequestSpecPlan   ApprovalRequestKind = "spec_plan_approval"
	ApprovalRequestElicitation ApprovalRequestKind = "elicitation"
)

// ApprovalRequestParams is the params payload for any of the four
// ApprovalRequestKind request methods.
type ApprovalRequestParams struct {
	SessionID   string         `json:"sessionId"`
	Kind        ApprovalRequestKind `json:"kind"`
	Summary     string         `json:"summary"`
	ToolName    string         `json:"toolName,omitempty"`
	ToolArgs    map[string]any `json:"toolArgs,omitempty"`
	PlanContent string         `json:"planContent,omitempty"`
	Prompt      string         `json:"prompt,omitempty"` // elicitation free-text prompt
}

// ApprovalResponseResult is the result payload returned for an
// ApprovalRequestParams request.
type ApprovalResponseResult struct {
	Decision ReviewDecision `json:"decision"`
	Changes  map[string]any `json:"changes,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Text     string         `json:"text,omitempty"` // elicitation free-text answer
}

// FromApprovalRequest converts an internal approval.Request into the
// wire params for a dedicated approval request.
func FromApprovalRequest(sessionID string, req approval.Request) ApprovalRequestParams {
	kind := ApprovalRequestTool
	switch req.Kind {
	case "patch":
		kind = ApprovalRequestPatch
	case "spec_plan":
		kind = ApprovalRequestSpecPlan
	case "elicitation":
		kind = ApprovalRequestElicitation
	}
	return ApprovalRequestParams{
		SessionID:   sessionID,
		Kind:        kind,
		Summary:     req.Summary,
		ToolName:    req.ToolName,
		ToolArgs:    req.ToolArgs,
		PlanContent: req.PlanContent,
	}
}

// ToApprovalResponse converts a wire result back into the internal
// approval.Response the approval manager's Respond expects.
func ToApprovalResponse(r ApprovalResponseResult) approval.Response {
	return approval.Response{
		Decision: ToApprovalDecision(r.Decision),
		Changes:  r.Changes,
		Reason:   r.Reason,
	}
}
