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

// Package mode implements the Build/Plan/Spec operation-mode lattice
// (spec.md §4.12): transitions rewrite the effective system prompt and,
// in Plan mode, restrict which tools the turn engine may offer the
// model at all.
package mode

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-agent/pkg/approval"
	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
)

// Mode is one of the three operation modes.
type Mode string

const (
	Build Mode = "build"
	Plan  Mode = "plan"
	Spec  Mode = "spec"
)

const (
	buildInstructions = "You are in Build mode. Make the requested changes directly, using edit and execute tools as needed."
	planInstructions  = "You are in Plan mode. Investigate and describe your approach, but you may not edit files or run destructive commands. Use read, search, and fetch tools only."
	specInstructions  = "You are in Spec mode. Produce a structured implementation plan for approval before any code changes are made."
)

// instructionsFor returns the canonical system-prompt preamble for m.
func instructionsFor(m Mode) (string, error) {
	switch m {
	case Build:
		return buildInstructions, nil
	case Plan:
		return planInstructions, nil
	case Spec:
		return specInstructions, nil
	default:
		return "", cortexerr.New(cortexerr.KindInvalidParams, "unknown mode: "+string(m))
	}
}

// SpecPlan is the structured artifact produced while in Spec mode and
// submitted for approval before a Spec→Build transition.
type SpecPlan struct {
	Title   string
	Summary string
	Steps   []string
}

// Markdown renders the plan for inclusion in a rewritten system
// prompt, under an "Approved Plan to Execute" header.
func (p SpecPlan) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Approved Plan to Execute\n\n## %s\n\n%s\n", p.Title, p.Summary)
	if len(p.Steps) > 0 {
		b.WriteString("\n## Steps\n")
		for i, s := range p.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	return b.String()
}

// Transition is a first-class mode change. Plan is only meaningful
// (and only valid) on a Spec→Build transition.
type Transition struct {
	From Mode
	To   Mode
	Plan *SpecPlan
}

// validate enforces that Plan is populated only for a Spec→Build move.
func (t Transition) validate() error {
	if t.Plan != nil && !(t.From == Spec && t.To == Build) {
		return cortexerr.New(cortexerr.KindInvalidParams, "a plan may only accompany a spec-to-build transition")
	}
	return nil
}

// Controller owns the current mode, the effective system prompt, and
// the tool-availability predicate the turn engine consults before
// permission evaluation.
type Controller struct {
	current      Mode
	basePrompt   string
	approvals    *approval.Manager
}

// NewController starts in Build mode unless initial is given.
func NewController(basePrompt string, initial Mode, approvals *approval.Manager) (*Controller, error) {
	if initial == "" {
		initial = Build
	}
	if _, err := instructionsFor(initial); err != nil {
		return nil, err
	}
	return &Controller{current: initial, basePrompt: basePrompt, approvals: approvals}, nil
}

// Current returns the active mode, satisfying tool.FilterContext's
// Mode() string requirement via string conversion at call sites.
func (c *Controller) Current() Mode { return c.current }

// SystemPrompt returns the effective system prompt for the current
// mode: the canonical instruction block prepended to the base prompt,
// with the approved plan's markdown appended when one is in effect.
func (c *Controller) SystemPrompt(plan *SpecPlan) (string, error) {
	instr, err := instructionsFor(c.current)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(instr)
	if c.basePrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(c.basePrompt)
	}
	if plan != nil {
		b.WriteString("\n\n")
		b.WriteString(plan.Markdown())
	}
	return b.String(), nil
}

// Apply performs a validated mode transition, returning the resulting
// mode. It does not itself drive approval — callers requesting a
// Spec→Build transition with a plan must first obtain approval via
// RequestPlanApproval.
func (c *Controller) Apply(t Transition) (Mode, error) {
	if t.From != c.current {
		return c.current, cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("stale transition: engine is in %s, not %s", c.current, t.From))
	}
	if err := t.validate(); err != nil {
		return c.current, err
	}
	c.current = t.To
	return c.current, nil
}

// RequestPlanApproval submits plan through the shared approval manager
// (spec.md §4.9) and reports whether the caller may now apply a
// Spec→Build transition.
func (c *Controller) RequestPlanApproval(ctx context.Context, plan SpecPlan) (approval.Response, bool, error) {
	resp, err := c.approvals.Request(ctx, approval.Request{
		ID:          uuid.NewString(),
		Kind:        "spec_plan",
		Summary:     plan.Title,
		PlanContent: plan.Markdown(),
	}, 0)
	if err != nil {
		return approval.Response{}, false, err
	}
	permitted := resp.Decision == approval.Approved || resp.Decision == approval.ApprovedWithChanges
	return resp, permitted, nil
}

// ToolPredicate returns the tool.Predicate the turn engine must
// combine with permission evaluation: Plan mode excludes all edit-class
// and execute-class tools outright, before any approval prompt
// is even considered. Build and Spec modes place no extra restriction
// here (Spec mode itself offers no edit capability because its system
// prompt instructs the model not to request one, but nothing stops an
// operator from wiring edit tools off entirely for Spec too by passing
// the same predicate).
func (c *Controller) ToolPredicate() tool.Predicate {
	if c.current != Plan {
		return tool.AllowAll()
	}
	return tool.Not(tool.ByRiskClass(tool.RiskEdit, tool.RiskExecute))
}
