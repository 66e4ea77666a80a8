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
	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
)

// NonInteractiveEnv returns the environment entries every Tool
// Invocation Context must carry (spec.md §3), merged over base.
func NonInteractiveEnv(base map[string]string) map[string]string {
	env := make(map[string]string, len(base)+5)
	for k, v := range base {
		env[k] = v
	}
	env["CI"] = "true"
	env["DEBIAN_FRONTEND"] = "noninteractive"
	env["NO_COLOR"] = "1"
	env["TERM"] = "dumb"
	env["NONINTERACTIVE"] = "1"
	return env
}

// InvocationContext is the standard Context implementation built by
// the turn engine for every tool call.
type InvocationContext struct {
	cwd            string
	sandboxMgr     *sandbox.Manager
	env            map[string]string
	turnID         string
	conversationID string
	autoApprove    bool
	callID         string
	outputCh       chan<- string
}

// NewInvocationContext constructs a Context. outputCh may be nil: per
// spec.md §4.4, absence of a sender is valid and simply means the
// caller does not consume streaming output.
func NewInvocationContext(cwd string, sandboxMgr *sandbox.Manager, env map[string]string, turnID, conversationID, callID string, autoApprove bool, outputCh chan<- string) *InvocationContext {
	return &InvocationContext{
		cwd:            cwd,
		sandboxMgr:     sandboxMgr,
		env:            NonInteractiveEnv(env),
		turnID:         turnID,
		conversationID: conversationID,
		autoApprove:    autoApprove,
		callID:         callID,
		outputCh:       outputCh,
	}
}

func (c *InvocationContext) Cwd() string               { return c.cwd }
func (c *InvocationContext) Sandbox() *sandbox.Manager { return c.sandboxMgr }
func (c *InvocationContext) Env() map[string]string    { return c.env }
func (c *InvocationContext) TurnID() string            { return c.turnID }
func (c *InvocationContext) ConversationID() string    { return c.conversationID }
func (c *InvocationContext) AutoApprove() bool         { return c.autoApprove }
func (c *InvocationContext) CallID() string            { return c.callID }

func (c *InvocationContext) ResolvePath(p string) string {
	return pathutil.NormalizePath(p)
}

func (c *InvocationContext) ResolveAndValidatePath(p string) (string, error) {
	return c.sandboxMgr.ResolveAndValidate(p)
}

// SendOutput is a non-blocking, fire-and-forget send: if outputCh is
// nil or full, the chunk is silently dropped rather than blocking the
// tool's execution.
func (c *InvocationContext) SendOutput(chunk string) {
	if c.outputCh == nil {
		return
	}
	select {
	case c.outputCh <- chunk:
	default:
	}
}

var _ Context = (*InvocationContext)(nil)
