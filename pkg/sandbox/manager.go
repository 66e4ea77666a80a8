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

package sandbox

import (
	"os"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
)

// Action is the kind of filesystem/network access a tool is about to
// perform, checked against the manager before the tool runs.
type Action struct {
	Kind ActionKind
	Path string // for ReadFile/WriteFile
}

type ActionKind int

const (
	ActionReadFile ActionKind = iota
	ActionWriteFile
	ActionExecute
	ActionNetworkConnect
)

// Manager is constructed once per turn from a policy and a cwd; it
// owns the computed writable roots and protected-path list for that
// turn's tool invocations.
type Manager struct {
	policy         Policy
	cwd            string
	writableRoots  []pathutil.WritableRoot
	protectedPaths ProtectedPaths
}

// New computes a Manager's writable roots per policy kind (spec.md
// §4.2):
//
//	DangerFullAccess -> [/]
//	ReadOnly         -> [tmpdir]
//	WorkspaceWrite   -> [cwd with {.git,.cortex} read-only, tmpdir, TMPDIR, ...additional]
//	Custom           -> supplied roots verbatim
func New(policy Policy, cwd string) *Manager {
	home, _ := os.UserHomeDir()
	m := &Manager{
		policy:         policy,
		cwd:            cwd,
		protectedPaths: DefaultProtectedPaths(home),
	}

	switch policy.Kind {
	case DangerFullAccess:
		m.writableRoots = []pathutil.WritableRoot{{Root: "/"}}
	case ReadOnly:
		m.writableRoots = []pathutil.WritableRoot{{Root: os.TempDir()}}
	case WorkspaceWrite:
		roots := []pathutil.WritableRoot{
			{Root: cwd, ReadOnlySubs: []string{".git", ".cortex"}},
			{Root: os.TempDir()},
		}
		if tmpdirEnv := os.Getenv("TMPDIR"); tmpdirEnv != "" && tmpdirEnv != os.TempDir() {
			roots = append(roots, pathutil.WritableRoot{Root: tmpdirEnv})
		}
		for _, extra := range policy.AdditionalWritable {
			roots = append(roots, pathutil.WritableRoot{Root: extra})
		}
		m.writableRoots = roots
	case Custom:
		m.writableRoots = policy.WritableRoots
	}

	return m
}

// WritableRoots returns the computed writable roots for this turn.
func (m *Manager) WritableRoots() []pathutil.WritableRoot { return m.writableRoots }

// IsActionAllowed implements the decision table in spec.md §4.2.
func (m *Manager) IsActionAllowed(a Action) bool {
	switch a.Kind {
	case ActionReadFile:
		for _, denied := range m.protectedPaths.Denied {
			if denied != "" && strings.HasPrefix(a.Path, denied) {
				return false
			}
		}
		return m.policy.HasFullDiskReadAccess()
	case ActionWriteFile:
		if m.policy.Kind == DangerFullAccess {
			return true
		}
		for _, root := range m.writableRoots {
			if root.IsPathWritable(a.Path) {
				return true
			}
		}
		return false
	case ActionExecute:
		// The sandbox backend, not the manager, restricts the executed
		// process itself.
		return true
	case ActionNetworkConnect:
		return m.policy.HasFullNetworkAccess()
	default:
		return false
	}
}

// RequireAction is IsActionAllowed wrapped in the taxonomy error tool
// handlers return directly to the turn engine.
func (m *Manager) RequireAction(a Action) error {
	if m.IsActionAllowed(a) {
		return nil
	}
	return cortexerr.New(cortexerr.KindSandboxDenied, "sandbox denied action")
}

// ResolveAndValidate is the tool-facing entry point combining cwd
// resolution with this turn's writable roots (spec.md §4.1's
// resolve_and_validate_path, parameterized by this manager's roots).
func (m *Manager) ResolveAndValidate(userPath string) (string, error) {
	return pathutil.ResolveAndValidate(m.cwd, userPath, m.writableRoots)
}

// EnvVars returns the CORTEX_SANDBOX* environment variables exported
// to child processes per spec.md §4.2.
func (m *Manager) EnvVars(backend string) []string {
	vars := []string{
		"CORTEX_SANDBOX=" + backend,
		"CORTEX_SANDBOX_CWD=" + m.cwd,
		"CORTEX_SANDBOX_POLICY=" + string(m.policy.Kind),
	}
	if !m.policy.HasFullNetworkAccess() {
		vars = append(vars, "CORTEX_SANDBOX_NETWORK_DISABLED=1")
	}
	return vars
}
