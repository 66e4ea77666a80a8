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
	"os/exec"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
)

// SandboxedCommand is an *exec.Cmd ready to run, plus the name of the
// backend that prepared it (for logging/telemetry and the
// CORTEX_SANDBOX env var).
type SandboxedCommand struct {
	Cmd     *exec.Cmd
	Backend string
}

// Backend prepares a command to run under a given policy. Platform
// implementations (landlock, seccomp, App Sandbox) live behind this
// interface; Passthrough is the fallback used when no OS-level
// sandboxing is available.
type Backend interface {
	Name() string
	PrepareCommand(cmd *exec.Cmd, policy Policy, cwd string, roots []pathutil.WritableRoot) (SandboxedCommand, error)
}

// Passthrough runs the command unmodified. It is always used for
// DangerFullAccess and is the default when no platform-specific
// backend is registered.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) PrepareCommand(cmd *exec.Cmd, _ Policy, _ string, _ []pathutil.WritableRoot) (SandboxedCommand, error) {
	return SandboxedCommand{Cmd: cmd, Backend: "passthrough"}, nil
}

// SelectBackend returns the backend to use for the given policy,
// always Passthrough for DangerFullAccess regardless of what platform
// backend is registered.
func SelectBackend(policy Policy, platform Backend) Backend {
	if policy.Kind == DangerFullAccess || platform == nil {
		return Passthrough{}
	}
	return platform
}

// RiskLevel classifies how dangerous a command appears before it runs.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CommandRiskAssessment is surfaced to the user untouched by the
// approval flow (spec.md §4.9); Concerns lists the specific reasons a
// command was flagged.
type CommandRiskAssessment struct {
	Level       RiskLevel
	Explanation string
	Concerns    []string
	Reversible  bool
}

// highRiskPrefixes are command prefixes that warrant an automatic High
// assessment regardless of arguments — destructive or privilege-
// escalating by construction.
var highRiskPrefixes = []string{
	"rm -rf", "rm -fr", "sudo ", "dd if=", "mkfs", ":(){:|:&};:",
	"chmod -R 777", "chown -R",
}

// mediumRiskCommands are commands that mutate state but are usually
// reversible or scoped.
var mediumRiskCommands = []string{
	"git push --force", "git reset --hard", "git clean -fd",
	"npm publish", "docker system prune",
}

// AssessCommandRisk applies a simple heuristic classification, the
// same kind of prefix/substring scan the command tool already uses for
// its allow/deny list, generalized to produce an explanation rather
// than a boolean.
func AssessCommandRisk(command string) CommandRiskAssessment {
	lower := strings.ToLower(command)
	for _, prefix := range highRiskPrefixes {
		if strings.Contains(lower, strings.ToLower(prefix)) {
			return CommandRiskAssessment{
				Level:       RiskHigh,
				Explanation: "command matches a known destructive or privilege-escalating pattern",
				Concerns:    []string{prefix},
				Reversible:  false,
			}
		}
	}
	for _, mid := range mediumRiskCommands {
		if strings.Contains(lower, mid) {
			return CommandRiskAssessment{
				Level:       RiskMedium,
				Explanation: "command mutates remote or shared state",
				Concerns:    []string{mid},
				Reversible:  false,
			}
		}
	}
	return CommandRiskAssessment{
		Level:       RiskLow,
		Explanation: "command does not match a known high-risk pattern",
		Reversible:  true,
	}
}
