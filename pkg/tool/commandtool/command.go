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

// Package commandtool executes commands under the session's sandbox
// policy. Commands are parsed into argv without invoking a shell, so
// there is no pipe/redirect/substitution surface to escape: a command
// containing a shell metacharacter is rejected before it ever runs.
package commandtool

import (
	"bufio"
	"context"
	"errors"
	"iter"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
)

// DeniedBasenames are program basenames refused regardless of policy
// (spec.md §4.5): destructive tools, privilege escalation, shells
// (since argv execution already forbids shell metacharacters, a literal
// shell invocation is the only remaining way to reintroduce them),
// network tools, interpreters, and mount/partition/firewall tools.
var DeniedBasenames = map[string]bool{
	"rm": true, "sudo": true, "su": true, "doas": true,
	"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true, "fish": true,
	"mount": true, "umount": true, "mkfs": true, "fdisk": true, "parted": true,
	"iptables": true, "nft": true, "ufw": true, "firewall-cmd": true,
	"nc": true, "ncat": true, "telnet": true,
	"python": true, "python3": true, "perl": true, "ruby": true, "node": true, "php": true,
	"dd": true, "mkfs.ext4": true, "shutdown": true, "reboot": true, "halt": true,
}

// shellMetacharacters are disallowed anywhere in the raw command
// string: their presence means the caller intended shell semantics
// that argv-based execution does not provide.
const shellMetacharacters = "$`&|;<>\n\r\\"

// sandboxStderrPatterns are substrings that, found in stderr, indicate
// the sandbox (not the command itself) rejected the execution.
var sandboxStderrPatterns = []string{
	"EPERM", "EACCES", "EROFS", "seccomp", "landlock", "read-only",
}

const sigsysExitCode = 128 + 31

// Config configures the execute_command tool.
type Config struct {
	Name    string
	Timeout time.Duration
}

// Tool executes commands and streams their output.
type Tool struct {
	name    string
	timeout time.Duration
}

// New constructs an execute_command tool.
func New(cfg Config) *Tool {
	name := cfg.Name
	if name == "" {
		name = "execute_command"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Tool{name: name, timeout: timeout}
}

func (t *Tool) Name() string { return t.name }

func (t *Tool) Description() string {
	return "Execute a command (argv, no shell) and stream its output in real-time."
}

func (t *Tool) RiskClass() tool.RiskClass { return tool.RiskExecute }

func (t *Tool) PermissionDefault() tool.PermissionDefault { return tool.PermissionAsk }

// RequiresApproval escalates to approval whenever AssessCommandRisk
// classifies the command above Low (spec.md §4.9 feeds directly off
// this assessment).
func (t *Tool) RequiresApproval(args map[string]any) bool {
	command, _ := args["command"].(string)
	return sandbox.AssessCommandRisk(command).Level != sandbox.RiskLow
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to execute, as a single argv string (no shell, no pipes/redirects)",
			},
		},
		"required": []string{"command"},
	}
}

// parseArgv tokenizes command respecting single/double quotes, with no
// shell semantics: globbing, variable expansion, and operators are not
// interpreted here, because containsMetacharacter already rejected any
// command that would need them.
func parseArgv(command string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inWord := false

	flush := func() {
		if inWord {
			args = append(args, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case unicode.IsSpace(r):
			flush()
		default:
			inWord = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	flush()

	if len(args) == 0 {
		return nil, errors.New("command is empty")
	}
	return args, nil
}

func containsMetacharacter(command string) bool {
	return strings.ContainsAny(command, shellMetacharacters) || strings.Contains(command, "$(") || strings.Contains(command, "``")
}

// validateCommand applies spec.md §4.5's parse-without-a-shell and
// deny-list rules.
func validateCommand(command string) ([]string, error) {
	if containsMetacharacter(command) {
		return nil, cortexerr.New(cortexerr.KindInvalidParams, "command contains a shell metacharacter; commands run as argv, not through a shell")
	}
	argv, err := parseArgv(command)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindInvalidParams, "parse command", err)
	}
	base := basename(argv[0])
	if DeniedBasenames[base] {
		return nil, cortexerr.New(cortexerr.KindSandboxDenied, "command not allowed: "+base)
	}
	return argv, nil
}

func basename(path string) string {
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// CallStreaming runs the command under ctx's sandbox; the sandbox
// manager always permits Execute (spec.md §4.2), since the sandbox
// backend, not the manager, restricts the spawned process.
func (t *Tool) CallStreaming(ctx tool.Context, args map[string]any) iter.Seq2[*tool.Result, error] {
	return func(yield func(*tool.Result, error) bool) {
		command, ok := args["command"].(string)
		if !ok || command == "" {
			yield(nil, cortexerr.New(cortexerr.KindInvalidParams, "command is required"))
			return
		}
		argv, err := validateCommand(command)
		if err != nil {
			yield(nil, err)
			return
		}
		t.executeStreaming(ctx, command, argv, yield)
	}
}

func (t *Tool) executeStreaming(ctx tool.Context, rawCommand string, argv []string, yield func(*tool.Result, error) bool) {
	execCtx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = ctx.Cwd()
	env := ctx.Env()
	cmd.Env = make([]string, 0, len(env))
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if mgr := ctx.Sandbox(); mgr != nil {
		cmd.Env = append(cmd.Env, mgr.EnvVars("passthrough")...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		yield(nil, cortexerr.Wrap(cortexerr.KindToolError, "create stdout pipe", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		yield(nil, cortexerr.Wrap(cortexerr.KindToolError, "create stderr pipe", err))
		return
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		yield(nil, cortexerr.Wrap(cortexerr.KindToolError, "start command", err))
		return
	}

	lines := make(chan string, 100)
	var wg sync.WaitGroup
	var stderrText strings.Builder
	var stderrMu sync.Mutex

	wg.Add(2)
	go streamLines(&wg, execCtx, stdout, "", lines, nil)
	go streamLines(&wg, execCtx, stderr, "[stderr] ", lines, func(line string) {
		stderrMu.Lock()
		stderrText.WriteString(line)
		stderrMu.Unlock()
	})
	go func() {
		wg.Wait()
		close(lines)
	}()

	var accumulated strings.Builder
	for line := range lines {
		accumulated.WriteString(line)
		ctx.SendOutput(line)
		if !yield(&tool.Result{Success: true, Content: line, Streaming: true}, nil) {
			cancel()
			return
		}
	}

	cmdErr := cmd.Wait()
	slog.Debug("command finished", "command", rawCommand, "duration", time.Since(startTime), "error", cmdErr)

	content, artifact := tool.DivertIfOversized(ctx.ConversationID(), ctx.CallID()+":output", "text/plain", accumulated.String())
	if content == "" {
		content = "(no output)"
	}

	result := &tool.Result{
		Success:  cmdErr == nil,
		Content:  content,
		Artifact: artifact,
	}
	if cmdErr != nil {
		result.ErrorKind = classifyExitError(cmd, stderrText.String())
	}
	yield(result, nil)
}

// classifyExitError implements spec.md §4.5's sandbox-vs-tool error
// classification: SIGSYS's 128+31 exit code, or stderr matching a
// sandbox denial pattern, is a sandbox error rather than a tool error.
func classifyExitError(cmd *exec.Cmd, stderrText string) cortexerr.Kind {
	if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == sigsysExitCode {
		return cortexerr.KindSandboxDenied
	}
	for _, pattern := range sandboxStderrPatterns {
		if strings.Contains(stderrText, pattern) {
			return cortexerr.KindSandboxDenied
		}
	}
	return cortexerr.KindToolError
}

func streamLines(wg *sync.WaitGroup, ctx context.Context, r interface{ Read([]byte) (int, error) }, prefix string, lines chan<- string, observe func(string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := prefix + scanner.Text() + "\n"
		if observe != nil {
			observe(line)
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
}

var _ tool.StreamingTool = (*Tool)(nil)
