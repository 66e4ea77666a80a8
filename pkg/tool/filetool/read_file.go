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

package filetool

import (
	"fmt"
	"os"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/filetime"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/functiontool"
)

// ReadFileArgs defines the parameters for reading a file.
type ReadFileArgs struct {
	Path        string `json:"path" jsonschema:"required,description=File path to read (relative to working directory)"`
	StartLine   int    `json:"start_line,omitempty" jsonschema:"description=Starting line number (1-indexed),minimum=1"`
	EndLine     int    `json:"end_line,omitempty" jsonschema:"description=Ending line number (inclusive),minimum=1"`
	LineNumbers bool   `json:"line_numbers,omitempty" jsonschema:"description=Include line numbers in output,default=true"`
}

// ReadFileConfig configures the read_file tool.
type ReadFileConfig struct {
	MaxFileSize int64
	Tracker     *filetime.Tracker
}

// NewReadFile creates the read_file tool. Every successful read is
// recorded with the file-time tracker (spec.md §4.5), which the
// write/edit handlers require before they'll touch the same path.
func NewReadFile(cfg ReadFileConfig) (tool.CallableTool, error) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}

	return functiontool.New(
		functiontool.Config{
			Name:        "read_file",
			Description: "Read the contents of a file with optional line numbers and range selection. Use to understand code structure and context before making edits.",
			RiskClass:   tool.RiskRead,
			Permission:  tool.PermissionAllow,
		},
		func(ctx tool.Context, args ReadFileArgs) (*tool.Result, error) {
			return readFileImpl(ctx, cfg, args)
		},
	)
}

func readFileImpl(ctx tool.Context, cfg ReadFileConfig, args ReadFileArgs) (*tool.Result, error) {
	fullPath, err := ctx.ResolveAndValidatePath(args.Path)
	if err != nil {
		return nil, err
	}

	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "stat file", err)
	}
	if fileInfo.Size() > cfg.MaxFileSize {
		return nil, cortexerr.New(cortexerr.KindToolError, fmt.Sprintf("file too large: %d bytes (max: %d)", fileInfo.Size(), cfg.MaxFileSize))
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "read file", err)
	}

	lines := strings.Split(string(content), "\n")
	totalLines := len(lines)

	startLine := 1
	if args.StartLine > 0 {
		startLine = args.StartLine
		if startLine > totalLines {
			return nil, cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("start_line (%d) exceeds file length (%d lines)", startLine, totalLines))
		}
	}

	endLine := totalLines
	if args.EndLine > 0 {
		endLine = args.EndLine
		if endLine > totalLines {
			endLine = totalLines
		}
	}
	if startLine > endLine {
		return nil, cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("invalid range: start_line (%d) > end_line (%d)", startLine, endLine))
	}

	showLineNumbers := true
	if !args.LineNumbers && (args.StartLine > 0 || args.EndLine > 0) {
		showLineNumbers = false
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("FILE: %s\n", args.Path))
	output.WriteString(fmt.Sprintf("STATS: Total lines: %d", totalLines))
	if startLine != 1 || endLine != totalLines {
		output.WriteString(fmt.Sprintf(" | Showing lines %d-%d", startLine, endLine))
	}
	output.WriteString("\n")
	output.WriteString(strings.Repeat("─", 60) + "\n")

	for i := startLine - 1; i < endLine && i < len(lines); i++ {
		if showLineNumbers {
			output.WriteString(fmt.Sprintf("%6d| %s\n", i+1, lines[i]))
		} else {
			output.WriteString(fmt.Sprintf("%s\n", lines[i]))
		}
	}
	output.WriteString(strings.Repeat("─", 60))

	if cfg.Tracker != nil {
		if err := cfg.Tracker.RecordRead(ctx.ConversationID(), fullPath); err != nil {
			return nil, err
		}
	}

	text, artifact := tool.DivertIfOversized(ctx.ConversationID(), "read:"+fullPath, "text/plain", output.String())
	return &tool.Result{Success: true, Content: text, Artifact: artifact}, nil
}
