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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/filetime"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/functiontool"
)

// SearchReplaceArgs defines the parameters for the search_replace tool.
type SearchReplaceArgs struct {
	Path         string `json:"path" jsonschema:"required,description=File path to edit (relative to working directory)"`
	OldString    string `json:"old_string" jsonschema:"required,description=Exact text to find (must be unique unless replace_all=true)"`
	NewString    string `json:"new_string" jsonschema:"required,description=Replacement text"`
	ReplaceAll   bool   `json:"replace_all,omitempty" jsonschema:"description=Replace all occurrences (default: false, requires unique match),default=false"`
	ShowDiff     bool   `json:"show_diff,omitempty" jsonschema:"description=Show diff of changes (always shown when the tool is configured to),default=false"`
	CreateBackup bool   `json:"create_backup,omitempty" jsonschema:"description=Create .bak backup file (always made when the tool is configured to back up),default=false"`
}

// SearchReplaceConfig configures the search_replace tool.
type SearchReplaceConfig struct {
	MaxReplacements int
	ShowDiff        bool
	CreateBackup    bool
	Tracker         *filetime.Tracker
}

// NewSearchReplace creates the edit handler for precise, exact-text
// replacements. Edits commit through the same assert-writable /
// exclusive-lock / atomic-write path as write_file.
func NewSearchReplace(cfg SearchReplaceConfig) (tool.CallableTool, error) {
	if cfg.MaxReplacements == 0 {
		cfg.MaxReplacements = 100
	}

	return functiontool.New(
		functiontool.Config{
			Name:        "search_replace",
			Description: "Replace exact text in a file. Preserves formatting and indentation. Use for precise edits. Requires unique match unless replace_all=true.",
			RiskClass:   tool.RiskEdit,
			Permission:  tool.PermissionAsk,
		},
		func(ctx tool.Context, args SearchReplaceArgs) (*tool.Result, error) {
			return searchReplaceImpl(ctx, cfg, args)
		},
	)
}

func searchReplaceImpl(ctx tool.Context, cfg SearchReplaceConfig, args SearchReplaceArgs) (*tool.Result, error) {
	fullPath, err := ctx.ResolveAndValidatePath(args.Path)
	if err != nil {
		return nil, err
	}

	if cfg.Tracker != nil {
		if err := cfg.Tracker.AssertWritable(ctx.ConversationID(), fullPath); err != nil {
			return nil, err
		}
	}

	var result *tool.Result
	editFn := func() error {
		content, err := os.ReadFile(fullPath)
		if err != nil {
			return cortexerr.Wrap(cortexerr.KindToolError, "read file", err)
		}
		originalContent := string(content)

		if !strings.Contains(originalContent, args.OldString) {
			return cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("old_string not found in file: %q", truncateString(args.OldString, 50)))
		}

		count := strings.Count(originalContent, args.OldString)
		if !args.ReplaceAll && count > 1 {
			return cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("old_string appears %d times - must be unique or use replace_all=true", count))
		}
		if count > cfg.MaxReplacements {
			return cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("too many replacements: %d (max: %d)", count, cfg.MaxReplacements))
		}

		var newContent string
		replacementCount := count
		if args.ReplaceAll {
			newContent = strings.ReplaceAll(originalContent, args.OldString, args.NewString)
		} else {
			newContent = strings.Replace(originalContent, args.OldString, args.NewString, 1)
			replacementCount = 1
		}

		backedUp := false
		if args.CreateBackup || cfg.CreateBackup {
			if err := os.WriteFile(fullPath+".bak", content, 0o644); err == nil {
				backedUp = true
			}
		}

		if err := atomicWriteFile(fullPath, []byte(newContent), 0o644); err != nil {
			return cortexerr.Wrap(cortexerr.KindToolError, "write file", err)
		}
		if cfg.Tracker != nil {
			if err := cfg.Tracker.RecordWrite(ctx.ConversationID(), fullPath); err != nil {
				return err
			}
		}

		var message strings.Builder
		message.WriteString(fmt.Sprintf("Replaced %d occurrence(s) in %s\n", replacementCount, args.Path))
		if args.ShowDiff || cfg.ShowDiff {
			message.WriteString("\n" + generateDiff(args.OldString, args.NewString) + "\n")
		}
		if backedUp {
			message.WriteString(fmt.Sprintf("\nBackup created: %s.bak", args.Path))
		}
		result = &tool.Result{Success: true, Content: message.String()}
		return nil
	}

	if cfg.Tracker != nil {
		if err := cfg.Tracker.WithLock(context.Background(), fullPath, editFn); err != nil {
			return nil, err
		}
	} else if err := editFn(); err != nil {
		return nil, err
	}
	return result, nil
}

func generateDiff(oldStr, newStr string) string {
	var diff strings.Builder
	diff.WriteString("CHANGES:\n")
	diff.WriteString(strings.Repeat("-", 60) + "\n")
	for _, line := range strings.Split(oldStr, "\n") {
		if line != "" {
			diff.WriteString(fmt.Sprintf("- %s\n", line))
		}
	}
	for _, line := range strings.Split(newStr, "\n") {
		if line != "" {
			diff.WriteString(fmt.Sprintf("+ %s\n", line))
		}
	}
	diff.WriteString(strings.Repeat("-", 60))
	return diff.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
