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

// ApplyPatchArgs defines the parameters for the apply_patch tool.
type ApplyPatchArgs struct {
	Path              string `json:"path" jsonschema:"required,description=File path to edit (relative to working directory)"`
	OldString         string `json:"old_string" jsonschema:"required,description=Text to find with sufficient surrounding context (3-5 lines before and after the change)"`
	NewString         string `json:"new_string" jsonschema:"required,description=Replacement text (should include the same context as old_string)"`
	ContextValidation bool   `json:"context_validation,omitempty" jsonschema:"description=Validate that surrounding context matches (default: false, recommended for safety),default=false"`
	CreateBackup      bool   `json:"create_backup,omitempty" jsonschema:"description=Create .bak backup file (always made when the tool is configured to back up),default=false"`
}

// ApplyPatchConfig configures the apply_patch tool.
type ApplyPatchConfig struct {
	MaxFileSize  int64
	CreateBackup bool
	ContextLines int
	Tracker      *filetime.Tracker
}

// NewApplyPatch creates a context-validated patch-apply edit handler:
// when context_validation is set it is more conservative than
// search_replace, since it then requires old_string and new_string to
// share matching leading/trailing context lines before the patch is
// considered safe to apply.
func NewApplyPatch(cfg ApplyPatchConfig) (tool.CallableTool, error) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.ContextLines == 0 {
		cfg.ContextLines = 3
	}

	return functiontool.New(
		functiontool.Config{
			Name:        "apply_patch",
			Description: "Apply a patch to a file by finding and replacing text with surrounding context. More robust than search_replace for code edits. Validates context before applying changes.",
			RiskClass:   tool.RiskEdit,
			Permission:  tool.PermissionAsk,
		},
		func(ctx tool.Context, args ApplyPatchArgs) (*tool.Result, error) {
			return applyPatchImpl(ctx, cfg, args)
		},
	)
}

func applyPatchImpl(ctx tool.Context, cfg ApplyPatchConfig, args ApplyPatchArgs) (*tool.Result, error) {
	fullPath, err := ctx.ResolveAndValidatePath(args.Path)
	if err != nil {
		return nil, err
	}

	if fileInfo, statErr := os.Stat(fullPath); statErr == nil && fileInfo.Size() > cfg.MaxFileSize {
		return nil, cortexerr.New(cortexerr.KindToolError, fmt.Sprintf("file too large: %d bytes (max: %d)", fileInfo.Size(), cfg.MaxFileSize))
	}

	if cfg.Tracker != nil {
		if err := cfg.Tracker.AssertWritable(ctx.ConversationID(), fullPath); err != nil {
			return nil, err
		}
	}

	var result *tool.Result
	patchFn := func() error {
		content, err := os.ReadFile(fullPath)
		if err != nil {
			return cortexerr.Wrap(cortexerr.KindToolError, "read file", err)
		}
		originalContent := string(content)

		if !strings.Contains(originalContent, args.OldString) {
			return cortexerr.New(cortexerr.KindInvalidParams, "patch context not found in file: old_string must match exactly including whitespace")
		}
		if count := strings.Count(originalContent, args.OldString); count > 1 {
			return cortexerr.New(cortexerr.KindInvalidParams, fmt.Sprintf("ambiguous patch: old_string appears %d times, add more context to make it unique", count))
		}

		contextValidated := false
		if args.ContextValidation {
			if err := validateContextLines(cfg, args.OldString, args.NewString); err != nil {
				return cortexerr.Wrap(cortexerr.KindInvalidParams, "context validation failed", err)
			}
			contextValidated = true
		}

		newContent := strings.Replace(originalContent, args.OldString, args.NewString, 1)

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

		oldLines := strings.Split(args.OldString, "\n")
		var message strings.Builder
		message.WriteString(fmt.Sprintf("Patch applied successfully to %s (%d lines changed)\n", args.Path, len(oldLines)))
		message.WriteString("\n" + generatePatchDiff(args.OldString, args.NewString))
		if backedUp {
			message.WriteString(fmt.Sprintf("\nBackup created: %s.bak", args.Path))
		}
		if contextValidated {
			message.WriteString("\ncontext validated")
		}
		result = &tool.Result{Success: true, Content: message.String()}
		return nil
	}

	if cfg.Tracker != nil {
		if err := cfg.Tracker.WithLock(context.Background(), fullPath, patchFn); err != nil {
			return nil, err
		}
	} else if err := patchFn(); err != nil {
		return nil, err
	}
	return result, nil
}

func validateContextLines(cfg ApplyPatchConfig, oldString, newString string) error {
	oldLines := strings.Split(oldString, "\n")
	newLines := strings.Split(newString, "\n")

	minContextLines := cfg.ContextLines
	if len(oldLines) < minContextLines*2+1 {
		return fmt.Errorf("insufficient context: provide at least %d lines before and after the change", minContextLines)
	}

	contextMatches := 0
	for i := 0; i < minContextLines && i < len(oldLines) && i < len(newLines); i++ {
		if oldLines[i] == newLines[i] {
			contextMatches++
		}
	}
	for i := 1; i <= minContextLines && i <= len(oldLines) && i <= len(newLines); i++ {
		oldIdx := len(oldLines) - i
		newIdx := len(newLines) - i
		if oldIdx >= 0 && newIdx >= 0 && oldLines[oldIdx] == newLines[newIdx] {
			contextMatches++
		}
	}
	if contextMatches < minContextLines {
		return fmt.Errorf("context mismatch: ensure old_string and new_string have matching surrounding lines")
	}
	return nil
}

func generatePatchDiff(oldStr, newStr string) string {
	var diff strings.Builder
	diff.WriteString("Changes:\n")
	diff.WriteString(strings.Repeat("-", 60) + "\n")

	oldLines := strings.Split(oldStr, "\n")
	newLines := strings.Split(newStr, "\n")
	maxLines := len(oldLines)
	if len(newLines) > maxLines {
		maxLines = len(newLines)
	}

	for i := 0; i < maxLines; i++ {
		switch {
		case i < len(oldLines) && i < len(newLines):
			if oldLines[i] != newLines[i] {
				diff.WriteString(fmt.Sprintf("- %s\n", oldLines[i]))
				diff.WriteString(fmt.Sprintf("+ %s\n", newLines[i]))
			} else {
				diff.WriteString(fmt.Sprintf("  %s\n", oldLines[i]))
			}
		case i < len(oldLines):
			diff.WriteString(fmt.Sprintf("- %s\n", oldLines[i]))
		case i < len(newLines):
			diff.WriteString(fmt.Sprintf("+ %s\n", newLines[i]))
		}
	}
	diff.WriteString(strings.Repeat("-", 60))
	return diff.String()
}
