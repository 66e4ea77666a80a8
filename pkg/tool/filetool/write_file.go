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
	"path/filepath"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/filetime"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/functiontool"
)

// WriteFileArgs defines the parameters for writing a file.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to working directory"`
	Content string `json:"content" jsonschema:"required,description=Content to write to the file"`
	Backup  bool   `json:"backup,omitempty" jsonschema:"description=Create .bak backup if file exists (only when the tool is configured to allow backups),default=false"`
}

// WriteFileConfig configures the write_file tool.
type WriteFileConfig struct {
	MaxFileSize       int
	AllowedExtensions []string
	DeniedExtensions  []string
	BackupOnOverwrite bool
	Tracker           *filetime.Tracker
}

// NewWriteFile creates the write_file tool. A write to a path that was
// never read in this session, or whose mtime moved since it was read,
// fails per spec.md §4.5/§4.6 (file-time tracker), and the write
// itself goes through atomic sibling-temp-then-rename semantics under
// the path's exclusive lock.
func NewWriteFile(cfg WriteFileConfig) (tool.CallableTool, error) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1024 * 1024
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "write_file",
			Description: "Create a new file or overwrite an existing file with content. Supports backups and safety checks.",
			RiskClass:   tool.RiskEdit,
			Permission:  tool.PermissionAsk,
		},
		func(ctx tool.Context, args WriteFileArgs) (*tool.Result, error) {
			return writeFileImpl(ctx, cfg, args)
		},
		func(args WriteFileArgs) error {
			if len(args.Content) > cfg.MaxFileSize {
				return fmt.Errorf("content too large: %d bytes (max: %d)", len(args.Content), cfg.MaxFileSize)
			}
			return validateExtension(cfg, args.Path)
		},
	)
}

func validateExtension(cfg WriteFileConfig, path string) error {
	ext := filepath.Ext(path)

	for _, denied := range cfg.DeniedExtensions {
		if ext == denied {
			if ext == "" {
				return fmt.Errorf("extensionless files are explicitly denied")
			}
			return fmt.Errorf("file extension %s is explicitly denied", ext)
		}
	}

	if len(cfg.AllowedExtensions) > 0 {
		for _, allowed := range cfg.AllowedExtensions {
			if ext == allowed {
				return nil
			}
		}
		if ext == "" {
			return fmt.Errorf("extensionless files not allowed (add '' to allowed_extensions to allow Makefile, Dockerfile, etc.)")
		}
		return fmt.Errorf("file extension %s not allowed (allowed: %v)", ext, cfg.AllowedExtensions)
	}
	return nil
}

func writeFileImpl(ctx tool.Context, cfg WriteFileConfig, args WriteFileArgs) (*tool.Result, error) {
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
	writeFn := func() error {
		fileExisted := false
		if _, statErr := os.Stat(fullPath); statErr == nil {
			fileExisted = true
			if args.Backup && cfg.BackupOnOverwrite {
				if err := copyFile(fullPath, fullPath+".bak"); err != nil {
					return cortexerr.Wrap(cortexerr.KindToolError, "create backup", err)
				}
			}
		}

		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return cortexerr.Wrap(cortexerr.KindToolError, "create parent directory", err)
		}
		if err := atomicWriteFile(fullPath, []byte(args.Content), 0o644); err != nil {
			return cortexerr.Wrap(cortexerr.KindToolError, "write file", err)
		}

		if cfg.Tracker != nil {
			if err := cfg.Tracker.RecordWrite(ctx.ConversationID(), fullPath); err != nil {
				return err
			}
		}

		action := "created"
		if fileExisted {
			action = "overwritten"
		}
		message := fmt.Sprintf("File %s successfully: %s (%d bytes)", action, args.Path, len(args.Content))
		if fileExisted && args.Backup && cfg.BackupOnOverwrite {
			message += fmt.Sprintf("\nBackup created: %s.bak", args.Path)
		}
		result = &tool.Result{Success: true, Content: message}
		return nil
	}

	if cfg.Tracker != nil {
		if err := cfg.Tracker.WithLock(context.Background(), fullPath, writeFn); err != nil {
			return nil, err
		}
	} else if err := writeFn(); err != nil {
		return nil, err
	}

	return result, nil
}

// atomicWriteFile writes sibling to a temp file in the same directory,
// fsyncs it, then renames it into place: a crash mid-write can never
// leave a half-written file at the destination path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
