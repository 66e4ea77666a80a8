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
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/functiontool"
)

// skippedDirs are directory basenames a recursive grep never descends
// into, per spec.md §4.5; no argument re-enables them.
var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "target": true, "__pycache__": true,
}

// GrepSearchArgs defines the parameters for searching files.
type GrepSearchArgs struct {
	Pattern         string `json:"pattern" jsonschema:"required,description=Regular expression pattern to search for (supports Go regex syntax)"`
	Path            string `json:"path,omitempty" jsonschema:"description=File or directory path to search in,default=."`
	FilePattern     string `json:"file_pattern,omitempty" jsonschema:"description=File glob pattern to filter files (e.g. '*.go' '*.py')"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty" jsonschema:"description=Perform case-insensitive search,default=false"`
	ContextLines    int    `json:"context_lines,omitempty" jsonschema:"description=Number of context lines to show before and after matches,default=2,minimum=0,maximum=10"`
	MaxResults      int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of matches to return,default=100,minimum=1,maximum=1000"`
	Recursive       *bool  `json:"recursive,omitempty" jsonschema:"description=Search recursively in directories,default=true"`
	IncludeHidden   bool   `json:"include_hidden,omitempty" jsonschema:"description=Include hidden files and directories,default=false"`
	FollowSymlinks  bool   `json:"follow_symlinks,omitempty" jsonschema:"description=Follow symlinks while walking,default=false"`
	FilesOnly       bool   `json:"files_only,omitempty" jsonschema:"description=Emit only matching file paths, not line content,default=false"`
}

// GrepSearchConfig configures the grep_search tool.
type GrepSearchConfig struct {
	MaxResults   int
	MaxFileSize  int64
	ContextLines int
}

// NewGrepSearch creates the grep_search tool.
func NewGrepSearch(cfg GrepSearchConfig) (tool.CallableTool, error) {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 1000
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.ContextLines == 0 {
		cfg.ContextLines = 2
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "grep_search",
			Description: "Search for patterns in files using regular expressions. Like Unix grep but with context lines. Use for finding exact strings, symbols, or regex patterns across files.",
			RiskClass:   tool.RiskSearch,
			Permission:  tool.PermissionAllow,
		},
		func(ctx tool.Context, args GrepSearchArgs) (*tool.Result, error) {
			return grepSearchImpl(ctx, cfg, args)
		},
		func(args GrepSearchArgs) error {
			pattern := args.Pattern
			if args.CaseInsensitive {
				pattern = "(?i)" + pattern
			}
			_, err := regexp.Compile(pattern)
			return err
		},
	)
}

func grepSearchImpl(ctx tool.Context, cfg GrepSearchConfig, args GrepSearchArgs) (*tool.Result, error) {
	searchPath := "."
	if args.Path != "" {
		searchPath = args.Path
	}
	fullPath, err := ctx.ResolveAndValidatePath(searchPath)
	if err != nil {
		return nil, err
	}

	contextLines := cfg.ContextLines
	if args.ContextLines > 0 {
		contextLines = args.ContextLines
	}

	maxResults := 100
	if args.MaxResults > 0 {
		maxResults = args.MaxResults
	}
	if maxResults > cfg.MaxResults {
		maxResults = cfg.MaxResults
	}

	recursive := args.Recursive == nil || *args.Recursive

	pattern := args.Pattern
	if args.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindInvalidParams, "invalid regex pattern", err)
	}

	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "stat search path", err)
	}

	var filesToSearch []string
	if fileInfo.IsDir() {
		filesToSearch = walkSearchPaths(fullPath, args, cfg, recursive)
	} else {
		filesToSearch = append(filesToSearch, fullPath)
	}

	type match struct {
		file    string
		line    int
		content string
		context []string
	}
	var results []match
	totalMatches := 0

	for _, filePath := range filesToSearch {
		if totalMatches >= maxResults {
			break
		}
		lines, ok := readTextFile(filePath, cfg.MaxFileSize)
		if !ok {
			continue
		}
		for i, line := range lines {
			if totalMatches >= maxResults {
				break
			}
			if !regex.MatchString(line) {
				continue
			}
			var before []string
			for j := contextLines; j > 0; j-- {
				if i-j >= 0 {
					before = append(before, fmt.Sprintf("%6d  %s", i-j+1, lines[i-j]))
				}
			}
			results = append(results, match{file: filePath, line: i + 1, content: line, context: before})
			totalMatches++
		}
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("PATTERN: %s\n", args.Pattern))
	output.WriteString(fmt.Sprintf("SEARCH_PATH: %s\n", searchPath))
	output.WriteString(fmt.Sprintf("STATS: Found %d matches in %d files searched\n", totalMatches, len(filesToSearch)))
	output.WriteString(strings.Repeat("─", 60) + "\n")

	if totalMatches == 0 {
		output.WriteString("\nNo matches found. Do NOT retry this search with the same pattern and path.\n")
	} else {
		currentFile := ""
		for _, m := range results {
			if m.file != currentFile {
				if currentFile != "" {
					output.WriteString("\n")
				}
				output.WriteString(fmt.Sprintf("\nFILE: %s\n", m.file))
				currentFile = m.file
			}
			if args.FilesOnly {
				continue
			}
			for _, c := range m.context {
				output.WriteString(fmt.Sprintf("  %s\n", c))
			}
			output.WriteString(fmt.Sprintf("→ %d: %s\n", m.line, m.content))
		}
	}
	if totalMatches >= maxResults {
		output.WriteString(fmt.Sprintf("\nWARN: Results limited to %d matches\n", maxResults))
	}

	text, artifact := tool.DivertIfOversized(ctx.ConversationID(), "grep:"+fullPath, "text/plain", output.String())
	return &tool.Result{Success: true, Content: text, Artifact: artifact}, nil
}

func walkSearchPaths(root string, args GrepSearchArgs, cfg GrepSearchConfig, recursive bool) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != root && !args.IncludeHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !args.FollowSymlinks {
			return nil
		}
		if args.FilePattern != "" {
			if ok, _ := filepath.Match(args.FilePattern, d.Name()); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > cfg.MaxFileSize {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files
}

// readTextFile returns the file's lines, or ok=false if the file is
// binary or not valid UTF-8 (spec.md §4.5: skipped silently).
func readTextFile(path string, maxSize int64) ([]string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSize {
		return nil, false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if !utf8.Valid(content) {
		return nil, false
	}
	for _, b := range content {
		if b == 0 {
			return nil, false
		}
	}
	return strings.Split(string(content), "\n"), true
}
