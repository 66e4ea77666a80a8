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

package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
)

// WritableRoot is a directory a tool invocation may write under, minus
// any read-only subpaths carved out of it (e.g. ".git", ".cortex").
type WritableRoot struct {
	Root         string
	ReadOnlySubs []string
}

// IsPathWritable reports whether p lies under r.Root and under none of
// r.ReadOnlySubs.
func (r WritableRoot) IsPathWritable(p string) bool {
	root := filepath.Clean(r.Root)
	clean := filepath.Clean(p)
	if !isUnderOrEqual(clean, root) {
		return false
	}
	for _, sub := range r.ReadOnlySubs {
		if isUnderOrEqual(clean, filepath.Clean(filepath.Join(root, sub))) {
			return false
		}
	}
	return true
}

func isUnderOrEqual(p, root string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ResolveAndValidate joins a (possibly relative) user-supplied path to
// cwd, canonicalizes it — resolving symlinks on the nearest existing
// ancestor when the path itself does not yet exist, so a not-yet-
// created file still resolves through a symlinked parent — and
// verifies the canonical result starts with either the canonical cwd
// or one of the sandbox's writable roots, in a location not covered by
// a read-only subpath. Returns a *cortexerr.Error with KindPathEscape
// on any violation.
func ResolveAndValidate(cwd, userPath string, roots []WritableRoot) (string, error) {
	joined := userPath
	if !IsAbs(userPath) {
		joined = filepath.Join(cwd, userPath)
	}
	joined = NormalizePath(joined)

	canonical, err := canonicalizeNearestAncestor(joined)
	if err != nil {
		return "", cortexerr.Wrap(cortexerr.KindPathEscape, "resolve path", err)
	}

	canonicalCwd, err := canonicalizeNearestAncestor(cwd)
	if err != nil {
		canonicalCwd = filepath.Clean(cwd)
	}

	if isUnderOrEqual(canonical, canonicalCwd) {
		return canonical, nil
	}
	for _, root := range roots {
		if root.IsPathWritable(canonical) {
			return canonical, nil
		}
		// Read access within a root is still permitted even over a
		// read-only subpath; only writes are gated by IsPathWritable.
		if isUnderOrEqual(canonical, filepath.Clean(root.Root)) {
			return canonical, nil
		}
	}

	return "", cortexerr.New(cortexerr.KindPathEscape, "path escapes cwd and all writable roots: "+joined)
}

// canonicalizeNearestAncestor resolves symlinks for p if it exists, or
// for the nearest existing ancestor directory otherwise, appending the
// remaining (not-yet-existing) trailing components verbatim.
func canonicalizeNearestAncestor(p string) (string, error) {
	clean := NormalizePath(p)
	if real, err := filepath.EvalSymlinks(clean); err == nil {
		return real, nil
	}

	var trailing []string
	cur := clean
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(trailing) - 1; i >= 0; i-- {
				real = filepath.Join(real, trailing[i])
			}
			return real, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Reached the filesystem root without finding an existing
			// ancestor; fall back to the lexical path.
			return clean, nil
		}
		trailing = append(trailing, filepath.Base(cur))
		cur = parent
	}
}

// EnsureWithinCwd is a narrower check used by callers that never need
// writable-root leniency (e.g. config file resolution).
func EnsureWithinCwd(cwd, p string) error {
	canonical, err := canonicalizeNearestAncestor(p)
	if err != nil {
		return cortexerr.Wrap(cortexerr.KindPathEscape, "resolve path", err)
	}
	canonicalCwd, err := canonicalizeNearestAncestor(cwd)
	if err != nil {
		return cortexerr.Wrap(cortexerr.KindPathEscape, "resolve cwd", err)
	}
	if !isUnderOrEqual(canonical, canonicalCwd) {
		return cortexerr.New(cortexerr.KindPathEscape, "path escapes cwd: "+p)
	}
	return nil
}

// Exists is a small convenience used by resolvers that need to branch
// on existence without caring about the specific stat error.
func Exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
