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

// Package pathutil implements the path- and host-normalization rules
// shared by the sandbox, the network proxy, and every filesystem tool
// handler: lexical path normalization, cwd/writable-root resolution,
// and host/IP classification for egress policy checks.
package pathutil

import (
	"strings"
)

// NormalizePath resolves "." and ".." components lexically, without
// touching the filesystem. It preserves a leading root or volume
// prefix, drops "." components, pops the previous Normal component on
// ".." (never popping past the root), and joins the rest verbatim.
//
// NormalizePath is idempotent: NormalizePath(NormalizePath(p)) ==
// NormalizePath(p).
func NormalizePath(p string) string {
	if p == "" {
		return "."
	}

	sep := "/"
	if strings.ContainsRune(p, '\\') && !strings.ContainsRune(p, '/') {
		sep = "\\"
	}

	root, rest := splitPrefix(p, sep)
	isAbs := root != ""

	segments := strings.Split(rest, sep)
	var out []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
				continue
			}
			if isAbs {
				// ".." above the root is absorbed: the root is the floor.
				continue
			}
			out = append(out, "..")
		default:
			out = append(out, seg)
		}
	}

	joined := strings.Join(out, sep)
	switch {
	case isAbs && joined == "":
		return root
	case isAbs:
		return root + joined
	case joined == "":
		return "."
	default:
		return joined
	}
}

// splitPrefix separates a leading root/volume prefix (e.g. "/",
// "C:\") from the remainder of the path. A UNC "\\host\share" prefix
// is not recognised as a unit; only its first separator is split off.
func splitPrefix(p, sep string) (root, rest string) {
	if strings.HasPrefix(p, sep) {
		return sep, strings.TrimPrefix(p, sep)
	}
	// Windows drive letter, e.g. "C:\foo".
	if len(p) >= 3 && p[1] == ':' && string(p[2]) == sep {
		return p[:3], p[3:]
	}
	return "", p
}

// IsAbs reports whether p is an absolute path under either path
// convention understood by NormalizePath.
func IsAbs(p string) bool {
	root, _ := splitPrefix(p, "/")
	if root != "" {
		return true
	}
	root, _ = splitPrefix(p, "\\")
	return root != ""
}
