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

import "strings"

// DomainPattern matches a host against a configured allow/deny entry.
// A leading "*." means "this label or any subdomain of it"; anything
// else must match the full host exactly.
type DomainPattern string

// Matches reports whether host satisfies the pattern, case-insensitive
// and with strict DNS-style label matching — "evilexample.com" never
// matches a "*.example.com" pattern just because it shares a suffix.
func (p DomainPattern) Matches(host string) bool {
	pattern := strings.ToLower(strings.TrimSpace(string(p)))
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	pattern = strings.TrimSuffix(pattern, ".")

	if pattern == "" {
		return false
	}

	if strings.HasPrefix(pattern, "*.") {
		base := pattern[2:]
		if host == base {
			return true
		}
		return strings.HasSuffix(host, "."+base)
	}

	return host == pattern
}
