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

// Package sandbox computes the filesystem and execution constraints a
// tool invocation runs under, and decides whether a given action is
// permitted before the tool ever touches the filesystem or spawns a
// process.
package sandbox

import "github.com/cortexlabs/cortex-agent/pkg/pathutil"

// PolicyKind selects the sandbox policy variant.
type PolicyKind string

const (
	DangerFullAccess PolicyKind = "danger_full_access"
	ReadOnly         PolicyKind = "read_only"
	WorkspaceWrite   PolicyKind = "workspace_write"
	Custom           PolicyKind = "custom"
)

// Policy is a closed variant over the four sandbox shapes. Only the
// fields relevant to Kind are consulted.
type Policy struct {
	Kind PolicyKind

	// WorkspaceWrite fields.
	AdditionalWritable []string
	NetworkAccess      bool

	// Custom fields.
	WritableRoots             []pathutil.WritableRoot
	CustomNetworkAccess       bool
	AllowReadOutsideWorkspace bool
}

// HasFullDiskReadAccess reports whether the policy grants unrestricted
// read access outside its writable roots.
func (p Policy) HasFullDiskReadAccess() bool {
	switch p.Kind {
	case DangerFullAccess:
		return true
	case Custom:
		return p.AllowReadOutsideWorkspace
	default:
		return false
	}
}

// HasFullNetworkAccess reports whether the policy grants unrestricted
// network access (as opposed to deferring to the network proxy's own
// mode/pattern checks).
func (p Policy) HasFullNetworkAccess() bool {
	switch p.Kind {
	case DangerFullAccess:
		return true
	case WorkspaceWrite:
		return p.NetworkAccess
	case Custom:
		return p.CustomNetworkAccess
	default:
		return false
	}
}

// ProtectedPaths lists home-relative subpaths that are denied read
// access regardless of policy, DangerFullAccess included.
type ProtectedPaths struct {
	Denied []string
}

// DefaultProtectedPaths returns the standard credential-bearing
// directories: .ssh, .aws, .gnupg, .kube under the user's home.
func DefaultProtectedPaths(home string) ProtectedPaths {
	mk := func(sub string) string {
		if home == "" {
			return sub
		}
		return home + "/" + sub
	}
	return ProtectedPaths{Denied: []string{
		mk(".ssh"), mk(".aws"), mk(".gnupg"), mk(".kube"),
	}}
}
