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

// Package discovery optionally backs pkg/subagent's active-thread
// count with a shared registry so a fleet of cortex processes can
// enforce one concurrency budget cluster-wide, instead of each
// process only knowing about its own threads (spec.md §4.11 expanded
// for multi-host sub-agent fleets).
package discovery

import "context"

// Registry tracks live agent threads by opaque key (typically
// "<host>/<thread_id>"), counting toward a shared concurrency budget.
type Registry interface {
	// Register records threadID as active and returns a release func
	// the caller must invoke when the thread terminates.
	Register(ctx context.Context, threadID string) (release func(context.Context) error, err error)
	// ActiveCount returns the number of currently registered threads
	// across every process sharing this registry.
	ActiveCount(ctx context.Context) (int, error)
}

// NoopRegistry is the zero-configuration default: every process only
// knows about its own threads (pkg/subagent.Controller.ActiveCount
// already enforces the per-process cap on its own).
type NoopRegistry struct{}

func (NoopRegistry) Register(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

func (NoopRegistry) ActiveCount(context.Context) (int, error) { return 0, nil }
