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

// Package netproxy enforces egress policy for every outbound
// connection a tool handler opens: host allow/deny matching, loopback
// and non-public-IP gating, HTTP method gating, and a resolve-then-
// reverify dial path that mitigates DNS rebinding.
package netproxy

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
)

// Mode selects how permissive the network policy is.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeLimited  Mode = "limited" // GET/HEAD/OPTIONS only
	ModeDisabled Mode = "disabled"
)

// Reason names why a host/connection check failed.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNetworkDisabled  Reason = "network_disabled"
	ReasonDenied           Reason = "denied"
	ReasonNotAllowedLocal  Reason = "not_allowed_local"
	ReasonNotAllowed       Reason = "not_allowed"
	ReasonMethodNotAllowed Reason = "method_not_allowed"
	ReasonRebindDetected   Reason = "rebind_detected"
)

// Decision is the result of a policy check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision { return Decision{Allowed: true} }
func deny(r Reason) Decision { return Decision{Allowed: false, Reason: r} }

// Policy is the configured network policy for a turn.
type Policy struct {
	Mode              Mode
	AllowPatterns     []pathutil.DomainPattern
	DenyPatterns      []pathutil.DomainPattern
	AllowLocalBinding bool
}

func (p Policy) matchesAny(patterns []pathutil.DomainPattern, host string) bool {
	for _, pat := range patterns {
		if pat.Matches(host) {
			return true
		}
	}
	return false
}

// CheckHostSync applies the strict precedence in spec.md §4.3 without
// performing any DNS resolution: mode, deny list, loopback, allowlist.
func (p Policy) CheckHostSync(h pathutil.Host) Decision {
	if p.Mode == ModeDisabled {
		return deny(ReasonNetworkDisabled)
	}

	hostStr := h.Name
	if h.IsIP() {
		hostStr = h.IP.String()
	}

	if p.matchesAny(p.DenyPatterns, hostStr) {
		return deny(ReasonDenied)
	}

	if pathutil.IsLoopbackHost(h) && !p.AllowLocalBinding {
		return deny(ReasonNotAllowedLocal)
	}

	if len(p.AllowPatterns) > 0 && !p.matchesAny(p.AllowPatterns, hostStr) {
		return deny(ReasonNotAllowed)
	}

	return allow()
}

// CheckMethod applies HTTP method gating: Limited permits exactly
// GET/HEAD/OPTIONS (case-insensitive), Full permits everything,
// Disabled permits nothing.
func (p Policy) CheckMethod(method string) Decision {
	switch p.Mode {
	case ModeDisabled:
		return deny(ReasonNetworkDisabled)
	case ModeFull:
		return allow()
	case ModeLimited:
		switch strings.ToUpper(method) {
		case "GET", "HEAD", "OPTIONS":
			return allow()
		default:
			return deny(ReasonMethodNotAllowed)
		}
	default:
		return deny(ReasonNetworkDisabled)
	}
}

// isNonPublicResolved reports whether any resolved address is
// non-public and local binding is disallowed.
func (p Policy) isNonPublicResolved(ips []netip.Addr) bool {
	if p.AllowLocalBinding {
		return false
	}
	for _, ip := range ips {
		if pathutil.IsNonPublicIP(ip) {
			return true
		}
	}
	return false
}

func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

func (d Decision) Error() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("network policy denied: %s", d.Reason)
}
