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

package netproxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
)

// Engine wraps a Policy with a resolver and dialer, implementing the
// resolve-then-reverify connect path.
type Engine struct {
	Policy   Policy
	Resolver *net.Resolver
	Dialer   *net.Dialer
}

// NewEngine builds an Engine with the standard library resolver and
// dialer; tests may substitute their own.
func NewEngine(policy Policy) *Engine {
	return &Engine{
		Policy:   policy,
		Resolver: net.DefaultResolver,
		Dialer:   &net.Dialer{},
	}
}

// CheckHost performs CheckHostSync, then — if the host is a name —
// resolves it and blocks if any A/AAAA answer is non-public while
// local binding is disallowed. Resolver answers are never cached by
// this package; every call re-resolves.
func (e *Engine) CheckHost(ctx context.Context, h pathutil.Host) (Decision, error) {
	d := e.Policy.CheckHostSync(h)
	if !d.Allowed {
		return d, nil
	}
	if h.IsIP() {
		if e.Policy.isNonPublicResolved([]netip.Addr{h.IP}) && !e.Policy.AllowLocalBinding {
			return deny(ReasonNotAllowedLocal), nil
		}
		return d, nil
	}

	ips, err := e.resolve(ctx, h.Name)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve %s: %w", h.Name, err)
	}
	if e.Policy.isNonPublicResolved(ips) {
		return deny(ReasonNotAllowedLocal), nil
	}
	return d, nil
}

// SafeConnect resolves, connects, then re-verifies the peer's actual
// IP is public before returning the connection — the explicit
// mitigation for DNS rebinding, since the first resolve and the
// connection's actual peer can differ under a rebinding attack.
func (e *Engine) SafeConnect(ctx context.Context, h pathutil.Host, network string) (net.Conn, error) {
	decision, err := e.CheckHost(ctx, h)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("network policy denied host %s: %s", h.String(), decision.Reason)
	}

	conn, err := e.Dialer.DialContext(ctx, network, h.String())
	if err != nil {
		return nil, err
	}

	remote := conn.RemoteAddr()
	ipStr, _, splitErr := net.SplitHostPort(remote.String())
	if splitErr != nil {
		ipStr = remote.String()
	}
	peerIP, err := netip.ParseAddr(ipStr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("parse peer address %q: %w", remote.String(), err)
	}
	if !e.Policy.AllowLocalBinding && pathutil.IsNonPublicIP(peerIP) {
		conn.Close()
		return nil, fmt.Errorf("network policy denied: peer address %s resolved to a non-public IP (possible DNS rebinding)", peerIP)
	}

	return conn, nil
}

func (e *Engine) resolve(ctx context.Context, name string) ([]netip.Addr, error) {
	addrs, err := e.Resolver.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}
