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
	"fmt"
	"net/http"

	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
)

// Transport wraps an http.RoundTripper, enforcing method gating and
// the host policy check on every outbound request before it is handed
// to the underlying transport. It is the fetch-class tool handler's
// only path to the network.
type Transport struct {
	Engine *Engine
	Next   http.RoundTripper
}

// NewTransport builds a Transport over http.DefaultTransport.
func NewTransport(engine *Engine) *Transport {
	return &Transport{Engine: engine, Next: http.DefaultTransport}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if d := t.Engine.Policy.CheckMethod(req.Method); !d.Allowed {
		return nil, fmt.Errorf("network policy denied method %s: %s", req.Method, d.Reason)
	}

	host, err := pathutil.ParseHost(req.URL.Host)
	if err != nil {
		return nil, fmt.Errorf("parse request host %q: %w", req.URL.Host, err)
	}

	decision, err := t.Engine.CheckHost(req.Context(), host)
	if err != nil {
		return nil, fmt.Errorf("check host: %w", err)
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("network policy denied host %s: %s", host.String(), decision.Reason)
	}

	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}
