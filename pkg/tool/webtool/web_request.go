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

package webtool

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/netproxy"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/functiontool"
)

// WebRequestArgs defines the parameters for making HTTP requests.
type WebRequestArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The URL to request"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method (GET POST PUT DELETE PATCH HEAD OPTIONS),default=GET,enum=GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=HTTP headers as key-value pairs"`
	Body    string            `json:"body,omitempty" jsonschema:"description=Request body (for POST PUT PATCH)"`
}

// WebRequestConfig configures the fetch-class web_request tool. Every
// outbound request is made through an http.Client whose Transport is
// pkg/netproxy's Transport, so the network policy engine (DNS
// rebinding guard, host allow/deny list, private-range blocking) is
// consulted on every request regardless of what the caller asks for.
type WebRequestConfig struct {
	Engine          *netproxy.Engine
	Timeout         time.Duration
	MaxRequestSize  int64
	MaxResponseSize int64
	AllowRedirects  bool
	MaxRedirects    int
	UserAgent       string
}

// NewWebRequest creates the fetch-class tool. Engine must be non-nil:
// it is the only path by which this tool's requests are checked
// against the network policy (spec.md §4.3).
func NewWebRequest(cfg WebRequestConfig) (tool.CallableTool, error) {
	if cfg.Engine == nil {
		return nil, cortexerr.New(cortexerr.KindInternal, "web_request requires a non-nil netproxy.Engine")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = 1048576
	}
	if cfg.MaxResponseSize == 0 {
		cfg.MaxResponseSize = 10485760
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cortex-agent/1.0"
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: netproxy.NewTransport(cfg.Engine),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !cfg.AllowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "web_request",
			Description: "Make HTTP requests to external APIs and web services. Subject to the configured network policy.",
			RiskClass:   tool.RiskFetch,
			Permission:  tool.PermissionAsk,
		},
		func(ctx tool.Context, args WebRequestArgs) (*tool.Result, error) {
			return webRequestImpl(ctx, cfg, httpClient, args)
		},
		func(args WebRequestArgs) error {
			if _, err := url.Parse(args.URL); err != nil {
				return fmt.Errorf("invalid URL: %w", err)
			}
			if int64(len(args.Body)) > cfg.MaxRequestSize {
				return fmt.Errorf("request body too large: %d bytes (max: %d)", len(args.Body), cfg.MaxRequestSize)
			}
			return nil
		},
	)
}

func webRequestImpl(ctx tool.Context, cfg WebRequestConfig, hc *http.Client, args WebRequestArgs) (*tool.Result, error) {
	method := "GET"
	if args.Method != "" {
		method = strings.ToUpper(args.Method)
	}

	var body io.Reader
	if args.Body != "" {
		body = bytes.NewReader([]byte(args.Body))
	}

	req, err := http.NewRequest(method, args.URL, body)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindInvalidParams, "build request", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindNetworkDenied, "request failed or denied by network policy", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, cfg.MaxResponseSize+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "read response", err)
	}
	if int64(len(respBody)) > cfg.MaxResponseSize {
		return nil, cortexerr.New(cortexerr.KindToolError, fmt.Sprintf("response too large: exceeds %d bytes", cfg.MaxResponseSize))
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	header := fmt.Sprintf("STATUS: %s\nCONTENT_TYPE: %s\nSIZE: %d\n%s\n", resp.Status, resp.Header.Get("Content-Type"), len(respBody), strings.Repeat("-", 60))
	text, artifact := tool.DivertIfOversized(ctx.ConversationID(), "web:"+args.URL, resp.Header.Get("Content-Type"), header+string(respBody))
	return &tool.Result{Success: success, Content: text, Artifact: artifact}, nil
}
