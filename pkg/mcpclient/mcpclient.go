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

// Package mcpclient connects to external Model Context Protocol
// servers and exposes their tools as pkg/tool.CallableTool instances,
// so the turn engine's registry can call them the same way it calls
// any built-in tool.
package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
)

// DefaultSSETimeout bounds how long an HTTP-transport call waits for a
// complete SSE response before giving up.
const DefaultSSETimeout = 5 * time.Minute

// Config configures a connection to one MCP server.
type Config struct {
	Name       string
	URL        string
	Transport  string // "stdio", "sse", "streamable-http"
	Command    string
	Args       []string
	Env        map[string]string
	Filter     []string
	SSETimeout time.Duration
}

// Client is a lazily-connected MCP server binding. Tools() establishes
// the connection on first call and caches the resulting tool set.
type Client struct {
	cfg Config

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *http.Client
	sessionID  string
	sessionMu  sync.RWMutex
	tools      []tool.Tool
	connected  bool
	filterSet  map[string]bool
}

// New creates an MCP client binding. The connection is not
// established until Tools is first called.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, cortexerr.New(cortexerr.KindInternal, "mcpclient: either url or command is required")
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = DefaultSSETimeout
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}
	return &Client{cfg: cfg, filterSet: filterSet}, nil
}

// Name identifies this MCP server binding.
func (c *Client) Name() string { return c.cfg.Name }

// Tools returns the server's tools, connecting lazily on first call.
func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connect(ctx); err != nil {
			return nil, cortexerr.Wrap(cortexerr.KindInternal, "connect to MCP server", err)
		}
	}
	return c.tools, nil
}

// Close tears down the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stdio != nil {
		err := c.stdio.Close()
		c.stdio, c.connected, c.tools = nil, false, nil
		return err
	}
	c.httpClient, c.connected, c.tools = nil, false, nil
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	if c.cfg.Command != "" || c.cfg.Transport == "stdio" {
		return c.connectStdio(ctx)
	}
	return c.connectHTTP(ctx)
}

func (c *Client) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(c.cfg.Command, envSlice(c.cfg.Env), c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("create stdio MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "cortex-agent", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var tools []tool.Tool
	for _, mt := range listResp.Tools {
		if c.filterSet != nil && !c.filterSet[mt.Name] {
			continue
		}
		tools = append(tools, &mcpTool{client: c, name: mt.Name, desc: mt.Description, schema: convertSchema(mt.InputSchema), stdio: true})
	}

	c.stdio, c.tools, c.connected = mcpClient, tools, true
	slog.Info("mcp server connected", "name", c.cfg.Name, "transport", "stdio", "tools", len(tools))
	return nil
}

func (c *Client) connectHTTP(ctx context.Context) error {
	c.httpClient = &http.Client{Timeout: 30 * time.Second}

	initResp, err := c.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "cortex-agent", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, _ := listResp.Result.(map[string]any)
	toolsList, _ := resultMap["tools"].([]any)

	var tools []tool.Tool
	for _, raw := range toolsList {
		tm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tm["name"].(string)
		if c.filterSet != nil && !c.filterSet[name] {
			continue
		}
		desc, _ := tm["description"].(string)
		schema, _ := tm["inputSchema"].(map[string]any)
		tools = append(tools, &mcpTool{client: c, name: name, desc: desc, schema: schema, stdio: false})
	}

	c.tools, c.connected = tools, true
	slog.Info("mcp server connected", "name", c.cfg.Name, "transport", c.cfg.Transport, "tools", len(tools))
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	c.sessionMu.RLock()
	sid := c.sessionID
	c.sessionMu.RUnlock()
	if sid != "" {
		req.Header.Set("mcp-session-id", sid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if newSID := resp.Header.Get("mcp-session-id"); newSID != "" {
		c.sessionMu.Lock()
		c.sessionID = newSID
		c.sessionMu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(b))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.readSSE(resp)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out rpcResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

func (c *Client) readSSE(resp *http.Response) (*rpcResponse, error) {
	type result struct {
		resp *rpcResponse
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		var data strings.Builder
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			s := strings.TrimSpace(string(line))
			if s == "" {
				if data.Len() > 0 {
					var out rpcResponse
					if json.Unmarshal([]byte(data.String()), &out) == nil {
						ch <- result{resp: &out}
						return
					}
					data.Reset()
				}
				continue
			}
			if strings.HasPrefix(s, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(s, "data:")))
			}
		}
		ch <- result{err: fmt.Errorf("SSE stream ended without a complete message")}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-time.After(c.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", c.cfg.SSETimeout)
	}
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}

// mcpTool adapts one remote MCP tool to pkg/tool.CallableTool.
// Risk is always classed Other/Ask: the runtime has no way to know an
// unfamiliar server's side effects, so it defaults to the conservative
// disposition rather than guessing Allow.
type mcpTool struct {
	client *Client
	name   string
	desc   string
	schema map[string]any
	stdio  bool
}

func (t *mcpTool) Name() string                             { return t.name }
func (t *mcpTool) Description() string                      { return t.desc }
func (t *mcpTool) RiskClass() tool.RiskClass                 { return tool.RiskOther }
func (t *mcpTool) PermissionDefault() tool.PermissionDefault { return tool.PermissionAsk }
func (t *mcpTool) RequiresApproval(map[string]any) bool      { return false }
func (t *mcpTool) Schema() map[string]any                    { return t.schema }

func (t *mcpTool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	if t.stdio {
		return t.callStdio(args)
	}
	return t.callHTTP(args)
}

func (t *mcpTool) callStdio(args map[string]any) (*tool.Result, error) {
	t.client.mu.Lock()
	mcpClient := t.client.stdio
	t.client.mu.Unlock()
	if mcpClient == nil {
		return nil, cortexerr.New(cortexerr.KindToolError, "MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(context.Background(), req)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "MCP call failed", err)
	}
	return toolResultFromMCP(resp), nil
}

func (t *mcpTool) callHTTP(args map[string]any) (*tool.Result, error) {
	resp, err := t.client.rpc(context.Background(), "tools/call", map[string]any{"name": t.name, "arguments": args})
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindToolError, "MCP call failed", err)
	}
	if resp.Error != nil {
		return &tool.Result{Success: false, Content: resp.Error.Message, ErrorKind: cortexerr.KindToolError}, nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return &tool.Result{Success: true, Content: fmt.Sprintf("%v", resp.Result)}, nil
	}
	if isErr, _ := resultMap["isError"].(bool); isErr {
		return &tool.Result{Success: false, Content: extractText(resultMap), ErrorKind: cortexerr.KindToolError}, nil
	}
	return &tool.Result{Success: true, Content: extractText(resultMap)}, nil
}

func extractText(resultMap map[string]any) string {
	content, _ := resultMap["content"].([]any)
	var texts []string
	for _, c := range content {
		cm, ok := c.(map[string]any)
		if !ok || cm["type"] != "text" {
			continue
		}
		if text, ok := cm["text"].(string); ok {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

func toolResultFromMCP(resp *mcp.CallToolResult) *tool.Result {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if resp.IsError {
		return &tool.Result{Success: false, Content: joined, ErrorKind: cortexerr.KindToolError}
	}
	return &tool.Result{Success: true, Content: joined}
}

var _ tool.CallableTool = (*mcpTool)(nil)
