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

// Package cli wires together every package pkg/ exposes into a single
// running process: config, sandbox/network policy, the tool registry,
// session storage, the turn engine, and the optional JSON-RPC session
// protocol server. cmd/cortex is a thin kong front end over this
// package.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cortexlabs/cortex-agent/pkg/approval"
	cortexcontext "github.com/cortexlabs/cortex-agent/pkg/context"
	"github.com/cortexlabs/cortex-agent/pkg/config"
	"github.com/cortexlabs/cortex-agent/pkg/delegate"
	"github.com/cortexlabs/cortex-agent/pkg/discovery"
	"github.com/cortexlabs/cortex-agent/pkg/filetime"
	"github.com/cortexlabs/cortex-agent/pkg/llmclient"
	"github.com/cortexlabs/cortex-agent/pkg/mcpclient"
	"github.com/cortexlabs/cortex-agent/pkg/mode"
	"github.com/cortexlabs/cortex-agent/pkg/netproxy"
	"github.com/cortexlabs/cortex-agent/pkg/observability"
	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
	"github.com/cortexlabs/cortex-agent/pkg/ratelimit"
	"github.com/cortexlabs/cortex-agent/pkg/sandbox"
	"github.com/cortexlabs/cortex-agent/pkg/session"
	"github.com/cortexlabs/cortex-agent/pkg/subagent"
	"github.com/cortexlabs/cortex-agent/pkg/tool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/commandtool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/filetool"
	"github.com/cortexlabs/cortex-agent/pkg/tool/webtool"
	"github.com/cortexlabs/cortex-agent/pkg/turn"
)

// App is one fully-wired cortex-agent process: every long-lived
// component a session needs, built once at startup.
type App struct {
	Settings  config.Settings
	Dirs      config.Dirs
	Cwd       string
	Sessions  session.Store
	Approvals *approval.Manager
	Sandbox   *sandbox.Manager
	Registry  *tool.Registry
	Provider  llmclient.Provider
	Mode      *mode.Controller
	Subagents *subagent.Controller
	Limiter   ratelimit.Limiter
	Obs       *observability.Manager
}

// Bootstrap loads configuration, builds every shared component, and
// populates and freezes the tool registry. cwd is the workspace root
// tools operate against.
func Bootstrap(ctx context.Context, configFile, cwd string) (*App, error) {
	settings, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	dirs, err := config.ResolveDirs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve dirs: %w", err)
	}
	if err := dirs.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("ensure data layout: %w", err)
	}

	sessions, err := sessionStoreFromSettings(settings, dirs)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	approvals := approval.NewManager(settings.AutoApprove)

	sandboxPolicy := sandboxPolicyFromSettings(settings)
	sandboxMgr := sandbox.New(sandboxPolicy, cwd)

	netPolicy := netproxy.Policy{
		Mode:          netproxyModeFromSettings(settings.NetworkMode),
		AllowPatterns: toPatterns(settings.AllowedHosts),
	}
	netEngine := netproxy.NewEngine(netPolicy)

	apiKey := settings.Env["ANTHROPIC_API_KEY"]
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	provider, err := llmclient.NewAnthropicProvider(llmclient.AnthropicConfig{
		APIKey:       apiKey,
		DefaultModel: settings.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("build model provider: %w", err)
	}

	registry, err := buildRegistry(sandboxMgr, netEngine, settings)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	modeCtl, err := mode.NewController("You are Cortex, an interactive coding assistant.", mode.Build, approvals)
	if err != nil {
		return nil, fmt.Errorf("build mode controller: %w", err)
	}

	registryBuilder, err := discoveryRegistry()
	if err != nil {
		return nil, fmt.Errorf("build discovery registry: %w", err)
	}

	limiter := ratelimit.NewLocalLimiter(2, 8)
	obs, err := observability.NewManager(ctx, &observability.Config{})
	if err != nil {
		return nil, fmt.Errorf("build observability manager: %w", err)
	}

	subCtl := subagent.NewController(5, 4, nil).WithRegistry(registryBuilder)

	return &App{
		Settings:  settings,
		Dirs:      dirs,
		Cwd:       cwd,
		Sessions:  sessions,
		Approvals: approvals,
		Sandbox:   sandboxMgr,
		Registry:  registry,
		Provider:  provider,
		Mode:      modeCtl,
		Subagents: subCtl,
		Limiter:   limiter,
		Obs:       obs,
	}, nil
}

// NewEngine builds a turn.Engine for one conversation, wired to the
// App's shared components.
func (a *App) NewEngine(conversationID string, d delegate.Delegate) (*turn.Engine, error) {
	ctxMgr, err := cortexcontext.NewManager(a.Settings.Model, cortexcontext.Config{
		MaxTokens:            a.Settings.MaxTokens,
		OutputReserve:        a.Settings.OutputReserve,
		CompactionThreshold:  a.Settings.CompactThreshold,
		AutoCompact:          true,
		MaxFileContext:       64,
		CacheEnabled:         true,
		SystemPromptPriority: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build context manager: %w", err)
	}
	prompt, err := a.Mode.SystemPrompt(nil)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	ctxMgr.SetSystemPrompt(prompt)

	cfg := turn.DefaultConfig()
	cfg.WorkspaceRoot = a.Cwd

	engine := turn.New(cfg, a.Settings.Model, a.Provider, ctxMgr, a.Approvals, a.Registry, a.Sessions, a.Sandbox, conversationID, d)
	engine.WithLimiter(a.Limiter).WithObservability(a.Obs)
	return engine, nil
}

func buildRegistry(sandboxMgr *sandbox.Manager, netEngine *netproxy.Engine, settings config.Settings) (*tool.Registry, error) {
	registry := tool.NewRegistry()
	tracker := filetime.New()

	readFile, err := filetool.NewReadFile(filetool.ReadFileConfig{Tracker: tracker})
	if err != nil {
		return nil, err
	}
	writeFile, err := filetool.NewWriteFile(filetool.WriteFileConfig{Tracker: tracker, BackupOnOverwrite: true})
	if err != nil {
		return nil, err
	}
	searchReplace, err := filetool.NewSearchReplace(filetool.SearchReplaceConfig{Tracker: tracker, ShowDiff: true, CreateBackup: true})
	if err != nil {
		return nil, err
	}
	applyPatch, err := filetool.NewApplyPatch(filetool.ApplyPatchConfig{Tracker: tracker, CreateBackup: true})
	if err != nil {
		return nil, err
	}
	grepSearch, err := filetool.NewGrepSearch(filetool.GrepSearchConfig{})
	if err != nil {
		return nil, err
	}
	webRequest, err := webtool.NewWebRequest(webtool.WebRequestConfig{Engine: netEngine})
	if err != nil {
		return nil, err
	}
	execCommand := commandtool.New(commandtool.Config{})

	for _, t := range []tool.Tool{readFile, writeFile, searchReplace, applyPatch, grepSearch, webRequest, execCommand} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	for name, mcpCfg := range settings.MCPServers {
		client, err := mcpclient.New(mcpclient.Config{
			Name: name, URL: mcpCfg.URL, Transport: mcpCfg.Transport,
			Command: mcpCfg.Command, Args: mcpCfg.Args, Env: mcpCfg.Env, Filter: mcpCfg.Filter,
		})
		if err != nil {
			return nil, fmt.Errorf("build mcp client %s: %w", name, err)
		}
		tools, err := client.Tools(context.Background())
		if err != nil {
			return nil, fmt.Errorf("list mcp tools for %s: %w", name, err)
		}
		for _, t := range tools {
			if err := registry.Register(t); err != nil {
				return nil, fmt.Errorf("register mcp tool %s: %w", t.Name(), err)
			}
		}
	}

	registry.Freeze()
	return registry, nil
}

// discoveryRegistry builds the cluster-wide subagent registry from the
// CORTEX_DISCOVERY_BACKEND env var, defaulting to NoopRegistry for a
// single-process deployment.
func discoveryRegistry() (discovery.Registry, error) {
	switch strings.ToLower(os.Getenv("CORTEX_DISCOVERY_BACKEND")) {
	case "consul":
		return discovery.NewConsulRegistry(os.Getenv("CORTEX_CONSUL_ADDR"), "cortex/subagents/", 0)
	case "etcd":
		endpoints := strings.Split(os.Getenv("CORTEX_ETCD_ENDPOINTS"), ",")
		return discovery.NewEtcdRegistry(endpoints, "/cortex/subagents/", 0)
	case "zookeeper":
		servers := strings.Split(os.Getenv("CORTEX_ZK_SERVERS"), ",")
		return discovery.NewZKRegistry(servers, "/cortex/subagents")
	default:
		return discovery.NoopRegistry{}, nil
	}
}

// sessionStoreFromSettings opens a FileStore (the default) or a
// SQLStore when settings.SessionBackend names a SQL dialect, so a
// cluster deployment can point every cortex-agent process at one
// shared database instead of per-process session files.
func sessionStoreFromSettings(settings config.Settings, dirs config.Dirs) (session.Store, error) {
	switch settings.SessionBackend {
	case "", "file":
		return session.NewFileStore(dirs.SessionsDir(), dirs.HistoryDir(), "")
	case "postgres", "mysql", "sqlite":
		return session.NewSQLStore(settings.SessionBackend, settings.SessionDSN, "")
	default:
		return nil, fmt.Errorf("unknown session_backend %q (want file, postgres, mysql, or sqlite)", settings.SessionBackend)
	}
}

func sandboxPolicyFromSettings(s config.Settings) sandbox.Policy {
	switch s.SandboxPolicy {
	case "danger-full-access":
		return sandbox.Policy{Kind: sandbox.DangerFullAccess}
	case "read-only":
		return sandbox.Policy{Kind: sandbox.ReadOnly}
	default:
		return sandbox.Policy{Kind: sandbox.WorkspaceWrite, NetworkAccess: s.NetworkMode == "full"}
	}
}

func toPatterns(hosts []string) []pathutil.DomainPattern {
	out := make([]pathutil.DomainPattern, len(hosts))
	for i, h := range hosts {
		out[i] = pathutil.DomainPattern(h)
	}
	return out
}

// netproxyModeFromSettings maps the config layer's off|allowlist|full
// vocabulary onto pkg/netproxy's disabled|limited|full Mode.
func netproxyModeFromSettings(networkMode string) netproxy.Mode {
	switch networkMode {
	case "allowlist":
		return netproxy.ModeLimited
	case "full":
		return netproxy.ModeFull
	default:
		return netproxy.ModeDisabled
	}
}
