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

// Command cortex is the CLI entry point for the Cortex coding
// assistant agent runtime.
//
// Usage:
//
//	cortex exec --workspace . "add error handling to main.go"
//	cortex serve --workspace .
//	cortex session list
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-agent/internal/cli"
	"github.com/cortexlabs/cortex-agent/pkg/approval"
	"github.com/cortexlabs/cortex-agent/pkg/authn"
	"github.com/cortexlabs/cortex-agent/pkg/config"
	"github.com/cortexlabs/cortex-agent/pkg/delegate"
	"github.com/cortexlabs/cortex-agent/pkg/logger"
	"github.com/cortexlabs/cortex-agent/pkg/protocol"
)

// CLI defines the command-line interface.
type CLI struct {
	Exec    ExecCmd    `cmd:"" help:"Run a single prompt to completion and exit."`
	Serve   ServeCmd   `cmd:"" help:"Serve the JSON-RPC session protocol over stdio."`
	Session SessionCmd `cmd:"" help:"Inspect stored sessions."`

	Config    string `short:"c" help:"Path to config file."`
	Workspace string `short:"w" help:"Workspace root." default:"."`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// ExecCmd runs one prompt non-interactively, printing the assistant's
// final response to stdout.
type ExecCmd struct {
	AutoApprove bool   `name:"auto-approve" help:"Approve every tool call automatically."`
	Prompt      string `arg:"" help:"The prompt to run."`
}

func (c *ExecCmd) Run(cliArgs *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(cancel)

	app, err := cli.Bootstrap(ctx, cliArgs.Config, cliArgs.Workspace)
	if err != nil {
		return err
	}
	if c.AutoApprove {
		app.Approvals.SetAutoApprove(true)
	}

	engine, err := app.NewEngine(uuid.NewString(), printingDelegate{})
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, c.Prompt)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

// ServeCmd serves the session protocol over stdio.
type ServeCmd struct {
	Auth bool `help:"Require a bearer JWT on new_session (CORTEX_JWT_SECRET env var)."`
}

func (c *ServeCmd) Run(cliArgs *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(cancel)

	app, err := cli.Bootstrap(ctx, cliArgs.Config, cliArgs.Workspace)
	if err != nil {
		return err
	}

	if cliArgs.Config != "" {
		if watcher, err := config.Watch(ctx, cliArgs.Config); err != nil {
			slog.Warn("config watch disabled", "error", err)
		} else {
			go func() {
				for s := range watcher.Updates {
					slog.Info("config file changed; restart cortex serve to apply it", "model", s.Model, "sandbox_policy", s.SandboxPolicy)
				}
			}()
		}
	}

	var authGate *protocol.AuthGate
	if c.Auth {
		secret := os.Getenv("CORTEX_JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("--auth requires CORTEX_JWT_SECRET to be set")
		}
		verifier, err := authn.NewJWTVerifierFromHMAC([]byte(secret), "cortex-agent", "cortex-client")
		if err != nil {
			return err
		}
		authGate = protocol.NewAuthGate(verifier)
	}

	srv := cli.NewServer(app, authGate)
	slog.Info("cortex serve: reading JSON-RPC requests from stdin")
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

// SessionCmd groups session inspection subcommands.
type SessionCmd struct {
	List  ListSessionsCmd `cmd:"" help:"List stored sessions."`
	Show  ShowSessionCmd  `cmd:"" help:"Show one session's metadata and message history."`
	Share ShareSessionCmd `cmd:"" help:"Generate a shareable link for a session."`
	Tag   TagSessionCmd   `cmd:"" help:"Replace a session's tags."`
}

// ListSessionsCmd lists every session under the data directory.
type ListSessionsCmd struct{}

func (c *ListSessionsCmd) Run(cliArgs *CLI) error {
	app, err := cli.Bootstrap(context.Background(), cliArgs.Config, cliArgs.Workspace)
	if err != nil {
		return err
	}
	sessions, err := app.Sessions.List()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\t%s\n", s.ID, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// ShowSessionCmd prints one session's metadata and message history.
type ShowSessionCmd struct {
	ID string `arg:"" help:"Session ID."`
}

func (c *ShowSessionCmd) Run(cliArgs *CLI) error {
	app, err := cli.Bootstrap(context.Background(), cliArgs.Config, cliArgs.Workspace)
	if err != nil {
		return err
	}
	meta, err := app.Sessions.Load(c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("id:       %s\n", meta.ID)
	fmt.Printf("title:    %s\n", meta.Title)
	fmt.Printf("cwd:      %s\n", meta.Cwd)
	fmt.Printf("created:  %s\n", meta.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("updated:  %s\n", meta.UpdatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("favorite: %t\n", meta.Favorite)
	fmt.Printf("tags:     %s\n", strings.Join(meta.Tags, ","))
	if meta.Share != nil {
		fmt.Printf("share:    %s\n", meta.Share.Token)
	}

	history, err := app.Sessions.ReadHistory(c.ID)
	if err != nil {
		return err
	}
	for _, msg := range history {
		fmt.Printf("\n[%s] %s\n", msg.Role, msg.Content)
	}
	return nil
}

// ShareSessionCmd generates a shareable link for a session.
type ShareSessionCmd struct {
	ID  string        `arg:"" help:"Session ID."`
	TTL time.Duration `help:"Link lifetime; zero never expires." default:"0"`
}

func (c *ShareSessionCmd) Run(cliArgs *CLI) error {
	app, err := cli.Bootstrap(context.Background(), cliArgs.Config, cliArgs.Workspace)
	if err != nil {
		return err
	}
	info, err := app.Sessions.Share(c.ID, c.TTL)
	if err != nil {
		return err
	}
	fmt.Println(info.Token)
	return nil
}

// TagSessionCmd replaces a session's tag set.
type TagSessionCmd struct {
	ID   string   `arg:"" help:"Session ID."`
	Tags []string `arg:"" optional:"" help:"Tags to attach, replacing any existing tags."`
}

func (c *TagSessionCmd) Run(cliArgs *CLI) error {
	app, err := cli.Bootstrap(context.Background(), cliArgs.Config, cliArgs.Workspace)
	if err != nil {
		return err
	}
	meta, err := app.Sessions.Load(c.ID)
	if err != nil {
		return err
	}
	meta.Tags = c.Tags
	return app.Sessions.Save(meta)
}

// printingDelegate renders turn events to stdout for `cortex exec`;
// every approval it is asked for is rejected. When the engine's
// approval.Manager is in auto-approve mode the manager approves the
// request itself and this delegate's answer is discarded.
type printingDelegate struct{}

func (printingDelegate) OnEvent(e delegate.Event) {
	switch e.Kind {
	case delegate.EventMessageChunk:
		fmt.Print(e.Text)
	case delegate.EventToolCall:
		if e.ToolCall != nil {
			fmt.Fprintf(os.Stderr, "\n[tool] %s\n", e.ToolCall.ToolName)
		}
	}
}

func (printingDelegate) OnApprovalNeeded(req approval.Request) (approval.Response, error) {
	return approval.Response{Decision: approval.Rejected, Reason: "interactive approval required but not supported in exec mode"}, nil
}

func notifyShutdown(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()
}

func main() {
	app := CLI{}
	kctx := kong.Parse(&app,
		kong.Name("cortex"),
		kong.Description("Cortex interactive coding assistant agent runtime"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(app.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, "simple")

	err = kctx.Run(&app)
	kctx.FatalIfErrorf(err)
}
