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

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-agent/pkg/approval"
	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/delegate"
	"github.com/cortexlabs/cortex-agent/pkg/protocol"
	"github.com/cortexlabs/cortex-agent/pkg/turn"
)

// Server speaks the newline-delimited JSON-RPC session protocol
// (pkg/protocol) over r/w, dispatching to one App per process and one
// turn.Engine per session.
type Server struct {
	app  *App
	auth *protocol.AuthGate

	mu       sync.Mutex
	sessions map[string]*serverSession
}

type serverSession struct {
	engine *turn.Engine
	out    *delegate.Channel
}

// NewServer wires a Server against app. auth may be nil to disable
// session authentication entirely.
func NewServer(app *App, auth *protocol.AuthGate) *Server {
	return &Server{app: app, auth: auth, sessions: make(map[string]*serverSession)}
}

// Serve reads one JSON-RPC request per line from r, dispatches it, and
// writes the Response (or any out-of-band session/update Notification)
// as one JSON-per-line message to w. It runs until r is exhausted or
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var writeMu sync.Mutex
	writeLine := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		enc := json.NewEncoder(w)
		return enc.Encode(v)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			_ = writeLine(protocol.NewErrorResponse(nil, cortexerr.JSONRPCCode(cortexerr.KindInvalidParams), "malformed request", err.Error()))
			continue
		}

		resp := s.dispatch(ctx, req, writeLine)
		if err := writeLine(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req protocol.Request, writeLine func(any) error) protocol.Response {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)
	case protocol.MethodNewSession:
		return s.handleNewSession(req, writeLine)
	case protocol.MethodPrompt:
		return s.handlePrompt(ctx, req)
	default:
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInvalidParams), "unknown method: "+req.Method, nil)
	}
}

func (s *Server) handleInitialize(req protocol.Request) protocol.Response {
	var methods []protocol.AuthMethod
	if s.auth != nil {
		methods = s.auth.AuthMethods()
	}
	result := protocol.InitializeResult{
		ProtocolVersion: 1,
		AgentCapabilities: protocol.AgentCapabilities{
			LoadSession:        true,
			PromptCapabilities: protocol.PromptCapabilities{EmbeddedContext: true},
		},
		AgentInfo:   protocol.AgentInfo{Name: "cortex-agent", Version: "dev"},
		AuthMethods: methods,
	}
	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInternal), err.Error(), nil)
	}
	return resp
}

func (s *Server) handleNewSession(req protocol.Request, writeLine func(any) error) protocol.Response {
	var params protocol.NewSessionParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInvalidParams), err.Error(), nil)
	}

	sessionID := uuid.NewString()
	out := delegate.NewChannel(64, func(r approval.Request) (approval.Response, error) {
		return approval.Response{Decision: approval.Rejected, Reason: "interactive approval not wired over this transport"}, nil
	})

	engine, err := s.app.NewEngine(sessionID, out)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInternal), err.Error(), nil)
	}

	s.mu.Lock()
	s.sessions[sessionID] = &serverSession{engine: engine, out: out}
	s.mu.Unlock()

	go s.pumpUpdates(sessionID, out, writeLine)

	result := protocol.NewSessionResult{
		SessionID: sessionID,
		Modes: &protocol.ModesInfo{
			CurrentModeID: string(s.app.Mode.Current()),
			AvailableModes: []protocol.ModeOption{
				{ID: "build", Name: "Build"},
				{ID: "plan", Name: "Plan"},
				{ID: "spec", Name: "Spec"},
			},
		},
	}
	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInternal), err.Error(), nil)
	}
	return resp
}

// pumpUpdates forwards every delegate.Event on out as a session/update
// notification until the channel is closed.
func (s *Server) pumpUpdates(sessionID string, out *delegate.Channel, writeLine func(any) error) {
	for ev := range out.C {
		update, ok := protocol.FromDelegateEvent(sessionID, ev)
		if !ok {
			continue
		}
		note, err := update.MarshalNotification()
		if err != nil {
			slog.Warn("marshal session update failed", "error", err)
			continue
		}
		if err := writeLine(note); err != nil {
			slog.Warn("write session update failed", "error", err)
			return
		}
	}
}

func (s *Server) handlePrompt(ctx context.Context, req protocol.Request) protocol.Response {
	var params protocol.PromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInvalidParams), err.Error(), nil)
	}

	s.mu.Lock()
	sess, ok := s.sessions[params.SessionID]
	s.mu.Unlock()
	if !ok {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInvalidParams), "unknown session: "+params.SessionID, nil)
	}

	var text strings.Builder
	for _, block := range params.Prompt {
		if block.Kind == protocol.PromptContentText {
			text.WriteString(block.Text)
		}
	}

	stopReason := protocol.StopEndTurn
	if _, err := sess.engine.Run(ctx, text.String()); err != nil {
		if cortexerr.Is(err, cortexerr.KindCancelled) {
			stopReason = protocol.StopCancelled
		} else {
			return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindOf(err)), err.Error(), nil)
		}
	}

	resp, err := protocol.NewResponse(req.ID, protocol.PromptResult{StopReason: stopReason})
	if err != nil {
		return protocol.NewErrorResponse(req.ID, cortexerr.JSONRPCCode(cortexerr.KindInternal), err.Error(), nil)
	}
	return resp
}
