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

// Package cortexerr defines the typed error taxonomy shared by every
// layer of the agent runtime. Library code returns a *Error with a
// Kind so callers (in particular the turn engine and the protocol
// adapter) can classify and map errors without string matching.
package cortexerr

import (
	"errors"
	"fmt"
)

// Kind is the wire-facing error taxonomy.
type Kind string

const (
	KindParse               Kind = "parse"
	KindInvalidRequest      Kind = "invalid_request"
	KindMethodNotFound      Kind = "method_not_found"
	KindInvalidParams       Kind = "invalid_params"
	KindInternal            Kind = "internal"
	KindSandboxDenied       Kind = "sandbox_denied"
	KindNetworkDenied       Kind = "network_denied"
	KindPathEscape          Kind = "path_escape"
	KindNotRead             Kind = "not_read"
	KindModifiedExternally  Kind = "modified_externally"
	KindContextExhausted    Kind = "context_exhausted"
	KindApprovalRejected    Kind = "approval_rejected"
	KindApprovalTimeout     Kind = "approval_timeout"
	KindToolError           Kind = "tool_error"
	KindModelError          Kind = "model_error"
	KindCancelled           Kind = "cancelled"
	KindDepthLimitExceeded  Kind = "depth_limit_exceeded"
	KindConcurrencyExceeded Kind = "concurrency_limit_exceeded"
)

// Error is the concrete error type returned by every core package.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable reports whether an error of this kind should be fed back
// to the model as a tool error or synthesized user-visible message,
// rather than aborting the turn. Only KindInternal is fatal.
func Recoverable(err error) bool {
	return KindOf(err) != KindInternal
}

// JSONRPCCode maps a Kind to the JSON-RPC 2.0 standard error code used
// by the session protocol adapter (spec.md §4.15/§7).
func JSONRPCCode(kind Kind) int {
	switch kind {
	case KindParse:
		return -32700
	case KindInvalidRequest:
		return -32600
	case KindMethodNotFound:
		return -32601
	case KindInvalidParams:
		return -32602
	default:
		return -32603
	}
}
