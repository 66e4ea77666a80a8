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

package protocol

import (
	"fmt"

	"github.com/cortexlabs/cortex-agent/pkg/authn"
)

// BearerAuthMethodID is the auth_methods entry advertised from
// initialize when a Verifier is configured.
const BearerAuthMethodID = "bearer_jwt"

// AuthGate validates a bearer token against an authn.Verifier before
// new_session is allowed to proceed; a nil Verifier disables auth
// entirely (the default for a local single-user CLI session).
type AuthGate struct {
	verifier authn.Verifier
}

// NewAuthGate wraps verifier. Pass nil to disable authentication.
func NewAuthGate(verifier authn.Verifier) *AuthGate {
	return &AuthGate{verifier: verifier}
}

// Enabled reports whether this gate requires a token at all.
func (g *AuthGate) Enabled() bool { return g.verifier != nil }

// AuthMethods returns the auth_methods list for InitializeResult.
func (g *AuthGate) AuthMethods() []AuthMethod {
	if !g.Enabled() {
		return nil
	}
	return []AuthMethod{{ID: BearerAuthMethodID, Name: "Bearer JWT", Description: "Authorization: Bearer <jwt>"}}
}

// Authenticate verifies token and returns the resolved identity's
// subject, or an error wrapping authn.ErrInvalidToken when auth is
// enabled and the token is missing or rejected.
func (g *AuthGate) Authenticate(token string) (string, error) {
	if !g.Enabled() {
		return "", nil
	}
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", authn.ErrInvalidToken)
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return identity.Subject, nil
}
