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

// Package authn verifies bearer tokens presented to the session
// protocol adapter (spec.md §6.2 auth_methods), so a remote client can
// be required to authenticate before it gets a session.
package authn

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is what a verified token resolves to.
type Identity struct {
	Subject string
	Claims  map[string]any
}

// Verifier checks a bearer token and returns the identity it asserts.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// ErrInvalidToken is returned for any verification failure; callers
// surface it to the protocol layer as a generic auth rejection rather
// than leaking which check failed.
var ErrInvalidToken = errors.New("authn: invalid token")

// JWTVerifier verifies HMAC- or RSA/EC-signed JWTs against a static
// key set, the way a single-tenant deployment of the session protocol
// adapter authenticates its one expected client population.
type JWTVerifier struct {
	keySet   jwk.Set
	issuer   string
	audience string
}

// NewJWTVerifierFromHMAC builds a verifier for a single shared-secret
// HMAC key, the simplest deployment shape.
func NewJWTVerifierFromHMAC(secret []byte, issuer, audience string) (*JWTVerifier, error) {
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("authn: build hmac key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return nil, fmt.Errorf("authn: set key algorithm: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("authn: add key to set: %w", err)
	}
	return &JWTVerifier{keySet: set, issuer: issuer, audience: audience}, nil
}

// NewJWTVerifierFromKeySet builds a verifier against an externally
// supplied JWK set (e.g. fetched from an identity provider's JWKS
// endpoint by the caller).
func NewJWTVerifierFromKeySet(set jwk.Set, issuer, audience string) *JWTVerifier {
	return &JWTVerifier{keySet: set, issuer: issuer, audience: audience}
}

// Verify parses and validates token, checking signature, expiry, and
// (when configured) issuer/audience.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParseOption{jwt.WithKeySet(v.keySet), jwt.WithValidate(true)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseString(token, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, err := parsed.AsMap(context.Background())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{Subject: parsed.Subject(), Claims: claims}, nil
}

// IssueHMAC mints a short-lived HMAC-signed token for a subject, used
// by the CLI's local `session share` flow rather than a full OIDC
// provider.
func IssueHMAC(secret []byte, subject string, ttl time.Duration) (string, error) {
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return "", fmt.Errorf("authn: build hmac key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return "", fmt.Errorf("authn: set key algorithm: %w", err)
	}

	tok, err := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("authn: build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		return "", fmt.Errorf("authn: sign token: %w", err)
	}
	return string(signed), nil
}

// NewShareToken generates an opaque, unguessable token for the
// share-link flow (pkg/session.ShareInfo.Token) — not a JWT, since a
// share link only needs to be compared by value, never introspected.
func NewShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authn: generate share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
