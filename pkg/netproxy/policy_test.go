package netproxy

import (
	"testing"

	"github.com/cortexlabs/cortex-agent/pkg/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHost(t *testing.T, s string) pathutil.Host {
	t.Helper()
	h, err := pathutil.ParseHost(s)
	require.NoError(t, err)
	return h
}

func TestPolicy_CheckHostSync_Precedence(t *testing.T) {
	t.Run("disabled beats everything", func(t *testing.T) {
		p := Policy{Mode: ModeDisabled, AllowPatterns: []pathutil.DomainPattern{"*"}}
		d := p.CheckHostSync(mustHost(t, "example.com"))
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNetworkDisabled, d.Reason)
	})

	t.Run("deny pattern beats allowlist", func(t *testing.T) {
		p := Policy{
			Mode:          ModeFull,
			AllowPatterns: []pathutil.DomainPattern{"*.example.com"},
			DenyPatterns:  []pathutil.DomainPattern{"evil.example.com"},
		}
		d := p.CheckHostSync(mustHost(t, "evil.example.com"))
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDenied, d.Reason)
	})

	t.Run("loopback denied without allow_local_binding", func(t *testing.T) {
		p := Policy{Mode: ModeFull}
		d := p.CheckHostSync(mustHost(t, "localhost"))
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNotAllowedLocal, d.Reason)
	})

	t.Run("loopback allowed with allow_local_binding", func(t *testing.T) {
		p := Policy{Mode: ModeFull, AllowLocalBinding: true}
		d := p.CheckHostSync(mustHost(t, "127.0.0.1"))
		assert.True(t, d.Allowed)
	})

	t.Run("non-empty allowlist excludes unmatched", func(t *testing.T) {
		p := Policy{Mode: ModeFull, AllowPatterns: []pathutil.DomainPattern{"*.example.com"}}
		d := p.CheckHostSync(mustHost(t, "other.com"))
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNotAllowed, d.Reason)
	})

	t.Run("empty allowlist permits anything not denied", func(t *testing.T) {
		p := Policy{Mode: ModeFull}
		d := p.CheckHostSync(mustHost(t, "anything.example"))
		assert.True(t, d.Allowed)
	})
}

func TestPolicy_CheckMethod(t *testing.T) {
	t.Run("limited permits get head options", func(t *testing.T) {
		p := Policy{Mode: ModeLimited}
		assert.True(t, p.CheckMethod("GET").Allowed)
		assert.True(t, p.CheckMethod("head").Allowed)
		assert.True(t, p.CheckMethod("OPTIONS").Allowed)
		assert.False(t, p.CheckMethod("POST").Allowed)
	})

	t.Run("full permits everything", func(t *testing.T) {
		p := Policy{Mode: ModeFull}
		assert.True(t, p.CheckMethod("DELETE").Allowed)
	})

	t.Run("disabled permits nothing", func(t *testing.T) {
		p := Policy{Mode: ModeDisabled}
		assert.False(t, p.CheckMethod("GET").Allowed)
	})
}
