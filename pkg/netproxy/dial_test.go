package netproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CheckHost_IPLiteral(t *testing.T) {
	t.Run("public IP allowed", func(t *testing.T) {
		e := NewEngine(Policy{Mode: ModeFull})
		d, err := e.CheckHost(context.Background(), mustHost(t, "8.8.8.8"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("private IP blocked without local binding", func(t *testing.T) {
		e := NewEngine(Policy{Mode: ModeFull})
		d, err := e.CheckHost(context.Background(), mustHost(t, "10.0.0.5"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNotAllowedLocal, d.Reason)
	})

	t.Run("private IP allowed with local binding", func(t *testing.T) {
		e := NewEngine(Policy{Mode: ModeFull, AllowLocalBinding: true})
		d, err := e.CheckHost(context.Background(), mustHost(t, "10.0.0.5"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestEngine_SafeConnect_DeniedHostNeverDials(t *testing.T) {
	e := NewEngine(Policy{Mode: ModeDisabled})
	_, err := e.SafeConnect(context.Background(), mustHost(t, "example.com:80"), "tcp")
	assert.Error(t, err)
}
