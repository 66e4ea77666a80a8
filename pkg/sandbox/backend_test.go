package sandbox

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBackend(t *testing.T) {
	platform := Passthrough{}
	assert.Equal(t, Passthrough{}, SelectBackend(Policy{Kind: DangerFullAccess}, platform))
	assert.Equal(t, Passthrough{}, SelectBackend(Policy{Kind: WorkspaceWrite}, nil))
	assert.Equal(t, platform, SelectBackend(Policy{Kind: WorkspaceWrite}, platform))
}

func TestPassthrough_PrepareCommand(t *testing.T) {
	cmd := exec.Command("true")
	sb, err := Passthrough{}.PrepareCommand(cmd, Policy{Kind: WorkspaceWrite}, "/workspace", nil)
	require.NoError(t, err)
	assert.Equal(t, "passthrough", sb.Backend)
	assert.Same(t, cmd, sb.Cmd)
}

func TestAssessCommandRisk(t *testing.T) {
	t.Run("high risk rm -rf", func(t *testing.T) {
		a := AssessCommandRisk("rm -rf /")
		assert.Equal(t, RiskHigh, a.Level)
		assert.False(t, a.Reversible)
	})

	t.Run("high risk sudo", func(t *testing.T) {
		a := AssessCommandRisk("sudo apt-get install x")
		assert.Equal(t, RiskHigh, a.Level)
	})

	t.Run("medium risk force push", func(t *testing.T) {
		a := AssessCommandRisk("git push --force origin main")
		assert.Equal(t, RiskMedium, a.Level)
	})

	t.Run("low risk default", func(t *testing.T) {
		a := AssessCommandRisk("ls -la")
		assert.Equal(t, RiskLow, a.Level)
		assert.True(t, a.Reversible)
	})

	t.Run("case insensitive", func(t *testing.T) {
		a := AssessCommandRisk("SUDO rm file")
		assert.Equal(t, RiskHigh, a.Level)
	})
}
