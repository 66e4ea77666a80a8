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

// Package config loads cortex-agent's own settings (model selection,
// sandbox/network policy defaults, approval mode, context budget) the
// way the teacher loads its agent YAML: koanf layered over a defaults
// provider and a YAML file provider, with environment overrides
// applied afterwards by applyEnvOverrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Settings is the resolved configuration for one cortex-agent process.
type Settings struct {
	Model            string            `koanf:"model"`
	Provider         string            `koanf:"provider"`
	MaxTokens        int               `koanf:"max_tokens"`
	OutputReserve    int               `koanf:"output_reserve"`
	CompactThreshold float64           `koanf:"compact_threshold"`
	AutoApprove      bool              `koanf:"auto_approve"`
	SandboxPolicy    string            `koanf:"sandbox_policy"` // danger-full-access | read-only | workspace-write
	NetworkMode      string            `koanf:"network_mode"`   // off | allowlist | full
	AllowedHosts     []string          `koanf:"allowed_hosts"`
	MCPServers       map[string]MCP    `koanf:"mcp_servers"`
	Env              map[string]string `koanf:"env"`
	SessionBackend   string            `koanf:"session_backend"` // file | postgres | mysql | sqlite
	SessionDSN       string            `koanf:"session_dsn"`
}

// MCP describes one configured MCP server binding (pkg/mcpclient.Config).
type MCP struct {
	Transport string            `koanf:"transport"`
	URL       string            `koanf:"url"`
	Command   string            `koanf:"command"`
	Args      []string          `koanf:"args"`
	Env       map[string]string `koanf:"env"`
	Filter    []string          `koanf:"filter"`
}

// Defaults returns the settings used when no config file is present
// (spec.md's zero-config entry point).
func Defaults() Settings {
	return Settings{
		Model:            "claude-sonnet-4-5",
		Provider:         "anthropic",
		MaxTokens:        180_000,
		OutputReserve:    8_000,
		CompactThreshold: 0.8,
		SandboxPolicy:    "workspace-write",
		NetworkMode:      "off",
		SessionBackend:   "file",
	}
}

// Load reads configFile (if it exists) over Defaults(), then applies
// CORTEX_-prefixed environment overrides. A missing configFile is not
// an error: Defaults() alone is a complete, valid configuration.
func Load(configFile string) (Settings, error) {
	k := koanf.New(".")

	defaults := Defaults()
	defaultsMap := map[string]any{
		"model":             defaults.Model,
		"provider":          defaults.Provider,
		"max_tokens":        defaults.MaxTokens,
		"output_reserve":    defaults.OutputReserve,
		"compact_threshold": defaults.CompactThreshold,
		"sandbox_policy":    defaults.SandboxPolicy,
		"network_mode":      defaults.NetworkMode,
		"session_backend":   defaults.SessionBackend,
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return Settings{}, fmt.Errorf("load defaults: %w", err)
	}

	if configFile != "" {
		if err := loadDotEnv(filepath.Join(filepath.Dir(configFile), ".env")); err != nil {
			return Settings{}, err
		}
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			if !isNotExist(err) {
				return Settings{}, fmt.Errorf("load config file %s: %w", configFile, err)
			}
		}
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	applyEnvOverrides(&settings)
	return settings, nil
}

// applyEnvOverrides applies the handful of CORTEX_-prefixed env vars
// that take precedence over both defaults and the config file.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("CORTEX_MODEL"); v != "" {
		s.Model = v
	}
	if v := os.Getenv("CORTEX_PROVIDER"); v != "" {
		s.Provider = v
	}
	if v := os.Getenv("CORTEX_SANDBOX_POLICY"); v != "" {
		s.SandboxPolicy = v
	}
	if v := os.Getenv("CORTEX_NETWORK_MODE"); v != "" {
		s.NetworkMode = v
	}
	if v := os.Getenv("CORTEX_AUTO_APPROVE"); v != "" {
		s.AutoApprove = v == "1" || strings.EqualFold(v, "true")
	}
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find the file")
}

// loadDotEnv loads a local-dev .env file into the process environment
// (e.g. ANTHROPIC_API_KEY) if one is present beside the config file. A
// missing .env is not an error; existing environment variables always
// win (godotenv.Load never overwrites a variable already set).
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env %s: %w", path, err)
	}
	return nil
}
