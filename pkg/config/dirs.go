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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Dirs is the resolved application data layout (spec.md §6.3). It is
// computed once per process from environment + platform defaults and
// passed explicitly into constructors — there is no mutable global
// singleton, so tests can build their own value.
type Dirs struct {
	Home    string
	Config  string
	Data    string
	Cache   string
	Logs    string
	warning string
}

// Warning returns a non-empty message if CORTEX_HOME could not be
// resolved and the platform default was used instead.
func (d Dirs) Warning() string { return d.warning }

// subdirectories created with owner-only permissions under Data.
var dataSubdirs = []string{"sessions", "history", "auth", "agents", "mcps"}

// ResolveDirs computes the application data root per spec.md §6.3:
// CORTEX_HOME (if relative, resolved against cwd) takes priority,
// then platform defaults (~/.cortex on Unix, %APPDATA%\cortex on
// Windows). Individual overrides CORTEX_CONFIG_DIR/CORTEX_DATA_DIR/
// CORTEX_CACHE_DIR take precedence over the computed home.
func ResolveDirs(cwd string) (Dirs, error) {
	var d Dirs

	home := os.Getenv("CORTEX_HOME")
	if home != "" {
		if !filepath.IsAbs(home) {
			resolved := filepath.Join(cwd, home)
			if _, err := os.Stat(filepath.Dir(resolved)); err != nil {
				d.warning = fmt.Sprintf("CORTEX_HOME=%q could not be resolved against %q, falling back to platform default", home, cwd)
				home = ""
			} else {
				home = resolved
			}
		}
	}

	if home == "" {
		defHome, err := platformDefaultHome()
		if err != nil {
			return Dirs{}, fmt.Errorf("resolve default home: %w", err)
		}
		home = defHome
	}
	d.Home = home

	d.Config = firstNonEmpty(os.Getenv("CORTEX_CONFIG_DIR"), home)
	d.Data = firstNonEmpty(os.Getenv("CORTEX_DATA_DIR"), home)
	d.Cache = firstNonEmpty(os.Getenv("CORTEX_CACHE_DIR"), platformDefaultCache(home))
	d.Logs = filepath.Join(d.Cache, "logs")

	return d, nil
}

// EnsureLayout creates every subdirectory with owner-only permissions.
func (d Dirs) EnsureLayout() error {
	dirs := []string{d.Config, d.Data, d.Cache, d.Logs}
	for _, sub := range dataSubdirs {
		dirs = append(dirs, filepath.Join(d.Data, sub))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// SessionsDir returns the sessions/ directory under Data.
func (d Dirs) SessionsDir() string { return filepath.Join(d.Data, "sessions") }

// HistoryDir returns the history/ directory under Data.
func (d Dirs) HistoryDir() string { return filepath.Join(d.Data, "history") }

// ConfigFile returns the path to config.toml at the config root.
func (d Dirs) ConfigFile() string { return filepath.Join(d.Config, "config.toml") }

func platformDefaultHome() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("%%APPDATA%% is not set")
		}
		return filepath.Join(appData, "cortex"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cortex"), nil
}

func platformDefaultCache(home string) string {
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "cortex")
		}
	}
	return filepath.Join(home, "cache")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
