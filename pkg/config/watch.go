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
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Settings from configFile whenever it changes on
// disk and pushes the new value to Updates. A failed reload is logged
// and skipped — the previously loaded Settings stay in effect rather
// than crashing a long-running process over a transient write.
type Watcher struct {
	Updates <-chan Settings

	watcher *fsnotify.Watcher
}

// Watch starts watching configFile's directory for writes/renames to
// that file (editors commonly replace a file via rename-over rather
// than an in-place write, which a direct file watch would miss).
// Closing ctx or calling Close stops the watcher and closes Updates.
func Watch(ctx context.Context, configFile string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(configFile)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	updates := make(chan Settings, 1)
	w := &Watcher{Updates: updates, watcher: fsw}

	go func() {
		defer close(updates)
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(configFile) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				settings, err := Load(configFile)
				if err != nil {
					slog.Warn("config reload failed, keeping previous settings", "error", err)
					continue
				}
				select {
				case updates <- settings:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return w, nil
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
