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

// Package filetime tracks, per session, which files have been read and
// whether they have changed since: the single mechanism that prevents
// a write handler from clobbering a file the model never looked at.
package filetime

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
)

type key struct {
	sessionID string
	path      string
}

// record is what a Tracker remembers about a single read.
type record struct {
	mtime     time.Time
	readAt    time.Time
	didRecord bool
}

// Tracker is the per-session map of canonical path to last-read state,
// plus the per-canonical-path exclusive locks writers serialize on.
type Tracker struct {
	mu      sync.Mutex
	records map[key]record
	locks   map[string]*sync.Mutex
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{
		records: make(map[key]record),
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordRead stats canonicalPath and remembers its mtime under
// (sessionID, canonicalPath), so a later write can detect whether the
// file changed underneath the session between the read and the write.
func (t *Tracker) RecordRead(sessionID, canonicalPath string) error {
	info, err := os.Stat(canonicalPath)
	if err != nil {
		return cortexerr.Wrap(cortexerr.KindToolError, "stat file for read tracking", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[key{sessionID, canonicalPath}] = record{
		mtime:     info.ModTime(),
		readAt:    time.Now(),
		didRecord: true,
	}
	return nil
}

// RecordWrite updates the tracked mtime after a write completes, so a
// subsequent read-modify-write cycle in the same session doesn't see
// its own write as an external modification.
func (t *Tracker) RecordWrite(sessionID, canonicalPath string) error {
	info, err := os.Stat(canonicalPath)
	if err != nil {
		return cortexerr.Wrap(cortexerr.KindToolError, "stat file for write tracking", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[key{sessionID, canonicalPath}] = record{
		mtime:     info.ModTime(),
		readAt:    time.Now(),
		didRecord: true,
	}
	return nil
}

// AssertWritable requires a prior RecordRead for (sessionID,
// canonicalPath) and fails with KindNotRead if none exists, or
// KindModifiedExternally if the file's mtime no longer matches what
// was recorded at read time. A file that does not yet exist (a fresh
// create) is always writable regardless of read history.
func (t *Tracker) AssertWritable(sessionID, canonicalPath string) error {
	t.mu.Lock()
	rec, ok := t.records[key{sessionID, canonicalPath}]
	t.mu.Unlock()

	info, statErr := os.Stat(canonicalPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil
		}
		return cortexerr.Wrap(cortexerr.KindToolError, "stat file for write assertion", statErr)
	}

	if !ok || !rec.didRecord {
		return cortexerr.New(cortexerr.KindNotRead, "file must be read before it can be written: "+canonicalPath)
	}
	if !info.ModTime().Equal(rec.mtime) {
		return cortexerr.New(cortexerr.KindModifiedExternally, "file changed on disk since it was read: "+canonicalPath)
	}
	return nil
}

// WasRead reports whether a read has been recorded for (sessionID,
// canonicalPath) in this tracker.
func (t *Tracker) WasRead(sessionID, canonicalPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key{sessionID, canonicalPath}]
	return ok && rec.didRecord
}

// ClearSession drops every record belonging to sessionID. Locks are
// left in place: they are keyed by path, not session, and outlive any
// one session's records.
func (t *Tracker) ClearSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.records {
		if k.sessionID == sessionID {
			delete(t.records, k)
		}
	}
}

func (t *Tracker) lockFor(canonicalPath string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[canonicalPath]
	if !ok {
		m = &sync.Mutex{}
		t.locks[canonicalPath] = m
	}
	return m
}

// WithLock acquires the exclusive lock for canonicalPath, runs fn, and
// releases it, serializing concurrent writers within a turn. It
// respects ctx cancellation while waiting for the lock.
func (t *Tracker) WithLock(ctx context.Context, canonicalPath string, fn func() error) error {
	m := t.lockFor(canonicalPath)

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// Release the lock if the helper goroutine acquires it later.
		go func() {
			<-acquired
			m.Unlock()
		}()
		return cortexerr.Wrap(cortexerr.KindCancelled, "acquire file lock", ctx.Err())
	}
	defer m.Unlock()

	return fn()
}
