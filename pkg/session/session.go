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

// Package session implements the durable session and message-history
// store (spec.md §4.7): one JSON metadata file plus an append-only
// JSONL history file per session, rooted at the app data directory.
package session

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/persistence"
)

// Message is one persisted turn event, serialized as a single JSONL
// line under history/{session_id}.jsonl.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	TurnID    string    `json:"turn_id,omitempty"`
}

// ShareInfo is the sharable-link state attached to a session.
type ShareInfo struct {
	Token     string     `json:"token"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Meta is a session's metadata file content.
type Meta struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Cwd       string     `json:"cwd"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Favorite  bool       `json:"favorite"`
	Tags      []string   `json:"tags,omitempty"`
	Share     *ShareInfo `json:"share,omitempty"`
}

// Store is the session-persistence contract both FileStore and
// SQLStore satisfy, so callers (the turn engine, the CLI) can be
// pointed at either backend interchangeably.
type Store interface {
	Save(meta Meta) error
	Load(id string) (Meta, error)
	AppendMessage(id string, msg Message) error
	ReadHistory(id string) ([]Message, error)
	List() ([]Meta, error)
	Delete(id string) error
	Share(id string, ttl time.Duration) (ShareInfo, error)
	Unshare(id string) error
	Find(q Query) ([]Meta, error)
}

// FileStore is the on-disk session store rooted at dataDir, matching
// the layout `sessions/{id}.json` + `history/{id}.jsonl`.
type FileStore struct {
	sessionsDir string
	historyDir  string
	shareURLFmt string
}

// NewFileStore constructs a FileStore. shareURLFmt is formatted with
// the share token (e.g. "https://cortex.example/s/%s"); it may be
// empty, in which case ShareInfo.URL is just the bare token.
func NewFileStore(sessionsDir, historyDir, shareURLFmt string) (*FileStore, error) {
	for _, d := range []string{sessionsDir, historyDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return &FileStore{sessionsDir: sessionsDir, historyDir: historyDir, shareURLFmt: shareURLFmt}, nil
}

func (s *FileStore) metaPath(id string) string    { return filepath.Join(s.sessionsDir, id+".json") }
func (s *FileStore) historyPath(id string) string  { return filepath.Join(s.historyDir, id+".jsonl") }

// Save writes meta as pretty JSON under an exclusive lock.
func (s *FileStore) Save(meta Meta) error {
	meta.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return cortexerr.Wrap(cortexerr.KindInternal, "marshal session meta", err)
	}
	path := s.metaPath(meta.ID)
	return persistence.WithExclusiveLock(path, func() error {
		return persistence.AtomicWrite(path, data, 0o600)
	})
}

// Load reads and parses a session's metadata under a shared lock.
func (s *FileStore) Load(id string) (Meta, error) {
	var meta Meta
	path := s.metaPath(id)
	err := persistence.WithSharedLock(path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, cortexerr.Wrap(cortexerr.KindInvalidParams, "session not found: "+id, err)
		}
		return Meta{}, cortexerr.Wrap(cortexerr.KindInternal, "load session "+id, err)
	}
	return meta, nil
}

// AppendMessage appends one JSONL line to the session's history file
// under an exclusive lock, fsyncing before returning: durability is
// mandatory (spec.md §4.7).
func (s *FileStore) AppendMessage(id string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return cortexerr.Wrap(cortexerr.KindInternal, "marshal message", err)
	}
	path := s.historyPath(id)
	return persistence.WithExclusiveLock(path, func() error {
		return persistence.AppendLine(path, line)
	})
}

// ReadHistory parses every line of the session's history file.
// Malformed lines are logged and skipped, never fatal.
func (s *FileStore) ReadHistory(id string) ([]Message, error) {
	path := s.historyPath(id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cortexerr.Wrap(cortexerr.KindInternal, "open history "+id, err)
	}
	defer f.Close()

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("session history: skipping malformed line", "session", id, "line", lineNo, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}

// List enumerates every session, sorted descending by UpdatedAt.
func (s *FileStore) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindInternal, "read sessions dir", err)
	}

	var metas []Meta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		meta, err := s.Load(id)
		if err != nil {
			slog.Warn("session list: skipping unreadable session", "id", id, "error", err)
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].UpdatedAt.After(metas[j].UpdatedAt) })
	return metas, nil
}

// Delete removes both the metadata and history files, best-effort.
func (s *FileStore) Delete(id string) error {
	err1 := os.Remove(s.metaPath(id))
	err2 := os.Remove(s.historyPath(id))
	if err1 != nil && !os.IsNotExist(err1) {
		return cortexerr.Wrap(cortexerr.KindInternal, "delete session meta", err1)
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return cortexerr.Wrap(cortexerr.KindInternal, "delete session history", err2)
	}
	return nil
}

// Share generates an opaque 128-bit token, attaches a ShareInfo to the
// session, and persists it.
func (s *FileStore) Share(id string, ttl time.Duration) (ShareInfo, error) {
	meta, err := s.Load(id)
	if err != nil {
		return ShareInfo{}, err
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ShareInfo{}, cortexerr.Wrap(cortexerr.KindInternal, "generate share token", err)
	}
	token := hex.EncodeToString(buf)

	share := ShareInfo{Token: token, CreatedAt: time.Now()}
	if s.shareURLFmt != "" {
		share.URL = fmt.Sprintf(s.shareURLFmt, token)
	} else {
		share.URL = token
	}
	if ttl > 0 {
		exp := share.CreatedAt.Add(ttl)
		share.ExpiresAt = &exp
	}

	meta.Share = &share
	if err := s.Save(meta); err != nil {
		return ShareInfo{}, err
	}
	return share, nil
}

// Unshare clears a session's ShareInfo.
func (s *FileStore) Unshare(id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	meta.Share = nil
	return s.Save(meta)
}

// Query filters session metadata by favorite/tags/search text/date
// window. A zero-value field in q is not applied as a filter.
type Query struct {
	FavoriteOnly bool
	Tags         []string
	SearchText   string
	Since        time.Time
	Until        time.Time
}

// Find lists sessions and applies q, preserving descending UpdatedAt
// order.
func (s *FileStore) Find(q Query) ([]Meta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var out []Meta
	for _, m := range all {
		if q.FavoriteOnly && !m.Favorite {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(m.Tags, q.Tags) {
			continue
		}
		if q.SearchText != "" && !strings.Contains(strings.ToLower(m.Title), strings.ToLower(q.SearchText)) {
			continue
		}
		if !q.Since.IsZero() && m.UpdatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && m.UpdatedAt.After(q.Until) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}
