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

package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"

	// Database drivers for the three dialects SQLStore supports.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore is a database/sql-backed alternative to FileStore, for
// deployments that want session state in a shared database instead of
// the per-process data directory (spec.md §4.7 describes the on-disk
// layout; a SQL backend is additive, behind the same Save/Load/List/
// Delete/Share/Unshare/AppendMessage/ReadHistory surface).
type SQLStore struct {
	db          *sql.DB
	dialect     string // "postgres", "mysql", or "sqlite"
	shareURLFmt string
}

const (
	createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS cortex_sessions (
    id VARCHAR(255) PRIMARY KEY,
    title VARCHAR(1024),
    cwd VARCHAR(4096),
    favorite BOOLEAN NOT NULL DEFAULT FALSE,
    tags TEXT,
    share TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
	createMessagesTableSQLSQLite = `
CREATE TABLE IF NOT EXISTS cortex_session_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    turn_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
);
`
	createMessagesTableSQLPostgres = `
CREATE TABLE IF NOT EXISTS cortex_session_messages (
    id SERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    turn_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
);
`
	createMessagesTableSQLMySQL = `
CREATE TABLE IF NOT EXISTS cortex_session_messages (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    turn_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
);
`
)

// NewSQLStore opens a database/sql connection for dialect
// ("postgres", "mysql", or "sqlite") against dsn and ensures the
// session/message tables exist. shareURLFmt is formatted with the
// share token (e.g. "https://cortex.example/s/%s"); it may be empty,
// in which case ShareInfo.URL is just the bare token.
func NewSQLStore(dialect, dsn, shareURLFmt string) (*SQLStore, error) {
	driverName := dialect
	if dialect == "sqlite" {
		driverName = "sqlite3"
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("session: unsupported SQL dialect %q (want postgres, mysql, or sqlite)", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", dialect, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping %s: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect, shareURLFmt: shareURLFmt}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return fmt.Errorf("session: create sessions table: %w", err)
	}
	messagesSQL := createMessagesTableSQLSQLite
	switch s.dialect {
	case "postgres":
		messagesSQL = createMessagesTableSQLPostgres
	case "mysql":
		messagesSQL = createMessagesTableSQLMySQL
	}
	if _, err := s.db.ExecContext(ctx, messagesSQL); err != nil {
		return fmt.Errorf("session: create messages table: %w", err)
	}
	return nil
}

// placeholder returns the positional-parameter placeholder for arg
// index n (1-based) in the store's dialect.
func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// Save upserts a session's metadata.
func (s *SQLStore) Save(meta Meta) error {
	meta.UpdatedAt = time.Now()
	tagsJSON, err := json.Marshal(meta.Tags)
	if err != nil {
		return fmt.Errorf("session: marshal tags: %w", err)
	}
	var shareJSON []byte
	if meta.Share != nil {
		if shareJSON, err = json.Marshal(meta.Share); err != nil {
			return fmt.Errorf("session: marshal share: %w", err)
		}
	}

	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, s.upsertSessionSQL(),
		meta.ID, meta.Title, meta.Cwd, meta.Favorite, string(tagsJSON), string(shareJSON), meta.CreatedAt, meta.UpdatedAt,
	); err != nil {
		return fmt.Errorf("session: save %s: %w", meta.ID, err)
	}
	return nil
}

func (s *SQLStore) upsertSessionSQL() string {
	switch s.dialect {
	case "postgres":
		return `
INSERT INTO cortex_sessions (id, title, cwd, favorite, tags, share, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title, cwd = EXCLUDED.cwd, favorite = EXCLUDED.favorite,
    tags = EXCLUDED.tags, share = EXCLUDED.share, updated_at = EXCLUDED.updated_at
`
	case "mysql":
		return `
INSERT INTO cortex_sessions (id, title, cwd, favorite, tags, share, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    title = VALUES(title), cwd = VALUES(cwd), favorite = VALUES(favorite),
    tags = VALUES(tags), share = VALUES(share), updated_at = VALUES(updated_at)
`
	default: // sqlite
		return `
INSERT INTO cortex_sessions (id, title, cwd, favorite, tags, share, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title, cwd = excluded.cwd, favorite = excluded.favorite,
    tags = excluded.tags, share = excluded.share, updated_at = excluded.updated_at
`
	}
}

// Load reads one session's metadata by ID.
func (s *SQLStore) Load(id string) (Meta, error) {
	query := fmt.Sprintf(
		"SELECT id, title, cwd, favorite, tags, share, created_at, updated_at FROM cortex_sessions WHERE id = %s",
		s.placeholder(1),
	)
	var meta Meta
	var tagsJSON, shareJSON sql.NullString
	err := s.db.QueryRowContext(context.Background(), query, id).Scan(
		&meta.ID, &meta.Title, &meta.Cwd, &meta.Favorite, &tagsJSON, &shareJSON, &meta.CreatedAt, &meta.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Meta{}, cortexerr.Wrap(cortexerr.KindInvalidParams, "session not found: "+id, err)
	}
	if err != nil {
		return Meta{}, fmt.Errorf("session: load %s: %w", id, err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &meta.Tags)
	}
	if shareJSON.Valid && shareJSON.String != "" {
		meta.Share = &ShareInfo{}
		_ = json.Unmarshal([]byte(shareJSON.String), meta.Share)
	}
	return meta, nil
}

// AppendMessage inserts one message row, ordered by auto-increment ID.
func (s *SQLStore) AppendMessage(id string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	query := fmt.Sprintf(
		"INSERT INTO cortex_session_messages (session_id, role, content, turn_id, created_at) VALUES (%s, %s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
	)
	if _, err := s.db.ExecContext(context.Background(), query, id, msg.Role, msg.Content, msg.TurnID, msg.Timestamp); err != nil {
		return fmt.Errorf("session: append message to %s: %w", id, err)
	}
	return nil
}

// ReadHistory returns every message for a session, in append order.
func (s *SQLStore) ReadHistory(id string) ([]Message, error) {
	query := fmt.Sprintf(
		"SELECT role, content, turn_id, created_at FROM cortex_session_messages WHERE session_id = %s ORDER BY id ASC",
		s.placeholder(1),
	)
	rows, err := s.db.QueryContext(context.Background(), query, id)
	if err != nil {
		return nil, fmt.Errorf("session: read history %s: %w", id, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var turnID sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &turnID, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("session: scan message: %w", err)
		}
		msg.TurnID = turnID.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// List enumerates every session, sorted descending by UpdatedAt.
func (s *SQLStore) List() ([]Meta, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, title, cwd, favorite, tags, share, created_at, updated_at FROM cortex_sessions")
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var meta Meta
		var tagsJSON, shareJSON sql.NullString
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Cwd, &meta.Favorite, &tagsJSON, &shareJSON, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("session: scan session: %w", err)
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &meta.Tags)
		}
		if shareJSON.Valid && shareJSON.String != "" {
			meta.Share = &ShareInfo{}
			_ = json.Unmarshal([]byte(shareJSON.String), meta.Share)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].UpdatedAt.After(metas[j].UpdatedAt) })
	return metas, nil
}

// Delete removes a session and its messages.
func (s *SQLStore) Delete(id string) error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM cortex_session_messages WHERE session_id = %s", s.placeholder(1)), id,
	); err != nil {
		return fmt.Errorf("session: delete messages for %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM cortex_sessions WHERE id = %s", s.placeholder(1)), id,
	); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// Share generates an opaque 128-bit token, attaches a ShareInfo to the
// session, and persists it.
func (s *SQLStore) Share(id string, ttl time.Duration) (ShareInfo, error) {
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
func (s *SQLStore) Unshare(id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	meta.Share = nil
	return s.Save(meta)
}

// Find lists sessions and applies q, preserving descending UpdatedAt
// order.
func (s *SQLStore) Find(q Query) ([]Meta, error) {
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
