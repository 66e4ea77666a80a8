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

// Package ratelimit throttles model calls and tool executions per
// session, in-process via a token bucket and, optionally, across a
// fleet of cortex processes via a shared SQL counter table.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a unit of work for key may proceed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LocalLimiter is a per-key token bucket, used when no distributed
// backend is configured — the default for a single-process session.
type LocalLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter builds a LocalLimiter allowing ratePerSecond
// sustained requests per key with the given burst.
func NewLocalLimiter(ratePerSecond float64, burst int) *LocalLimiter {
	return &LocalLimiter{rate: rate.Limit(ratePerSecond), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *LocalLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.limiterFor(key).Allow(), nil
}

func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	return l.limiterFor(key).Wait(ctx)
}

// SQLLimiter enforces a sliding-window request count shared across
// every cortex process pointed at the same database, for deployments
// that run a fleet of agents against one quota. The schema is a
// single counter table keyed by (limiter_key, window_start).
type SQLLimiter struct {
	db     *sql.DB
	limit  int
	window time.Duration
}

// NewSQLLimiter wires a SQLLimiter against an already-open *sql.DB
// (any driver registered under database/sql — mysql, postgres,
// sqlite3 are all wired elsewhere in this module for pkg/session's
// SQLStore and share the same connection pool shape here).
func NewSQLLimiter(db *sql.DB, limit int, window time.Duration) *SQLLimiter {
	return &SQLLimiter{db: db, limit: limit, window: window}
}

// EnsureSchema creates the counter table if it does not already
// exist.
func (l *SQLLimiter) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ratelimit_counters (
			limiter_key  VARCHAR(255) NOT NULL,
			window_start BIGINT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (limiter_key, window_start)
		)`)
	if err != nil {
		return fmt.Errorf("ratelimit: create schema: %w", err)
	}
	return nil
}

func (l *SQLLimiter) windowStart(now time.Time) int64 {
	return now.Unix() / int64(l.window.Seconds())
}

// Allow atomically increments key's counter for the current window
// and reports whether the new count is within limit.
func (l *SQLLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ws := l.windowStart(time.Now())

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("ratelimit: begin tx: %w", err)
	}
	defer tx.Rollback()

	// ON CONFLICT upsert targets sqlite3/postgres; a mysql-backed
	// deployment needs ON DUPLICATE KEY UPDATE instead.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ratelimit_counters (limiter_key, window_start, count)
		VALUES (?, ?, 1)
		ON CONFLICT (limiter_key, window_start) DO UPDATE SET count = count + 1`,
		key, ws)
	if err != nil {
		return false, fmt.Errorf("ratelimit: upsert counter: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count FROM ratelimit_counters WHERE limiter_key = ? AND window_start = ?`, key, ws).Scan(&count); err != nil {
		return false, fmt.Errorf("ratelimit: read counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ratelimit: commit tx: %w", err)
	}
	return count <= l.limit, nil
}

// Wait polls Allow with a short backoff until the window admits the
// request or ctx is cancelled.
func (l *SQLLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, err := l.Allow(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Prune deletes counter rows for windows strictly older than
// retain, bounding table growth for long-lived deployments.
func (l *SQLLimiter) Prune(ctx context.Context, retain time.Duration) error {
	cutoff := l.windowStart(time.Now().Add(-retain))
	_, err := l.db.ExecContext(ctx, `DELETE FROM ratelimit_counters WHERE window_start < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("ratelimit: prune: %w", err)
	}
	return nil
}
