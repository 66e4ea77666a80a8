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

// Package subagent spawns bounded-depth, bounded-concurrency child
// turns and tracks their lifecycle (spec.md §4.11): each spawned
// thread runs its own pkg/turn.Engine against a scoped sub-conversation
// and reports back through a broadcast event bus.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
	"github.com/cortexlabs/cortex-agent/pkg/discovery"
)

// EventKind identifies a thread lifecycle event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventToolCall  EventKind = "tool_call"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	EventTimedOut  EventKind = "timed_out"
)

// Event is one lifecycle update for a spawned thread.
type Event struct {
	ThreadID string
	Kind     EventKind
	Text     string
	Result   *Result
	Err      error
}

// Result is what a completed thread reports back to its spawner.
type Result struct {
	Summary      string
	Output       string
	Success      bool
	TokensUsed   *int
	Duration     time.Duration
	FilesModified []string
	Errors        []string
}

// Runner executes one spawned thread's prompt to completion. The
// concrete implementation wraps a pkg/turn.Engine bound to the child's
// own sub-conversation.
type Runner func(ctx context.Context, threadID, prompt string, onEvent func(Event)) (*Result, error)

// thread tracks one active or completed spawn.
type thread struct {
	id        string
	depth     int
	status    EventKind
	startedAt time.Time
	cancel    context.CancelFunc
	result    *Result
	err       error
}

// Controller enforces spec.md's spawn preconditions — depth below
// MaxDepth and active count below MaxConcurrent — and fans out
// lifecycle events to subscribers.
type Controller struct {
	mu            sync.Mutex
	MaxDepth      int
	MaxConcurrent int
	threads       map[string]*thread
	subscribers   []chan Event
	run           Runner
	registry      discovery.Registry
}

// NewController constructs a Controller. maxDepth and maxConcurrent
// are the spec's MAX_THREAD_SPAWN_DEPTH and MAX_CONCURRENT_AGENTS. The
// controller always enforces maxConcurrent against its own in-process
// count; WithRegistry additionally enforces it cluster-wide.
func NewController(maxDepth, maxConcurrent int, run Runner) *Controller {
	return &Controller{
		MaxDepth:      maxDepth,
		MaxConcurrent: maxConcurrent,
		threads:       make(map[string]*thread),
		run:           run,
		registry:      discovery.NoopRegistry{},
	}
}

// WithRegistry swaps in a cluster-wide discovery.Registry so
// MaxConcurrent is enforced across every cortex process sharing it,
// not just this one.
func (c *Controller) WithRegistry(r discovery.Registry) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry = r
	return c
}

// Spawn starts a new thread at parentDepth+1, rejecting the spawn if
// either precondition is violated.
func (c *Controller) Spawn(ctx context.Context, parentDepth int, prompt string) (string, error) {
	c.mu.Lock()
	if parentDepth >= c.MaxDepth {
		c.mu.Unlock()
		return "", cortexerr.New(cortexerr.KindDepthLimitExceeded, "sub-agent spawn depth limit reached")
	}
	if c.activeCountLocked() >= c.MaxConcurrent {
		c.mu.Unlock()
		return "", cortexerr.New(cortexerr.KindConcurrencyExceeded, "concurrent sub-agent limit reached")
	}
	registry := c.registry
	c.mu.Unlock()

	threadID := uuid.NewString()

	if clusterCount, err := registry.ActiveCount(ctx); err == nil && clusterCount >= c.MaxConcurrent {
		return "", cortexerr.New(cortexerr.KindConcurrencyExceeded, "cluster-wide concurrent sub-agent limit reached")
	}
	release, err := registry.Register(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("discovery: register thread: %w", err)
	}

	c.mu.Lock()
	childCtx, cancel := context.WithCancel(ctx)
	t := &thread{id: threadID, depth: parentDepth + 1, status: EventStarted, startedAt: time.Now(), cancel: cancel}
	c.threads[threadID] = t
	c.mu.Unlock()

	c.broadcast(Event{ThreadID: threadID, Kind: EventStarted})

	go c.runThread(childCtx, t, prompt, release)
	return threadID, nil
}

func (c *Controller) runThread(ctx context.Context, t *thread, prompt string, release func(context.Context) error) {
	result, err := c.run(ctx, t.id, prompt, func(e Event) {
		e.ThreadID = t.id
		if e.Kind == "" {
			e.Kind = EventProgress
		}
		c.broadcast(e)
	})

	c.mu.Lock()
	t.result = result
	t.err = err
	switch {
	case ctx.Err() == context.Canceled:
		t.status = EventCancelled
	case ctx.Err() == context.DeadlineExceeded:
		t.status = EventTimedOut
	case err != nil:
		t.status = EventFailed
	default:
		t.status = EventCompleted
	}
	status := t.status
	c.mu.Unlock()

	if relErr := release(context.Background()); relErr != nil {
		c.broadcast(Event{ThreadID: t.id, Kind: EventFailed, Text: "discovery release failed", Err: relErr})
	}
	c.broadcast(Event{ThreadID: t.id, Kind: status, Result: result, Err: err})
}

// Cancel requests cooperative cancellation of a running thread.
func (c *Controller) Cancel(threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[threadID]
	if !ok {
		return cortexerr.New(cortexerr.KindInvalidParams, "unknown thread: "+threadID)
	}
	t.cancel()
	return nil
}

// ActiveCount returns the number of threads not yet in a terminal
// state.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCountLocked()
}

func (c *Controller) activeCountLocked() int {
	n := 0
	for _, t := range c.threads {
		if isTerminal(t.status) {
			continue
		}
		n++
	}
	return n
}

func isTerminal(k EventKind) bool {
	switch k {
	case EventCompleted, EventFailed, EventCancelled, EventTimedOut:
		return true
	}
	return false
}

// GetThread returns a snapshot of a thread's current status and
// result, if known.
func (c *Controller) GetThread(threadID string) (status EventKind, result *Result, err error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, found := c.threads[threadID]
	if !found {
		return "", nil, nil, false
	}
	return t.status, t.result, t.err, true
}

// Subscribe returns a channel that receives every lifecycle event
// broadcast after this call, buffered so a slow reader never blocks
// the controller.
func (c *Controller) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

func (c *Controller) broadcast(e Event) {
	c.mu.Lock()
	subs := append([]chan Event(nil), c.subscribers...)
	c.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub <- e:
		default:
		}
	}
}
