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

// Package context tracks the token budget of one conversation — system
// prompt, message history, and attached file context — and compacts it
// when the budget is close to exhausted (spec.md §4.8). It reuses the
// teacher's tiktoken-go-backed token counting, extended with per-section
// accounting instead of a single flat message list.
package context

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cortexlabs/cortex-agent/pkg/cortexerr"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation section of the context.
type Message struct {
	Role     Role
	Content  string
	Critical bool // never dropped by compaction (e.g. the most recent user turn)
}

// FileContext is one file attached to the conversation, tracked
// separately from Conversation so it can be dropped or summarized
// independently during compaction.
type FileContext struct {
	Path    string
	Content string
}

// Config bounds a Manager's budget and compaction behavior
// (spec.md §4.8).
type Config struct {
	MaxTokens             int
	OutputReserve         int
	CompactionThreshold   float64 // fraction of MaxTokens-OutputReserve that triggers auto-compaction
	AutoCompact           bool
	MaxFileContext        int // max number of FileContext entries retained
	CacheEnabled          bool
	SystemPromptPriority  bool // system prompt is never compacted away
}

// DefaultConfig matches spec.md's suggested defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            180_000,
		OutputReserve:        8_000,
		CompactionThreshold:  0.8,
		AutoCompact:          true,
		MaxFileContext:       64,
		CacheEnabled:         true,
		SystemPromptPriority: true,
	}
}

// TokenStats reports the current budget breakdown (spec.md §4.8).
type TokenStats struct {
	SystemTokens       int
	ConversationTokens int
	FileTokens         int
	TotalTokens        int
	MaxTokens          int
	AvailableTokens    int
	UsagePercent       float64
}

// Compactor reduces the conversation section to fit the budget,
// returning the replacement message slice. The default is
// SummarizeOldest; callers may supply their own strategy.
type Compactor func(messages []Message, targetTokens int, counter *tokenCounter) []Message

// Manager owns one conversation's token-budgeted context: system
// prompt, message history, and file attachments.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	counter *tokenCounter

	systemPrompt string
	messages     []Message
	files        []FileContext

	compactor Compactor
}

// NewManager constructs a Manager for model, using model's tiktoken
// encoding (falling back to cl100k_base as the teacher's counter does).
func NewManager(model string, cfg Config) (*Manager, error) {
	counter, err := newTokenCounter(model)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.KindInternal, "build token counter", err)
	}
	return &Manager{cfg: cfg, counter: counter, compactor: SummarizeOldest}, nil
}

// SetSystemPrompt replaces the system prompt section.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// SetCompactor overrides the compaction strategy.
func (m *Manager) SetCompactor(c Compactor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactor = c
}

// AddMessage appends a message to the conversation, auto-compacting
// first if cfg.AutoCompact is set and the budget is already past the
// compaction threshold. If the conversation then exceeds the token
// budget, it is compacted regardless of cfg.AutoCompact, and
// KindContextExhausted is returned only if it still does not fit.
func (m *Manager) AddMessage(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.AutoCompact && m.overThresholdLocked() {
		m.compactLocked()
	}
	m.messages = append(m.messages, msg)

	if m.totalTokensLocked() > m.cfg.MaxTokens-m.cfg.OutputReserve {
		m.compactLocked()
	}
	if m.totalTokensLocked() > m.cfg.MaxTokens-m.cfg.OutputReserve {
		return cortexerr.New(cortexerr.KindContextExhausted, "conversation exceeds token budget after compaction")
	}
	return nil
}

// AddFile attaches file content as context, evicting the oldest file
// entry if MaxFileContext is exceeded.
func (m *Manager) AddFile(fc FileContext) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, f := range m.files {
		if f.Path == fc.Path {
			m.files[i] = fc
			return
		}
	}
	m.files = append(m.files, fc)
	if m.cfg.MaxFileContext > 0 && len(m.files) > m.cfg.MaxFileContext {
		m.files = m.files[len(m.files)-m.cfg.MaxFileContext:]
	}
}

// GetMessages returns the system prompt, conversation, and file
// context assembled into the wire order a model call expects: system
// prompt first, then file context, then conversation.
func (m *Manager) GetMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.messages)+len(m.files)+1)
	if m.systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: m.systemPrompt, Critical: true})
	}
	for _, f := range m.files {
		out = append(out, Message{Role: RoleUser, Content: fmt.Sprintf("File: %s\n%s", f.Path, f.Content)})
	}
	out = append(out, m.messages...)
	return out
}

// Compact forces compaction regardless of threshold, returning the net
// drop in message count (a summary placeholder that replaces removed
// messages counts against it).
func (m *Manager) Compact() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.messages)
	m.compactLocked()
	return before - len(m.messages)
}

// Stats reports the current token budget breakdown.
func (m *Manager) Stats() TokenStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	sys := m.counter.Count(m.systemPrompt)
	conv := m.counter.CountMessages(toCounterMessages(m.messages))
	files := 0
	for _, f := range m.files {
		files += m.counter.Count(f.Content)
	}
	total := sys + conv + files
	available := m.cfg.MaxTokens - m.cfg.OutputReserve - total
	if available < 0 {
		available = 0
	}
	usage := 0.0
	if budget := m.cfg.MaxTokens - m.cfg.OutputReserve; budget > 0 {
		usage = float64(total) / float64(budget)
	}
	return TokenStats{
		SystemTokens:       sys,
		ConversationTokens: conv,
		FileTokens:         files,
		TotalTokens:        total,
		MaxTokens:          m.cfg.MaxTokens,
		AvailableTokens:    available,
		UsagePercent:       usage,
	}
}

func (m *Manager) totalTokensLocked() int {
	sys := m.counter.Count(m.systemPrompt)
	conv := m.counter.CountMessages(toCounterMessages(m.messages))
	files := 0
	for _, f := range m.files {
		files += m.counter.Count(f.Content)
	}
	return sys + conv + files
}

func (m *Manager) overThresholdLocked() bool {
	budget := m.cfg.MaxTokens - m.cfg.OutputReserve
	if budget <= 0 {
		return true
	}
	return float64(m.totalTokensLocked())/float64(budget) >= m.cfg.CompactionThreshold
}

func (m *Manager) compactLocked() {
	budget := m.cfg.MaxTokens - m.cfg.OutputReserve
	sys := m.counter.Count(m.systemPrompt)
	files := 0
	for _, f := range m.files {
		files += m.counter.Count(f.Content)
	}
	target := budget - sys - files
	if target < 0 {
		target = 0
	}
	m.messages = m.compactor(m.messages, target, m.counter)
}

// SummarizeOldest drops the oldest non-critical messages first,
// replacing the dropped span with one summary placeholder, until the
// remainder fits targetTokens. Critical messages (e.g. the latest user
// turn) are always preserved.
func SummarizeOldest(messages []Message, targetTokens int, counter *tokenCounter) []Message {
	if counter.CountMessages(toCounterMessages(messages)) <= targetTokens {
		return messages
	}

	critical := make([]Message, 0, len(messages))
	droppable := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Critical {
			critical = append(critical, msg)
		} else {
			droppable = append(droppable, msg)
		}
	}

	kept := droppable
	dropped := 0
	for len(kept) > 0 {
		candidate := append(criticalCopy(critical), kept...)
		if counter.CountMessages(toCounterMessages(candidate)) <= targetTokens {
			break
		}
		kept = kept[1:]
		dropped++
	}

	result := make([]Message, 0, len(kept)+len(critical)+1)
	if dropped > 0 {
		result = append(result, Message{
			Role:    RoleSystem,
			Content: fmt.Sprintf("[%d earlier messages omitted to stay within the context budget]", dropped),
		})
	}
	result = append(result, kept...)
	result = append(result, critical...)
	return result
}

func criticalCopy(critical []Message) []Message {
	out := make([]Message, len(critical))
	copy(out, critical)
	return out
}

// tokenCounter wraps tiktoken-go the way the teacher's pkg/utils did:
// per-model encoding, cached, with a cl100k_base fallback.
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCacheMu sync.RWMutex
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
)

func newTokenCounter(model string) (*tokenCounter, error) {
	encodingCacheMu.RLock()
	cached, ok := encodingCache[model]
	encodingCacheMu.RUnlock()
	if ok {
		return &tokenCounter{encoding: cached, model: model}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get encoding: %w", err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = enc
	encodingCacheMu.Unlock()
	return &tokenCounter{encoding: enc, model: model}, nil
}

func (tc *tokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages follows the OpenAI chat-format overhead convention the
// teacher's counter used: 3 tokens per message plus a 3-token reply
// priming.
func (tc *tokenCounter) CountMessages(messages []counterMessage) int {
	total := 3
	for _, msg := range messages {
		total += 3
		total += tc.Count(msg.Role)
		total += tc.Count(msg.Content)
	}
	return total
}

type counterMessage struct {
	Role    string
	Content string
}

func toCounterMessages(messages []Message) []counterMessage {
	out := make([]counterMessage, len(messages))
	for i, m := range messages {
		out[i] = counterMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
