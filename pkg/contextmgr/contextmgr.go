// Package contextmgr provides the bounded conversation log threaded through agent runs.
package contextmgr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
	"github.com/Lynx-Eco/lib-ai/pkg/utils"
)

// MemoryPrefix marks system notes injected from the memory store.
const MemoryPrefix = "[Memory] "

// Message represents a single entry in the conversation log.
type Message struct {
	Timestamp   time.Time
	Role        llm.CompletionRole
	Content     string
	ToolCalls   []llm.ToolCall
	ToolResults []llm.ToolResult
	tokens      int
}

// Context is an ordered message log with an optional fixed system message and
// optional message-count and token limits. When a limit is exceeded the oldest
// non-system messages are evicted; the system message never is.
//
// A Context is owned by one agent run at a time. The mutex only makes snapshots
// taken from other goroutines safe.
type Context struct {
	mu            sync.Mutex
	systemMessage string
	messages      []Message
	maxMessages   int // 0 = unlimited
	maxTokens     int // 0 = unlimited
	countTokens   func(string) int
	now           func() time.Time
}

// Option configures a Context.
type Option func(*Context)

// WithSystemMessage sets the fixed system message.
func WithSystemMessage(content string) Option {
	return func(c *Context) { c.systemMessage = strings.TrimSpace(content) }
}

// WithMaxMessages caps the number of non-system messages kept.
func WithMaxMessages(n int) Option {
	return func(c *Context) { c.maxMessages = n }
}

// WithMaxTokens caps the approximate token count of the whole log, system message included.
func WithMaxTokens(n int) Option {
	return func(c *Context) { c.maxTokens = n }
}

// WithTokenCounter replaces the tiktoken-based counter.
func WithTokenCounter(count func(string) int) Option {
	return func(c *Context) { c.countTokens = count }
}

// New creates an empty context.
func New(opts ...Option) *Context {
	c := &Context{
		messages:    make([]Message, 0),
		countTokens: utils.CountTokensSimple,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSystemMessage replaces the fixed system message.
func (c *Context) SetSystemMessage(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemMessage = strings.TrimSpace(content)
	c.enforceLimitsLocked()
}

// SystemMessage returns the fixed system message, or "" if none.
func (c *Context) SystemMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemMessage
}

// AddMessage appends a plain role/content message.
func (c *Context) AddMessage(role llm.CompletionRole, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(Message{Role: role, Content: content})
	c.enforceLimitsLocked()
}

// AddUserMessage appends a user message.
func (c *Context) AddUserMessage(content string) {
	c.AddMessage(llm.RoleUser, content)
}

// AddAssistantMessage appends an assistant message without tool calls.
func (c *Context) AddAssistantMessage(content string) {
	c.AddMessage(llm.RoleAssistant, content)
}

// AddMemory injects a retrieved memory as a system-tagged note. Unlike the
// fixed system message, memory notes are subject to eviction.
func (c *Context) AddMemory(memory string) {
	c.AddMessage(llm.RoleSystem, MemoryPrefix+memory)
}

// AppendRound appends an assistant message that requested tools together with
// the results answering it. Both land under one lock, so a concurrent Snapshot
// never sees a request without its results.
func (c *Context) AppendRound(content string, calls []llm.ToolCall, results []llm.ToolResult) error {
	if err := checkCorrelation(calls, results); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		ToolCalls: append([]llm.ToolCall(nil), calls...),
	})
	c.appendLocked(Message{
		Role:        llm.RoleTool,
		ToolResults: append([]llm.ToolResult(nil), results...),
	})
	c.enforceLimitsLocked()
	return nil
}

// checkCorrelation verifies that every call has exactly one result and vice versa.
func checkCorrelation(calls []llm.ToolCall, results []llm.ToolResult) error {
	if len(calls) == 0 {
		return fmt.Errorf("round has no tool calls")
	}
	pending := make(map[string]bool, len(calls))
	for i := range calls {
		if pending[calls[i].ID] {
			return fmt.Errorf("duplicate tool call id %q", calls[i].ID)
		}
		pending[calls[i].ID] = true
	}
	for i := range results {
		if !pending[results[i].ToolCallID] {
			return fmt.Errorf("tool result %q does not answer a pending call", results[i].ToolCallID)
		}
		delete(pending, results[i].ToolCallID)
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d tool calls have no result", len(pending))
	}
	return nil
}

func (c *Context) appendLocked(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}
	m.tokens = c.messageTokens(&m)
	c.messages = append(c.messages, m)
}

func (c *Context) messageTokens(m *Message) int {
	n := c.countTokens(m.Content)
	for i := range m.ToolCalls {
		n += c.countTokens(m.ToolCalls[i].Name)
		if params, err := json.Marshal(m.ToolCalls[i].Parameters); err == nil {
			n += c.countTokens(string(params))
		}
	}
	for i := range m.ToolResults {
		n += c.countTokens(m.ToolResults[i].Content)
	}
	return n
}

// enforceLimitsLocked evicts from the front until both limits hold. An assistant
// message is evicted together with the tool results that answer it so the log
// never carries orphaned results. The newest message, or the newest tool round
// as a whole, is always kept even when it alone exceeds a limit.
func (c *Context) enforceLimitsLocked() {
	for len(c.messages) > 1 && c.overLimitLocked() {
		drop := 1
		if len(c.messages[0].ToolCalls) > 0 && len(c.messages[1].ToolResults) > 0 {
			drop = 2
		}
		if drop >= len(c.messages) {
			return
		}
		c.messages = c.messages[drop:]
	}
}

func (c *Context) overLimitLocked() bool {
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		return true
	}
	return c.maxTokens > 0 && c.tokenCountLocked() > c.maxTokens
}

func (c *Context) tokenCountLocked() int {
	total := 0
	if c.systemMessage != "" {
		total += c.countTokens(c.systemMessage)
	}
	for i := range c.messages {
		total += c.messages[i].tokens
	}
	return total
}

// TokenCount returns the approximate token count, system message included.
func (c *Context) TokenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCountLocked()
}

// Messages returns a copy of the log, excluding the fixed system message.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]Message, len(c.messages))
	copy(result, c.messages)
	return result
}

// CompletionMessages renders the log for a completion request, system message first.
func (c *Context) CompletionMessages() []llm.CompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]llm.CompletionMessage, 0, len(c.messages)+1)
	if c.systemMessage != "" {
		out = append(out, llm.NewSystemMessage(c.systemMessage))
	}
	for i := range c.messages {
		m := &c.messages[i]
		out = append(out, llm.CompletionMessage{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

// LastAssistantContent returns the most recent non-empty assistant text.
func (c *Context) LastAssistantContent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == llm.RoleAssistant && c.messages[i].Content != "" {
			return c.messages[i].Content
		}
	}
	return ""
}

// Len returns the number of messages, excluding the fixed system message.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Clear removes every message except the fixed system message and memory notes.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.messages[:0]
	for i := range c.messages {
		if c.messages[i].Role == llm.RoleSystem {
			kept = append(kept, c.messages[i])
		}
	}
	c.messages = kept
}

// ClearAll removes every message and the system message.
func (c *Context) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:0]
	c.systemMessage = ""
}

// Summary returns a brief description of the context state.
func (c *Context) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) == 0 && c.systemMessage == "" {
		return "Empty context"
	}

	roleCounts := make(map[string]int)
	toolCalls := 0
	for i := range c.messages {
		roleCounts[string(c.messages[i].Role)]++
		toolCalls += len(c.messages[i].ToolCalls)
	}
	roleBreakdown := make([]string, 0, len(roleCounts))
	for role, count := range roleCounts {
		roleBreakdown = append(roleBreakdown, fmt.Sprintf("%s: %d", role, count))
	}
	sort.Strings(roleBreakdown)

	return fmt.Sprintf("%d messages (%d tokens, %d tool calls) - %s",
		len(c.messages), c.tokenCountLocked(), toolCalls, strings.Join(roleBreakdown, ", "))
}
