package contextmgr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
)

// snapshotVersion is bumped when the snapshot layout changes incompatibly.
const snapshotVersion = 1

type snapshot struct {
	System      string            `json:"system,omitempty"`
	Messages    []snapshotMessage `json:"messages"`
	Version     int               `json:"version"`
	MaxMessages int               `json:"max_messages,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

type snapshotMessage struct {
	Role        llm.CompletionRole `json:"role"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []llm.ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []llm.ToolResult   `json:"tool_results,omitempty"`
	UnixMilli   int64              `json:"ts"`
}

// Snapshot encodes the system message, limits and messages as JSON.
// Timestamps keep millisecond precision.
func (c *Context) Snapshot() ([]byte, error) {
	c.mu.Lock()
	snap := snapshot{
		Version:     snapshotVersion,
		System:      c.systemMessage,
		MaxMessages: c.maxMessages,
		MaxTokens:   c.maxTokens,
		Messages:    make([]snapshotMessage, len(c.messages)),
	}
	for i := range c.messages {
		m := &c.messages[i]
		snap.Messages[i] = snapshotMessage{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			UnixMilli:   m.Timestamp.UnixMilli(),
		}
	}
	data, err := json.Marshal(snap)
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	return data, nil
}

// Restore replaces all state with a Snapshot. Token counts are recomputed with
// this context's counter, so a snapshot can move between models.
func (c *Context) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("snapshot version %d is newer than supported version %d", snap.Version, snapshotVersion)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemMessage = snap.System
	c.maxMessages = snap.MaxMessages
	c.maxTokens = snap.MaxTokens
	c.messages = make([]Message, 0, len(snap.Messages))
	for i := range snap.Messages {
		m := &snap.Messages[i]
		c.appendLocked(Message{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Timestamp:   time.UnixMilli(m.UnixMilli),
		})
	}
	return nil
}
