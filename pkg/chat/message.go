// Package chat holds the domain types shared across the ledger system:
// messages, topics, memories, and their validation rules.
package chat

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// RawMessage is a client-submitted message: the client's view of one
// element of its conversation tail, before it has been persisted.
type RawMessage struct {
	Role          Role            `json:"role"`
	Content       string          `json:"content"`
	Model         string          `json:"model,omitempty"`
	PlatformMsgID string          `json:"platform_msg_id,omitempty"`
	ToolCalls     json.RawMessage `json:"tool_calls,omitempty"`
	FunctionCall  json.RawMessage `json:"function_call,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
}

// Message is a canonical, persisted message row. IDs are assigned by the
// message store and strictly increase within a conversation. Only the
// content of the trailing assistant message is ever mutated in place.
type Message struct {
	ID              int64           `json:"id"`
	ConversationKey string          `json:"conversation_key"`
	Platform        string          `json:"platform"`
	PlatformMsgID   string          `json:"platform_msg_id,omitempty"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	Model           string          `json:"model,omitempty"`
	ToolCalls       json.RawMessage `json:"tool_calls,omitempty"`
	FunctionCall    json.RawMessage `json:"function_call,omitempty"`
	ToolCallID      string          `json:"tool_call_id,omitempty"`
	TopicID         *string         `json:"topic_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EstimateTokens approximates the token cost of a piece of text using a
// four-characters-per-token heuristic. Good enough for batch planning and
// dry-run cost reports; never a hard budget guarantee.
func EstimateTokens(text string) int {
	return len(text) / 4
}
