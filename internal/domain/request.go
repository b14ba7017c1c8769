package domain

import (
	"encoding/json"
	"time"
)

// CreateSessionRequest creates a session. An empty SessionID is generated.
type CreateSessionRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ChatRequest is a user message posted to a session.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
}

// ChatResponse is the assistant's answer to a ChatRequest.
type ChatResponse struct {
	SessionID string         `json:"session_id"`
	Response  string         `json:"response"`
	Sender    Sender         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	ToolUsed  string         `json:"tool_used,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// DisplayMessage is a stored message rendered for people rather than models.
type DisplayMessage struct {
	MessageID string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Sender    Sender      `json:"sender"`
	Kind      PayloadKind `json:"kind,omitempty"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}
