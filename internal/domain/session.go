package domain

import (
	"encoding/json"
	"time"
)

// Session is a conversation owned by an optional user.
type Session struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Message is one stored entry of a session transcript.
type Message struct {
	MessageID string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Seq       int64       `json:"seq"`
	Sender    Sender      `json:"sender"`
	Kind      PayloadKind `json:"kind,omitempty"`
	Payload   string      `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// ListOptions controls message listing. A zero Limit means no limit.
type ListOptions struct {
	Limit  int
	Offset int
	Order  SortOrder
}
