package domain

import (
	"time"
)

// SessionRecord is the logged view of an analysis session.
type SessionRecord struct {
	SessionID  string    `json:"session_id"`
	TableNames []string  `json:"table_names"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message represents a single entry in a session's conversation log.
type Message struct {
	MessageID string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Kind      ResultKind  `json:"kind"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}
