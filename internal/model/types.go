package model

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "active"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
	StatusAbandoned  Status = "abandoned"
)

// KnownStatus reports whether s is one of the persisted status values.
// "deleted" is terminal and never stored, so it is not listed here.
func KnownStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInProgress, StatusCompleted, StatusArchived, StatusAbandoned:
		return true
	}
	return false
}

// Message is a single conversation entry. Immutable once appended.
type Message struct {
	MessageID string                 `json:"messageId"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is a troubleshooting session owned by a single user.
type Session struct {
	SessionID      string                 `json:"sessionId"`
	UserID         string                 `json:"userId"`
	ClientID       *string                `json:"clientId,omitempty"`
	Title          *string                `json:"title,omitempty"`
	Status         Status                 `json:"status"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Messages       []Message              `json:"messages,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	LastActivityAt time.Time              `json:"lastActivityAt"`

	// Version is the optimistic-concurrency token. It is persisted inside
	// the serialized record and incremented on every successful write.
	Version int64 `json:"version"`
}

// CreateSessionRequest carries caller input for session creation.
type CreateSessionRequest struct {
	UserID         string
	ClientID       *string
	Title          *string
	InitialMessage *string
	Metadata       map[string]interface{}
	TimeoutMinutes *int
}

// UpdateSessionRequest is a partial patch. Nil fields are left untouched.
// Context and Metadata entries are merged into the existing maps.
type UpdateSessionRequest struct {
	Title    *string
	ClientID *string
	Status   *Status
	Context  map[string]interface{}
	Metadata map[string]interface{}
}

// ListFilter narrows a user's session listing.
type ListFilter struct {
	Status *Status
	Query  string // case-insensitive substring match on title
}

// SessionStats summarises a single session.
type SessionStats struct {
	SessionID       string    `json:"sessionId"`
	MessageCount    int       `json:"messageCount"`
	DurationSeconds int64     `json:"durationSeconds"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}
