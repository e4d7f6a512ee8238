// File: internal/session/session.go
package session

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when the lifecycle table forbids a move.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrStatusConflict is returned by a Store when the stored status no longer
	// matches the caller's expectation.
	ErrStatusConflict = errors.New("session status changed concurrently")
)

// Session is the persisted record of one automation run.
type Session struct {
	ID          string                 `json:"id"`
	Goal        string                 `json:"goal"`
	TaskType    string                 `json:"task_type"`
	Status      schemas.SessionStatus  `json:"status"`
	Progress    int                    `json:"progress"`
	StartURL    string                 `json:"start_url,omitempty"`
	CurrentURL  string                 `json:"current_url,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Clone returns a copy whose metadata map can be modified independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Resumable reports whether an operator can resume the session.
func (s *Session) Resumable() bool {
	return s.Status == schemas.StatusPaused
}

// MetadataInt reads an integer metadata value, tolerating the float64 that
// JSON decoding produces.
func (s *Session) MetadataInt(key string) int {
	switch v := s.Metadata[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// LogLevel is the severity of a session log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is a structured line in a session's activity log.
type LogEntry struct {
	ID        int64                  `json:"id,omitempty"`
	SessionID string                 `json:"session_id"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Action    string                 `json:"action,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// StatusChange carries the fields written together with a status move.
type StatusChange struct {
	LastError   string
	Progress    *int
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Store persists sessions and their logs.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// SetStatus moves id from one status to another atomically and returns
	// ErrStatusConflict when the stored status is not from.
	SetStatus(ctx context.Context, id string, from, to schemas.SessionStatus, change StatusChange) error
	// SaveProgress writes progress, URLs, last error and metadata. It never
	// touches the status.
	SaveProgress(ctx context.Context, s *Session) error
	AppendLog(ctx context.Context, entry LogEntry) error
	ListLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error)
}
