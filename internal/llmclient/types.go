// File: internal/llmclient/types.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoEligibleModel means no model in the catalog satisfies the task
	// class. It is a hard failure and is not retried.
	ErrNoEligibleModel = errors.New("no eligible model for task class")
	// ErrModelUnavailable means every attempted model failed.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrProviderNotConfigured means the task class names a backend that was
	// not set up at startup.
	ErrProviderNotConfigured = errors.New("completion provider not configured")
)

// APIError is a non-2xx response from a completion backend.
type APIError struct {
	StatusCode int
	Body       string
	Model      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model %s returned status %d: %s", e.Model, e.StatusCode, truncate(e.Body, 512))
}

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attached to a message. Data is base64 without a
// data URL prefix.
type Image struct {
	MIMEType string
	Data     string
}

// Message is one turn of a completion conversation.
type Message struct {
	Role    Role
	Content string
	Images  []Image
}

// SystemMessage and UserMessage are shorthands for the common cases.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

func UserMessage(content string, images ...Image) Message {
	return Message{Role: RoleUser, Content: content, Images: images}
}

// Request is what a Provider sends for a single attempt.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is a Provider's answer for a single attempt.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider talks to one completion backend.
type Provider interface {
	Name() string
	// DefaultModel is used when neither config nor router names a model.
	DefaultModel() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Usage is the token and cost accounting of a completion.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Completion is the result of Client.Complete.
type Completion struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
	FallbackUsed bool          `json:"fallback_used"`
}

// UsageRecord is the telemetry row written for each successful completion.
type UsageRecord struct {
	TaskType     string    `json:"task_type"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	LatencyMs    int64     `json:"latency_ms"`
	FallbackUsed bool      `json:"fallback_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSink receives usage telemetry. Failures are logged by the caller and
// never fail the completion.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// Option adjusts a single Complete call.
type Option func(*callOptions)

type callOptions struct {
	model string
}

// WithModel forces a specific model and bypasses routing for the primary.
func WithModel(model string) Option {
	return func(o *callOptions) { o.model = model }
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
