// File: api/schemas/decision.go
package schemas

import "time"

// SessionStatus is the lifecycle state of an automation session.
type SessionStatus string

const (
	StatusQueued    SessionStatus = "queued"
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusSuccess   SessionStatus = "success"
	StatusError     SessionStatus = "error"
	StatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusPaused, StatusSuccess, StatusError, StatusCancelled:
		return true
	}
	return false
}

// TaskType names a class of AI call with its own routing configuration.
type TaskType string

const (
	TaskExecution     TaskType = "execution"
	TaskVision        TaskType = "vision"
	TaskBotGeneration TaskType = "bot_generation"
)

// ActionRecord is one entry of a session's recent action history.
type ActionRecord struct {
	Index     int            `json:"index"`
	Action    ActionEnvelope `json:"action"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionState is the per-call context the runner supplies to decide.
type SessionState struct {
	SessionID        string              `json:"session_id"`
	Goal             string              `json:"goal"`
	CurrentURL       string              `json:"current_url,omitempty"`
	LastError        string              `json:"last_error,omitempty"`
	RecentActions    []ActionRecord      `json:"recent_actions,omitempty"`
	LastVerification *VerificationResult `json:"last_verification,omitempty"`
	// Screenshot is a base64 encoded PNG of the current viewport.
	Screenshot string `json:"screenshot,omitempty"`
	Step       int    `json:"step"`
}

// AgentResponse is the outcome of one decision iteration.
type AgentResponse struct {
	Action               ActionEnvelope          `json:"action"`
	Reasoning            string                  `json:"reasoning"`
	Confidence           float64                 `json:"confidence"`
	GoalProgress         int                     `json:"goal_progress"`
	GoalAchieved         bool                    `json:"goal_achieved"`
	VerificationCriteria []VerificationCriterion `json:"verification_criteria,omitempty"`
	GeneratedData        map[string]interface{}  `json:"generated_data,omitempty"`
	// Synthesized is set when the engine produced the action itself because no
	// usable model output was available.
	Synthesized   bool          `json:"synthesized"`
	SessionStatus SessionStatus `json:"session_status"`
	Model         string        `json:"model,omitempty"`
}

// ActionOutcome is what the runner reports after executing an action.
type ActionOutcome struct {
	SessionState SessionState         `json:"session_state"`
	ActionIndex  int                  `json:"action_index"`
	Action       ActionEnvelope       `json:"action"`
	Success      bool                 `json:"success"`
	Error        string               `json:"error,omitempty"`
	URL          string               `json:"url,omitempty"`
	Verification *VerificationRequest `json:"verification,omitempty"`
}

// TaskDescriptor describes a new automation task. Only one of URL,
// SearchQuery or Platform is needed to derive a start page.
type TaskDescriptor struct {
	SessionID   string                 `json:"session_id,omitempty"`
	Goal        string                 `json:"goal,omitempty"`
	TaskType    string                 `json:"task_type,omitempty"`
	Description string                 `json:"description,omitempty"`
	URL         string                 `json:"url,omitempty"`
	SearchQuery string                 `json:"search_query,omitempty"`
	Platform    string                 `json:"platform,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// StartResult is returned by start.
type StartResult struct {
	SessionID     string         `json:"session_id"`
	Goal          string         `json:"goal"`
	StartURL      string         `json:"start_url"`
	InitialAction ActionEnvelope `json:"initial_action"`
}
