// File: api/schemas/verification.go
package schemas

// CriterionType names a verification rule.
type CriterionType string

const (
	CriterionURLContains    CriterionType = "url_contains"
	CriterionElementVisible CriterionType = "element_visible"
	CriterionElementHidden  CriterionType = "element_hidden"
	CriterionTextAppears    CriterionType = "text_appears"
	CriterionNetworkRequest CriterionType = "network_request"
	CriterionDOMChange      CriterionType = "dom_change"
)

// VerificationCriterion is one check the runner asks the evaluator to make.
type VerificationCriterion struct {
	Type  CriterionType `json:"type"`
	Value string        `json:"value,omitempty"`
}

// StateSnapshot captures the observable page state before or after an action.
type StateSnapshot struct {
	URL             string   `json:"url"`
	Title           string   `json:"title,omitempty"`
	PageText        string   `json:"page_text,omitempty"`
	HTML            string   `json:"html,omitempty"`
	VisibleElements []string `json:"visible_elements,omitempty"`
}

// DOMChanges lists element descriptors that changed between snapshots.
type DOMChanges struct {
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Modified []string `json:"modified,omitempty"`
}

// NetworkRequest is a request observed while the action ran.
type NetworkRequest struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Status int    `json:"status,omitempty"`
}

// VerificationRequest is the input of verify.
type VerificationRequest struct {
	SessionID       string                  `json:"session_id,omitempty"`
	ActionIndex     int                     `json:"action_index"`
	Criteria        []VerificationCriterion `json:"criteria"`
	BeforeState     StateSnapshot           `json:"before_state"`
	AfterState      StateSnapshot           `json:"after_state"`
	DOMChanges      DOMChanges              `json:"dom_changes"`
	NetworkRequests []NetworkRequest        `json:"network_requests,omitempty"`
}

// CriterionResult is the evaluation of a single criterion.
type CriterionResult struct {
	Type       CriterionType `json:"type"`
	Value      string        `json:"value,omitempty"`
	Passed     bool          `json:"passed"`
	Confidence float64       `json:"confidence"`
	Detail     string        `json:"detail,omitempty"`
}

// VerificationResult aggregates the criterion results.
type VerificationResult struct {
	Verified   bool              `json:"verified"`
	Confidence float64           `json:"confidence"`
	Results    []CriterionResult `json:"results"`
}
