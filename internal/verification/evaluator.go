// File: internal/verification/evaluator.go
package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
)

// Confidence assigned to a passing criterion of each type.
var passConfidence = map[schemas.CriterionType]float64{
	schemas.CriterionURLContains:    1.0,
	schemas.CriterionElementVisible: 0.9,
	schemas.CriterionElementHidden:  0.9,
	schemas.CriterionTextAppears:    0.95,
	schemas.CriterionNetworkRequest: 1.0,
	schemas.CriterionDOMChange:      0.8,
}

// AuditRecord is one persisted criterion result.
type AuditRecord struct {
	SessionID   string                  `json:"session_id"`
	ActionIndex int                     `json:"action_index"`
	Result      schemas.CriterionResult `json:"result"`
	CreatedAt   time.Time               `json:"created_at"`
}

// AuditSink persists criterion results for later review.
type AuditSink interface {
	RecordVerification(ctx context.Context, records []AuditRecord) error
}

// Evaluator scores verification criteria against runner-supplied snapshots.
// It never calls a model.
type Evaluator struct {
	audit   AuditSink
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEvaluator creates an evaluator. audit and metrics may be nil.
func NewEvaluator(audit AuditSink, logger *zap.Logger, metrics *observability.Metrics) *Evaluator {
	return &Evaluator{
		audit:   audit,
		logger:  logger.Named("verification"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Verify evaluates every criterion and writes each result to the audit sink,
// passed or not. An audit write failure fails the call.
func (e *Evaluator) Verify(ctx context.Context, req schemas.VerificationRequest) (*schemas.VerificationResult, error) {
	result := Evaluate(req)

	for _, r := range result.Results {
		e.metrics.IncVerification(string(r.Type), r.Passed)
	}

	if e.audit != nil && len(result.Results) > 0 {
		now := e.now().UTC()
		records := make([]AuditRecord, len(result.Results))
		for i, r := range result.Results {
			records[i] = AuditRecord{SessionID: req.SessionID, ActionIndex: req.ActionIndex, Result: r, CreatedAt: now}
		}
		if err := e.audit.RecordVerification(ctx, records); err != nil {
			return nil, fmt.Errorf("failed to write verification audit: %w", err)
		}
	}

	e.logger.Debug("Verification evaluated",
		zap.String("session_id", req.SessionID),
		zap.Int("action_index", req.ActionIndex),
		zap.Int("criteria", len(req.Criteria)),
		zap.Bool("verified", result.Verified),
		zap.Float64("confidence", result.Confidence))
	return &result, nil
}

// Evaluate is the pure scoring step of Verify. An empty criteria list is
// vacuously verified with full confidence.
func Evaluate(req schemas.VerificationRequest) schemas.VerificationResult {
	if len(req.Criteria) == 0 {
		return schemas.VerificationResult{Verified: true, Confidence: 1, Results: []schemas.CriterionResult{}}
	}

	after := req.AfterState
	if after.PageText == "" && after.HTML != "" {
		after.PageText = ExtractText(after.HTML)
	}

	out := schemas.VerificationResult{Verified: true, Results: make([]schemas.CriterionResult, 0, len(req.Criteria))}
	var total float64
	for _, c := range req.Criteria {
		r := evaluateCriterion(c, after, req.DOMChanges, req.NetworkRequests)
		if !r.Passed {
			out.Verified = false
		}
		total += r.Confidence
		out.Results = append(out.Results, r)
	}
	out.Confidence = total / float64(len(out.Results))
	return out
}

func evaluateCriterion(c schemas.VerificationCriterion, after schemas.StateSnapshot, dom schemas.DOMChanges, requests []schemas.NetworkRequest) schemas.CriterionResult {
	r := schemas.CriterionResult{Type: c.Type, Value: c.Value}

	conf, known := passConfidence[c.Type]
	if !known {
		r.Detail = fmt.Sprintf("unknown criterion type %q", c.Type)
		return r
	}

	switch c.Type {
	case schemas.CriterionURLContains:
		r.Passed = strings.Contains(after.URL, c.Value)
		r.Detail = "url: " + after.URL
	case schemas.CriterionElementVisible:
		if containsAny(dom.Added, c.Value) {
			r.Passed, r.Detail = true, "element added to DOM"
		} else if containsAny(after.VisibleElements, c.Value) {
			r.Passed, r.Detail = true, "element visible after action"
		} else {
			r.Detail = "element not found"
		}
	case schemas.CriterionElementHidden:
		r.Passed = containsAny(dom.Removed, c.Value)
		if !r.Passed {
			r.Detail = "element not removed"
		}
	case schemas.CriterionTextAppears:
		r.Passed = strings.Contains(after.PageText, c.Value)
		if !r.Passed {
			r.Detail = "text not found on page"
		}
	case schemas.CriterionNetworkRequest:
		for _, req := range requests {
			if strings.Contains(req.URL, c.Value) {
				r.Passed, r.Detail = true, strings.TrimSpace(req.Method+" "+req.URL)
				break
			}
		}
		if !r.Passed {
			r.Detail = fmt.Sprintf("no matching request among %d", len(requests))
		}
	case schemas.CriterionDOMChange:
		r.Passed = len(dom.Added) > 0 || len(dom.Modified) > 0
		r.Detail = fmt.Sprintf("%d added, %d modified", len(dom.Added), len(dom.Modified))
	}

	if r.Passed {
		r.Confidence = conf
	}
	return r
}

func containsAny(items []string, value string) bool {
	for _, item := range items {
		if strings.Contains(item, value) {
			return true
		}
	}
	return false
}
