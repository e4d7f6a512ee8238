// File: internal/agent/decision.go
package agent

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/llmutil"
)

// fallbackConfidence is reported on every response the engine synthesizes.
const fallbackConfidence = 0.1

// defaultFailReason is used when the model gives up without saying why.
const defaultFailReason = "model reported failure"

// Decision is the result of parsing one model answer. When Parsed is false
// the Response is a synthesized Observe step and Cause says why.
// ProgressReported is false when the answer carried no goal_progress, in
// which case the session keeps its stored progress.
type Decision struct {
	Response         schemas.AgentResponse
	Parsed           bool
	ProgressReported bool
	Cause            error
}

// modelAnswer is the JSON object the execution prompt asks for. The aliases
// absorb the field names models commonly drift to.
type modelAnswer struct {
	Action               json.RawMessage                 `json:"action"`
	Reasoning            string                          `json:"reasoning"`
	Thought              string                          `json:"thought"`
	Rationale            string                          `json:"rationale"`
	Confidence           *float64                        `json:"confidence"`
	GoalProgress         *float64                        `json:"goal_progress"`
	GoalAchieved         bool                            `json:"goal_achieved"`
	VerificationCriteria []schemas.VerificationCriterion `json:"verification_criteria"`
	GeneratedData        map[string]interface{}          `json:"generated_data"`
}

// ParseDecision turns raw model text into an AgentResponse. It never fails:
// text without a usable action yields a synthesized Observe step.
func ParseDecision(text string) Decision {
	raw, ok := llmutil.ExtractJSONObject(text)
	if !ok {
		return fallbackDecision(llmutil.ErrNoJSONObject)
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return fallbackDecision(fmt.Errorf("failed to decode model answer: %w", err))
	}

	action, err := decodeAnswerAction(raw, answer.Action)
	if err != nil {
		return fallbackDecision(err)
	}
	reasoning := firstNonEmpty(answer.Reasoning, answer.Thought, answer.Rationale)
	if f, ok := action.(schemas.Fail); ok && strings.TrimSpace(f.Reason) == "" {
		f.Reason = firstNonEmpty(reasoning, defaultFailReason)
		action = f
	}
	if err := action.Validate(); err != nil {
		return fallbackDecision(err)
	}

	resp := schemas.AgentResponse{
		Action:               schemas.Wrap(action),
		Reasoning:            reasoning,
		Confidence:           0.5,
		GoalAchieved:         answer.GoalAchieved,
		VerificationCriteria: validCriteria(answer.VerificationCriteria),
		GeneratedData:        answer.GeneratedData,
	}
	if answer.Confidence != nil {
		resp.Confidence = clampFloat(*answer.Confidence, 0, 1)
	}
	if answer.GoalProgress != nil {
		resp.GoalProgress = int(clampFloat(*answer.GoalProgress, 0, 100))
	}
	return Decision{Response: resp, Parsed: true, ProgressReported: answer.GoalProgress != nil}
}

// decodeAnswerAction accepts the action either as a tagged object or as a bare
// kind string with the variant fields at the top level of the answer.
func decodeAnswerAction(raw string, field json.RawMessage) (schemas.Action, error) {
	trimmed := strings.TrimSpace(string(field))
	switch {
	case trimmed == "" || trimmed == "null":
		return nil, errors.New("model answer has no action")
	case strings.HasPrefix(trimmed, "{"):
		return schemas.DecodeAction([]byte(trimmed))
	case strings.HasPrefix(trimmed, `"`):
		var kind string
		if err := json.Unmarshal([]byte(trimmed), &kind); err != nil {
			return nil, fmt.Errorf("failed to read action kind: %w", err)
		}
		fields := map[string]interface{}{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("failed to read action fields: %w", err)
		}
		delete(fields, "action")
		fields["type"] = kind
		flat, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to flatten action: %w", err)
		}
		return schemas.DecodeAction(flat)
	default:
		return nil, fmt.Errorf("unsupported action encoding %q", truncate(trimmed, 40))
	}
}

func fallbackDecision(cause error) Decision {
	return Decision{
		Response: schemas.AgentResponse{
			Action:       schemas.Wrap(schemas.Observe{}),
			Reasoning:    "Model output could not be used: " + cause.Error(),
			Confidence:   fallbackConfidence,
			GoalAchieved: false,
			Synthesized:  true,
		},
		Cause: cause,
	}
}

// validCriteria drops criteria with unknown types so the runner is never asked
// to check something the evaluator cannot score.
func validCriteria(in []schemas.VerificationCriterion) []schemas.VerificationCriterion {
	var out []schemas.VerificationCriterion
	for _, c := range in {
		c.Type = schemas.CriterionType(strings.ToLower(strings.TrimSpace(string(c.Type))))
		switch c.Type {
		case schemas.CriterionURLContains, schemas.CriterionElementVisible, schemas.CriterionElementHidden,
			schemas.CriterionTextAppears, schemas.CriterionNetworkRequest, schemas.CriterionDOMChange:
			out = append(out, c)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
