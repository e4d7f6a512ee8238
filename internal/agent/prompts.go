// File: internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
)

const visionSystemPrompt = `You analyze screenshots of a web browser for an automation agent.

List every interactive element you can see (buttons, links, inputs, selects, checkboxes, tabs, dialogs) with:
- a short label (visible text, placeholder or aria label)
- the element kind
- the pixel coordinates of its center as x,y relative to the top-left corner of the screenshot

Then state the page type (search results, login form, product page, checkout, article, error page, ...) and its state (loading, modal open, cookie banner visible, logged in, ...).

Be factual. Do not suggest actions.`

const executionSystemPrompt = `You are a browser automation agent. A runner controls a real browser on your behalf and executes exactly one action per turn.

You will receive the goal, the current URL, the last error, your most recent actions and whether the last action passed verification. When a screenshot was available you also receive an analysis listing interactive elements with their pixel coordinates.

## Response Format

Respond with ONLY one JSON object, no markdown and no text before or after it:
{
  "action": {"type": "click", "x": 412, "y": 230},
  "reasoning": "One or two sentences on what you see and why this action moves toward the goal",
  "confidence": 0.8,
  "goal_progress": 40,
  "goal_achieved": false,
  "verification_criteria": [{"type": "url_contains", "value": "/checkout"}],
  "generated_data": {}
}

## Actions
- {"type": "navigate", "url": "https://..."}: load a URL. Always use full URLs.
- {"type": "click", "x": 0, "y": 0}: click at pixel coordinates taken from the screenshot analysis.
- {"type": "type", "text": "..."}: type into the focused element. Click the field first.
- {"type": "scroll", "direction": "down", "amount": 600}: direction is up, down, left or right; amount is in pixels.
- {"type": "wait", "duration_ms": 1500}: wait for the page to settle.
- {"type": "complete", "reason": "...", "generated_data": {}}: the goal is achieved and you can confirm it on the page.
- {"type": "fail", "reason": "..."}: the goal cannot be achieved (login wall, CAPTCHA, feature missing). Explain why.

## Fields
- confidence: 0 to 1, how sure you are this action is right.
- goal_progress: 0 to 100, how much of the goal is done after this action succeeds.
- goal_achieved: true only together with a complete action.
- verification_criteria: checks that prove this action worked. Types: url_contains, element_visible, element_hidden, text_appears, network_request, dom_change.
- generated_data: any values you invented during the flow, such as a username, email or password chosen while registering. They are returned to the user when the session completes.

## Rules
1. If the last action failed verification or returned an error, do not repeat it unchanged. Try a different element or approach.
2. Dismiss overlays (cookie banners, modals) before interacting with what is behind them.
3. If the page is still loading, wait.
4. Try several different approaches before you fail.`

// historyItem is the compact form of an executed action kept for context.
type historyItem struct {
	Index   int    `json:"index"`
	Kind    string `json:"type"`
	Summary string `json:"summary,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func historyFromRecord(r schemas.ActionRecord) historyItem {
	item := historyItem{Index: r.Index, Success: r.Success, Error: r.Error}
	if r.Action.Action != nil {
		item.Kind = string(r.Action.Kind())
		item.Summary = describeAction(r.Action.Action)
	}
	return item
}

// planningContext carries the inputs of the textual context block.
type planningContext struct {
	Goal           string
	CurrentURL     string
	LastError      string
	Recent         []historyItem
	LastVerdict    *bool
	VisionAnalysis string
}

// render builds the user message for the planning call.
func (p planningContext) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", p.Goal)
	fmt.Fprintf(&b, "Current URL: %s\n", orNone(p.CurrentURL))
	fmt.Fprintf(&b, "Last error: %s\n", orNone(p.LastError))

	b.WriteString("Recent actions:")
	if len(p.Recent) == 0 {
		b.WriteString(" none\n")
	} else {
		b.WriteString("\n")
		for _, h := range p.Recent {
			outcome := "succeeded"
			if !h.Success {
				outcome = "failed"
				if h.Error != "" {
					outcome += ": " + h.Error
				}
			}
			label := h.Kind
			if h.Summary != "" {
				label = h.Summary
			}
			fmt.Fprintf(&b, "- #%d %s (%s)\n", h.Index, label, outcome)
		}
	}

	switch {
	case p.LastVerdict == nil:
		b.WriteString("Last verification: none\n")
	case *p.LastVerdict:
		b.WriteString("Last verification: passed\n")
	default:
		b.WriteString("Last verification: failed\n")
	}

	if p.VisionAnalysis != "" {
		b.WriteString("\nScreenshot analysis:\n")
		b.WriteString(strings.TrimSpace(p.VisionAnalysis))
		b.WriteString("\n")
	}
	b.WriteString("\nDecide the next action. Respond with a single JSON object.")
	return b.String()
}

// describeAction renders an action for the history list.
func describeAction(a schemas.Action) string {
	if a == nil {
		return ""
	}
	var d actionDescriber
	if err := schemas.Visit(a, &d); err != nil {
		return string(a.Kind())
	}
	return d.text
}

// actionDescriber renders each action variant as a short phrase.
type actionDescriber struct {
	text string
}

func (d *actionDescriber) VisitNavigate(a schemas.Navigate) error {
	d.text = "navigate to " + a.URL
	return nil
}

func (d *actionDescriber) VisitClick(a schemas.Click) error {
	d.text = fmt.Sprintf("click at (%.0f, %.0f)", a.X, a.Y)
	return nil
}

func (d *actionDescriber) VisitType(a schemas.TypeText) error {
	d.text = fmt.Sprintf("type %q", truncate(a.Text, 40))
	return nil
}

func (d *actionDescriber) VisitScroll(a schemas.Scroll) error {
	d.text = fmt.Sprintf("scroll %s %dpx", a.Direction, a.Amount)
	return nil
}

func (d *actionDescriber) VisitWait(a schemas.Wait) error {
	d.text = fmt.Sprintf("wait %dms", a.DurationMs)
	return nil
}

func (d *actionDescriber) VisitComplete(a schemas.Complete) error {
	d.text = "complete"
	if a.Reason != "" {
		d.text += ": " + truncate(a.Reason, 60)
	}
	return nil
}

func (d *actionDescriber) VisitFail(a schemas.Fail) error {
	d.text = "fail: " + truncate(a.Reason, 60)
	return nil
}

func (d *actionDescriber) VisitObserve(schemas.Observe) error {
	d.text = "observe"
	return nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
