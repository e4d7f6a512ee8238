// File: api/schemas/action.go
package schemas

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// ActionKind is the wire tag for an Action variant.
type ActionKind string

const (
	KindNavigate ActionKind = "navigate"
	KindClick    ActionKind = "click"
	KindType     ActionKind = "type"
	KindScroll   ActionKind = "scroll"
	KindWait     ActionKind = "wait"
	KindComplete ActionKind = "complete"
	KindFail     ActionKind = "fail"
	// KindObserve is never requested from the model. The engine emits it when
	// the model output could not be turned into a usable action.
	KindObserve ActionKind = "observe"
)

// kindAliases maps loose spellings produced by models onto canonical kinds.
var kindAliases = map[string]ActionKind{
	"goto":       KindNavigate,
	"go_to":      KindNavigate,
	"open":       KindNavigate,
	"tap":        KindClick,
	"input":      KindType,
	"type_text":  KindType,
	"input_text": KindType,
	"sleep":      KindWait,
	"pause":      KindWait,
	"done":       KindComplete,
	"finish":     KindComplete,
	"finished":   KindComplete,
	"error":      KindFail,
	"abort":      KindFail,
	"noop":       KindObserve,
}

// ScrollDirection enumerates valid scroll directions.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Action is the closed set of atomic browser operations the engine can hand to
// the runner. Only the variants in this file implement it.
type Action interface {
	Kind() ActionKind
	Validate() error
	isAction()
}

// Navigate loads a URL in the current tab.
type Navigate struct {
	URL string `json:"url"`
}

// Click presses the primary button at viewport pixel coordinates.
type Click struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TypeText types text into the focused element.
type TypeText struct {
	Text string `json:"text"`
}

// Scroll moves the viewport. Amount is in pixels.
type Scroll struct {
	Direction ScrollDirection `json:"direction"`
	Amount    int             `json:"amount"`
}

// Wait idles for DurationMs milliseconds.
type Wait struct {
	DurationMs int `json:"duration_ms"`
}

// Complete ends the session successfully and carries any data the goal produced.
type Complete struct {
	Reason        string                 `json:"reason,omitempty"`
	GeneratedData map[string]interface{} `json:"generated_data,omitempty"`
}

// Fail ends the session with an error.
type Fail struct {
	Reason string `json:"reason"`
}

// Observe takes no browser action; the runner captures fresh state and reports back.
type Observe struct{}

func (Navigate) Kind() ActionKind { return KindNavigate }
func (Click) Kind() ActionKind    { return KindClick }
func (TypeText) Kind() ActionKind { return KindType }
func (Scroll) Kind() ActionKind   { return KindScroll }
func (Wait) Kind() ActionKind     { return KindWait }
func (Complete) Kind() ActionKind { return KindComplete }
func (Fail) Kind() ActionKind     { return KindFail }
func (Observe) Kind() ActionKind  { return KindObserve }

func (Navigate) isAction() {}
func (Click) isAction()    {}
func (TypeText) isAction() {}
func (Scroll) isAction()   {}
func (Wait) isAction()     {}
func (Complete) isAction() {}
func (Fail) isAction()     {}
func (Observe) isAction()  {}

func (a Navigate) Validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return fmt.Errorf("navigate action requires a url")
	}
	return nil
}

func (a Click) Validate() error {
	if a.X < 0 || a.Y < 0 {
		return fmt.Errorf("click coordinates must be non-negative, got (%v, %v)", a.X, a.Y)
	}
	return nil
}

func (a TypeText) Validate() error {
	if a.Text == "" {
		return fmt.Errorf("type action requires text")
	}
	return nil
}

func (a Scroll) Validate() error {
	switch a.Direction {
	case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
	default:
		return fmt.Errorf("invalid scroll direction %q", a.Direction)
	}
	if a.Amount < 0 {
		return fmt.Errorf("scroll amount must be non-negative")
	}
	return nil
}

func (a Wait) Validate() error {
	if a.DurationMs < 0 {
		return fmt.Errorf("wait duration must be non-negative")
	}
	return nil
}

func (Complete) Validate() error { return nil }

func (a Fail) Validate() error {
	if strings.TrimSpace(a.Reason) == "" {
		return fmt.Errorf("fail action requires a reason")
	}
	return nil
}

func (Observe) Validate() error { return nil }

// ActionVisitor handles each Action variant. Implementations get a compile
// error when a variant is added, which keeps execution sites exhaustive.
type ActionVisitor interface {
	VisitNavigate(Navigate) error
	VisitClick(Click) error
	VisitType(TypeText) error
	VisitScroll(Scroll) error
	VisitWait(Wait) error
	VisitComplete(Complete) error
	VisitFail(Fail) error
	VisitObserve(Observe) error
}

// Visit dispatches a to the matching visitor method.
func Visit(a Action, v ActionVisitor) error {
	switch act := a.(type) {
	case Navigate:
		return v.VisitNavigate(act)
	case Click:
		return v.VisitClick(act)
	case TypeText:
		return v.VisitType(act)
	case Scroll:
		return v.VisitScroll(act)
	case Wait:
		return v.VisitWait(act)
	case Complete:
		return v.VisitComplete(act)
	case Fail:
		return v.VisitFail(act)
	case Observe:
		return v.VisitObserve(act)
	case nil:
		return fmt.Errorf("nil action")
	default:
		return fmt.Errorf("unsupported action variant %T", a)
	}
}

// IsTerminal reports whether the action ends the session.
func IsTerminal(a Action) bool {
	if a == nil {
		return false
	}
	k := a.Kind()
	return k == KindComplete || k == KindFail
}

// ParseActionKind normalizes a model-provided tag into a canonical kind.
func ParseActionKind(raw string) (ActionKind, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch k := ActionKind(s); k {
	case KindNavigate, KindClick, KindType, KindScroll, KindWait, KindComplete, KindFail, KindObserve:
		return k, nil
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown action type %q", raw)
}

// -- Wire encoding --

// ActionEnvelope carries an Action over JSON as {"type": "<kind>", ...fields}.
type ActionEnvelope struct {
	Action
}

// Wrap boxes an Action for transport.
func Wrap(a Action) ActionEnvelope { return ActionEnvelope{Action: a} }

// MarshalJSON flattens the variant fields next to the type tag.
func (e ActionEnvelope) MarshalJSON() ([]byte, error) {
	if e.Action == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(e.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s action: %w", e.Action.Kind(), err)
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s action: %w", e.Action.Kind(), err)
	}
	fields["type"] = string(e.Action.Kind())
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the type tag and then the variant's fields.
func (e *ActionEnvelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Action = nil
		return nil
	}
	a, err := DecodeAction(data)
	if err != nil {
		return err
	}
	e.Action = a
	return nil
}

// DecodeAction turns a tagged JSON object into a concrete Action.
func DecodeAction(data []byte) (Action, error) {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("failed to read action type: %w", err)
	}
	kind, err := ParseActionKind(tagged.Type)
	if err != nil {
		return nil, err
	}

	var a Action
	switch kind {
	case KindNavigate:
		var v Navigate
		err = json.Unmarshal(data, &v)
		a = v
	case KindClick:
		var v Click
		err = json.Unmarshal(data, &v)
		a = v
	case KindType:
		var v TypeText
		err = json.Unmarshal(data, &v)
		a = v
	case KindScroll:
		var v Scroll
		err = json.Unmarshal(data, &v)
		v.Direction = ScrollDirection(strings.ToLower(string(v.Direction)))
		a = v
	case KindWait:
		var v Wait
		err = json.Unmarshal(data, &v)
		a = v
	case KindComplete:
		var v Complete
		err = json.Unmarshal(data, &v)
		a = v
	case KindFail:
		var v Fail
		err = json.Unmarshal(data, &v)
		a = v
	case KindObserve:
		a = Observe{}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s action: %w", kind, err)
	}
	return a, nil
}
