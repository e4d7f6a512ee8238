// File: internal/agent/engine.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
	"github.com/xkilldash9x/pilot-engine/internal/session"
)

// ErrInvalidInput is returned for requests missing required fields.
var ErrInvalidInput = errors.New("invalid input")

// Completer is the part of the completion client the engine uses.
type Completer interface {
	Complete(ctx context.Context, taskType string, messages []llmclient.Message, opts ...llmclient.Option) (*llmclient.Completion, error)
}

// Verifier scores verification criteria and records the audit trail.
type Verifier interface {
	Verify(ctx context.Context, req schemas.VerificationRequest) (*schemas.VerificationResult, error)
}

// Session metadata keys written by the engine.
const (
	metaCurrentAction = "current_action"
	metaReasoning     = "reasoning"
	metaModel         = "model"
	metaModelFailures = "model_failures"
	metaHistory       = "recent_actions"
	metaVerified      = "last_verified"
	metaGeneratedData = "generated_data"
	metaStep          = "step"
)

// maxStoredHistory bounds the action history kept in session metadata.
const maxStoredHistory = 10

// Decision outcomes reported to metrics.
const (
	outcomeParsed      = "parsed"
	outcomeFallback    = "fallback"
	outcomeUnavailable = "unavailable"
	outcomeDiscarded   = "discarded"
	outcomeSkipped     = "skipped"
)

// Allows for mocking in tests.
var uuidNewString = uuid.NewString

// Engine is the decision loop. It holds no per-session state; everything is
// read from the caller's request and the session store on each call.
type Engine struct {
	cfg      config.DecisionConfig
	llm      Completer
	sessions *session.Tracker
	verifier Verifier
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewEngine wires the decision loop.
func NewEngine(cfg config.DecisionConfig, llm Completer, sessions *session.Tracker, verifier Verifier, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if cfg.MaxConsecutiveModelFailures <= 0 {
		cfg.MaxConsecutiveModelFailures = 3
	}
	return &Engine{
		cfg:      cfg,
		llm:      llm,
		sessions: sessions,
		verifier: verifier,
		logger:   logger.Named("decision_engine"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start derives the goal and first page for a task, creates the session and
// moves it to running. The initial action is always a navigation.
func (e *Engine) Start(ctx context.Context, task schemas.TaskDescriptor) (*schemas.StartResult, error) {
	goal, err := deriveGoal(task)
	if err != nil {
		return nil, err
	}
	startURL := deriveStartURL(task, e.cfg)

	id := strings.TrimSpace(task.SessionID)
	if id == "" {
		id = uuidNewString()
	}
	taskType := task.TaskType
	if taskType == "" {
		taskType = string(schemas.TaskExecution)
	}

	sess, err := e.sessions.Ensure(ctx, session.Seed{ID: id, Goal: goal, TaskType: taskType, StartURL: startURL})
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Status == schemas.StatusQueued:
		if sess, err = e.sessions.Transition(ctx, id, schemas.StatusRunning, ""); err != nil {
			return nil, err
		}
	case sess.Status.IsTerminal():
		return nil, fmt.Errorf("%w: session %s is already %s", session.ErrInvalidTransition, id, sess.Status)
	}
	if sess.Goal != "" {
		goal = sess.Goal
	}
	if sess.StartURL != "" {
		startURL = sess.StartURL
	}

	initial := schemas.Navigate{URL: startURL}
	if _, err := e.sessions.Update(ctx, id, session.Update{
		Metadata: map[string]interface{}{metaCurrentAction: string(initial.Kind())},
	}); err != nil {
		return nil, err
	}
	if err := e.sessions.Log(ctx, session.LogEntry{
		SessionID: id,
		Message:   "Session started",
		Action:    string(initial.Kind()),
		Detail:    map[string]interface{}{"goal": goal, "start_url": startURL, "task_type": taskType},
	}); err != nil {
		return nil, err
	}

	e.logger.Info("Session started",
		zap.String("session_id", id),
		zap.String("start_url", startURL),
		zap.String("task_type", taskType))

	return &schemas.StartResult{
		SessionID:     id,
		Goal:          goal,
		StartURL:      startURL,
		InitialAction: schemas.Wrap(initial),
	}, nil
}

// Decide runs one iteration of the loop and returns the next action. Model
// failures and malformed output never surface as errors; only storage and
// input problems do.
func (e *Engine) Decide(ctx context.Context, state schemas.SessionState) (*schemas.AgentResponse, error) {
	if strings.TrimSpace(state.SessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	sess, err := e.loadSession(ctx, state)
	if err != nil {
		return nil, err
	}
	if resp, ok := e.shortCircuit(sess); ok {
		e.metrics.IncDecision(string(resp.Action.Kind()), outcomeSkipped)
		return resp, nil
	}

	pc := e.buildContext(sess, state)
	if state.Screenshot != "" {
		pc.VisionAnalysis = e.analyzeScreenshot(ctx, sess.ID, state.Screenshot, pc)
	}

	var (
		decision Decision
		outcome  string
		failures int
	)
	completion, err := e.llm.Complete(ctx, string(schemas.TaskExecution), []llmclient.Message{
		llmclient.SystemMessage(executionSystemPrompt),
		llmclient.UserMessage(pc.render()),
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("decision for session %s abandoned: %w", sess.ID, ctx.Err())
	case err != nil:
		failures = sess.MetadataInt(metaModelFailures) + 1
		decision = e.unavailableDecision(err, failures)
		outcome = outcomeUnavailable
		e.logger.Warn("No model answered the planning call",
			zap.String("session_id", sess.ID),
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
	default:
		decision = ParseDecision(completion.Text)
		decision.Response.Model = completion.Model
		outcome = outcomeParsed
		if !decision.Parsed {
			outcome = outcomeFallback
			e.logger.Warn("Model output could not be parsed",
				zap.String("session_id", sess.ID),
				zap.String("model", completion.Model),
				zap.String("raw_response", truncate(completion.Text, 512)),
				zap.Error(decision.Cause))
		}
	}

	// The call may have run while an operator paused or cancelled the session.
	current, err := e.sessions.Get(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != schemas.StatusRunning {
		return e.discard(ctx, current, decision.Response)
	}
	if decision.Parsed && !decision.ProgressReported {
		decision.Response.GoalProgress = current.Progress
	}

	resp, err := e.apply(ctx, current, decision.Response, failures)
	if errors.Is(err, session.ErrInvalidTransition) {
		if current, err = e.sessions.Get(ctx, sess.ID); err != nil {
			return nil, err
		}
		return e.discard(ctx, current, decision.Response)
	}
	if err != nil {
		return nil, err
	}

	e.metrics.IncDecision(string(resp.Action.Kind()), outcome)
	return resp, nil
}

// Report records the outcome of the last action, scores any verification the
// runner attached, and then decides the next action.
func (e *Engine) Report(ctx context.Context, outcome schemas.ActionOutcome) (*schemas.AgentResponse, error) {
	state := outcome.SessionState
	id := strings.TrimSpace(state.SessionID)
	if id == "" {
		return nil, fmt.Errorf("%w: session_state.session_id is required", ErrInvalidInput)
	}
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	record := schemas.ActionRecord{
		Index:     outcome.ActionIndex,
		Action:    outcome.Action,
		Success:   outcome.Success,
		Error:     outcome.Error,
		Timestamp: e.now().UTC(),
	}
	item := historyFromRecord(record)

	entry := session.LogEntry{
		SessionID: id,
		Level:     session.LevelInfo,
		Message:   "Action succeeded",
		Action:    item.Kind,
		Detail:    map[string]interface{}{"index": outcome.ActionIndex, "url": outcome.URL},
	}
	if !outcome.Success {
		entry.Level = session.LevelWarn
		entry.Message = "Action failed"
		entry.Detail["error"] = outcome.Error
	}
	if err := e.sessions.Log(ctx, entry); err != nil {
		return nil, err
	}

	var verdict *schemas.VerificationResult
	if v := outcome.Verification; v != nil && len(v.Criteria) > 0 {
		req := *v
		req.SessionID = id
		if req.ActionIndex == 0 {
			req.ActionIndex = outcome.ActionIndex
		}
		if req.AfterState.URL == "" {
			req.AfterState.URL = outcome.URL
		}
		if verdict, err = e.verifier.Verify(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to verify action %d: %w", outcome.ActionIndex, err)
		}
	}

	history := append(storedHistory(sess), item)
	if len(history) > maxStoredHistory {
		history = history[len(history)-maxStoredHistory:]
	}
	lastError := outcome.Error
	update := session.Update{
		LastError: &lastError,
		Metadata:  map[string]interface{}{metaHistory: history},
	}
	if outcome.URL != "" {
		update.CurrentURL = &outcome.URL
	}
	if verdict != nil {
		update.Metadata[metaVerified] = verdict.Verified
	}
	if _, err := e.sessions.Update(ctx, id, update); err != nil {
		return nil, err
	}

	if outcome.URL != "" {
		state.CurrentURL = outcome.URL
	}
	state.LastError = outcome.Error
	if !hasRecord(state.RecentActions, record.Index) {
		state.RecentActions = append(state.RecentActions, record)
	}
	if verdict != nil {
		state.LastVerification = verdict
	}
	return e.Decide(ctx, state)
}

// loadSession fetches the session, creating and starting it when the caller
// supplies a goal for an unknown id.
func (e *Engine) loadSession(ctx context.Context, state schemas.SessionState) (*session.Session, error) {
	sess, err := e.sessions.Get(ctx, state.SessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) || strings.TrimSpace(state.Goal) == "" {
		return nil, err
	}
	if _, err := e.sessions.Ensure(ctx, session.Seed{
		ID:       state.SessionID,
		Goal:     state.Goal,
		TaskType: string(schemas.TaskExecution),
		StartURL: state.CurrentURL,
	}); err != nil {
		return nil, err
	}
	return e.sessions.Transition(ctx, state.SessionID, schemas.StatusRunning, "")
}

// shortCircuit answers without a model call for sessions that are not running.
func (e *Engine) shortCircuit(sess *session.Session) (*schemas.AgentResponse, bool) {
	resp := &schemas.AgentResponse{
		Confidence:    1,
		GoalProgress:  sess.Progress,
		Synthesized:   true,
		SessionStatus: sess.Status,
	}
	switch sess.Status {
	case schemas.StatusRunning:
		return nil, false
	case schemas.StatusSuccess:
		data := generatedDataOf(sess)
		resp.Action = schemas.Wrap(schemas.Complete{Reason: "session already completed", GeneratedData: data})
		resp.Reasoning = "Session already completed"
		resp.GoalAchieved = true
		resp.GeneratedData = data
	case schemas.StatusError:
		reason := sess.LastError
		if reason == "" {
			reason = "session failed"
		}
		resp.Action = schemas.Wrap(schemas.Fail{Reason: reason})
		resp.Reasoning = "Session already failed"
	case schemas.StatusCancelled:
		resp.Action = schemas.Wrap(schemas.Fail{Reason: "session cancelled"})
		resp.Reasoning = "Session was cancelled"
	default:
		resp.Action = schemas.Wrap(schemas.Wait{DurationMs: e.waitMs()})
		resp.Reasoning = fmt.Sprintf("Session is %s", sess.Status)
		resp.Confidence = fallbackConfidence
	}
	return resp, true
}

// unavailableDecision keeps the loop moving while no model answers, and gives
// up once the streak reaches the configured limit.
func (e *Engine) unavailableDecision(cause error, failures int) Decision {
	resp := schemas.AgentResponse{Confidence: fallbackConfidence, Synthesized: true}
	if failures >= e.cfg.MaxConsecutiveModelFailures {
		reason := fmt.Sprintf("no model answered after %d consecutive attempts: %v", failures, cause)
		resp.Action = schemas.Wrap(schemas.Fail{Reason: reason})
		resp.Reasoning = reason
	} else {
		resp.Action = schemas.Wrap(schemas.Wait{DurationMs: e.waitMs()})
		resp.Reasoning = fmt.Sprintf("Model unavailable (attempt %d of %d), waiting before retrying: %v", failures, e.cfg.MaxConsecutiveModelFailures, cause)
	}
	return Decision{Response: resp, Cause: cause}
}

// apply writes the decision's side effects and returns the final response.
func (e *Engine) apply(ctx context.Context, sess *session.Session, resp schemas.AgentResponse, failures int) (*schemas.AgentResponse, error) {
	kind := resp.Action.Kind()
	if resp.Synthesized {
		resp.GoalProgress = sess.Progress
	}
	if kind == schemas.KindFail {
		resp.GoalAchieved = false
	}
	succeeded := resp.GoalAchieved || kind == schemas.KindComplete

	meta := map[string]interface{}{
		metaCurrentAction: string(kind),
		metaReasoning:     truncate(resp.Reasoning, 500),
		metaStep:          sess.MetadataInt(metaStep) + 1,
		metaModelFailures: nil,
	}
	if failures > 0 {
		meta[metaModelFailures] = failures
	}
	if resp.Model != "" {
		meta[metaModel] = resp.Model
	}

	data := mergeData(generatedDataOf(sess), resp.GeneratedData)
	if succeeded {
		var reason string
		if c, ok := resp.Action.Action.(schemas.Complete); ok {
			data = mergeData(data, c.GeneratedData)
			reason = c.Reason
		}
		if reason == "" {
			reason = resp.Reasoning
		}
		resp.Action = schemas.Wrap(schemas.Complete{Reason: reason, GeneratedData: data})
		resp.GeneratedData = data
		resp.GoalAchieved = true
		resp.GoalProgress = 100
	}
	if len(data) > 0 {
		meta[metaGeneratedData] = data
	}

	// Terminal moves happen before any write; a move lost to pause or cancel
	// leaves the session untouched.
	resp.SessionStatus = sess.Status
	if schemas.IsTerminal(resp.Action.Action) {
		var (
			moved *session.Session
			err   error
		)
		if succeeded {
			moved, err = e.sessions.Succeed(ctx, sess.ID)
		} else {
			moved, err = e.sessions.Fail(ctx, sess.ID, resp.Action.Action.(schemas.Fail).Reason)
		}
		if err != nil {
			return nil, err
		}
		resp.SessionStatus = moved.Status
	}

	progress := resp.GoalProgress
	if _, err := e.sessions.Update(ctx, sess.ID, session.Update{Progress: &progress, Metadata: meta}); err != nil {
		return nil, err
	}

	entry := session.LogEntry{
		SessionID: sess.ID,
		Level:     session.LevelInfo,
		Message:   "Decided " + string(resp.Action.Kind()),
		Action:    string(resp.Action.Kind()),
		Detail: map[string]interface{}{
			"reasoning":     resp.Reasoning,
			"confidence":    resp.Confidence,
			"goal_progress": resp.GoalProgress,
			"synthesized":   resp.Synthesized,
			"model":         resp.Model,
		},
	}
	if resp.Synthesized {
		entry.Level = session.LevelWarn
	}
	if err := e.sessions.Log(ctx, entry); err != nil {
		return nil, err
	}

	e.logger.Debug("Decision applied",
		zap.String("session_id", sess.ID),
		zap.String("action", string(resp.Action.Kind())),
		zap.Float64("confidence", resp.Confidence),
		zap.Int("goal_progress", resp.GoalProgress),
		zap.String("status", string(resp.SessionStatus)))
	return &resp, nil
}

// discard drops a decision that finished after the session left running.
func (e *Engine) discard(ctx context.Context, current *session.Session, dropped schemas.AgentResponse) (*schemas.AgentResponse, error) {
	droppedKind := ""
	if dropped.Action.Action != nil {
		droppedKind = string(dropped.Action.Kind())
	}
	if err := e.sessions.Log(ctx, session.LogEntry{
		SessionID: current.ID,
		Level:     session.LevelWarn,
		Message:   "Decision discarded",
		Action:    droppedKind,
		Detail:    map[string]interface{}{"status": string(current.Status), "reasoning": dropped.Reasoning},
	}); err != nil {
		return nil, err
	}
	e.logger.Info("Discarded decision for session that is no longer running",
		zap.String("session_id", current.ID),
		zap.String("status", string(current.Status)),
		zap.String("dropped_action", droppedKind))
	e.metrics.IncDecision(string(schemas.KindWait), outcomeDiscarded)

	return &schemas.AgentResponse{
		Action:        schemas.Wrap(schemas.Wait{DurationMs: e.waitMs()}),
		Reasoning:     fmt.Sprintf("Session is %s; decision discarded", current.Status),
		Confidence:    fallbackConfidence,
		GoalProgress:  current.Progress,
		Synthesized:   true,
		SessionStatus: current.Status,
	}, nil
}

// buildContext merges the caller's state with what the session remembers.
func (e *Engine) buildContext(sess *session.Session, state schemas.SessionState) planningContext {
	pc := planningContext{
		Goal:       firstNonEmpty(state.Goal, sess.Goal),
		CurrentURL: firstNonEmpty(state.CurrentURL, sess.CurrentURL),
		LastError:  firstNonEmpty(state.LastError, sess.LastError),
	}

	var recent []historyItem
	if len(state.RecentActions) > 0 {
		for _, r := range state.RecentActions {
			recent = append(recent, historyFromRecord(r))
		}
	} else {
		recent = storedHistory(sess)
	}
	if n := e.cfg.RecentActions; len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	pc.Recent = recent

	if state.LastVerification != nil {
		v := state.LastVerification.Verified
		pc.LastVerdict = &v
	} else if v, ok := sess.Metadata[metaVerified].(bool); ok {
		pc.LastVerdict = &v
	}
	return pc
}

// analyzeScreenshot runs the vision call. A failure only costs the analysis.
func (e *Engine) analyzeScreenshot(ctx context.Context, sessionID, screenshot string, pc planningContext) string {
	mime, data := splitDataURL(screenshot)
	prompt := fmt.Sprintf("Goal: %s\nCurrent URL: %s\n\nAnalyze the attached screenshot.", pc.Goal, orNone(pc.CurrentURL))
	completion, err := e.llm.Complete(ctx, string(schemas.TaskVision), []llmclient.Message{
		llmclient.SystemMessage(visionSystemPrompt),
		llmclient.UserMessage(prompt, llmclient.Image{MIMEType: mime, Data: data}),
	})
	if err != nil {
		e.logger.Warn("Vision analysis failed, planning without it", zap.String("session_id", sessionID), zap.Error(err))
		return ""
	}
	return completion.Text
}

func (e *Engine) waitMs() int {
	return int(e.cfg.UnavailableWait.Milliseconds())
}

// splitDataURL accepts raw base64 or a data URL and returns the MIME type and payload.
func splitDataURL(s string) (string, string) {
	if strings.HasPrefix(s, "data:") {
		if comma := strings.Index(s, ","); comma > 0 {
			header := strings.TrimPrefix(s[:comma], "data:")
			mime := strings.TrimSuffix(header, ";base64")
			if mime == "" {
				mime = "image/png"
			}
			return mime, s[comma+1:]
		}
	}
	return "image/png", s
}

// storedHistory decodes the history kept in session metadata. Values read
// back from the database arrive as generic maps, so both shapes go through JSON.
func storedHistory(sess *session.Session) []historyItem {
	raw, ok := sess.Metadata[metaHistory]
	if !ok || raw == nil {
		return nil
	}
	if items, ok := raw.([]historyItem); ok {
		return append([]historyItem(nil), items...)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var items []historyItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	return items
}

func generatedDataOf(sess *session.Session) map[string]interface{} {
	if m, ok := sess.Metadata[metaGeneratedData].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// mergeData layers maps left to right; later keys win.
func mergeData(layers ...map[string]interface{}) map[string]interface{} {
	var out map[string]interface{}
	for _, m := range layers {
		for k, v := range m {
			if out == nil {
				out = make(map[string]interface{})
			}
			out[k] = v
		}
	}
	return out
}

func hasRecord(records []schemas.ActionRecord, index int) bool {
	for _, r := range records {
		if r.Index == index {
			return true
		}
	}
	return false
}
