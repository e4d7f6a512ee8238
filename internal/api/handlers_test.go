// File: internal/api/handlers_test.go
package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/agent"
	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
)

// -- Mocks --

type MockEngine struct{ mock.Mock }

func (m *MockEngine) Start(ctx context.Context, task schemas.TaskDescriptor) (*schemas.StartResult, error) {
	args := m.Called(ctx, task)
	res, _ := args.Get(0).(*schemas.StartResult)
	return res, args.Error(1)
}

func (m *MockEngine) Decide(ctx context.Context, state schemas.SessionState) (*schemas.AgentResponse, error) {
	args := m.Called(ctx, state)
	res, _ := args.Get(0).(*schemas.AgentResponse)
	return res, args.Error(1)
}

func (m *MockEngine) Report(ctx context.Context, outcome schemas.ActionOutcome) (*schemas.AgentResponse, error) {
	args := m.Called(ctx, outcome)
	res, _ := args.Get(0).(*schemas.AgentResponse)
	return res, args.Error(1)
}

type MockVerifier struct{ mock.Mock }

func (m *MockVerifier) Verify(ctx context.Context, req schemas.VerificationRequest) (*schemas.VerificationResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*schemas.VerificationResult)
	return res, args.Error(1)
}

type MockTracker struct{ mock.Mock }

func (m *MockTracker) session(args mock.Arguments) (*session.Session, error) {
	res, _ := args.Get(0).(*session.Session)
	return res, args.Error(1)
}

func (m *MockTracker) Get(ctx context.Context, id string) (*session.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockTracker) Pause(ctx context.Context, id string) (*session.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockTracker) Resume(ctx context.Context, id string) (*session.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockTracker) Cancel(ctx context.Context, id string) (*session.Session, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockTracker) Logs(ctx context.Context, id string, limit int) ([]session.LogEntry, error) {
	args := m.Called(ctx, id, limit)
	res, _ := args.Get(0).([]session.LogEntry)
	return res, args.Error(1)
}

type MockOptimizer struct{ mock.Mock }

func (m *MockOptimizer) Check(ctx context.Context) ([]router.Recommendation, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]router.Recommendation)
	return res, args.Error(1)
}

func (m *MockOptimizer) Optimize(ctx context.Context) ([]router.Recommendation, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]router.Recommendation)
	return res, args.Error(1)
}

type MockCatalog struct{ mock.Mock }

func (m *MockCatalog) Current() *catalog.Snapshot {
	args := m.Called()
	res, _ := args.Get(0).(*catalog.Snapshot)
	return res
}

func (m *MockCatalog) Refresh(ctx context.Context) (*catalog.Snapshot, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*catalog.Snapshot)
	return res, args.Error(1)
}

// -- Fixture --

type apiFixture struct {
	engine    *MockEngine
	verifier  *MockVerifier
	tracker   *MockTracker
	optimizer *MockOptimizer
	catalog   *MockCatalog
	router    chi.Router
}

func setupHandlers(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		engine:    new(MockEngine),
		verifier:  new(MockVerifier),
		tracker:   new(MockTracker),
		optimizer: new(MockOptimizer),
		catalog:   new(MockCatalog),
		router:    chi.NewRouter(),
	}
	h := NewHandlers(zaptest.NewLogger(t), f.engine, f.verifier, f.tracker, f.optimizer, f.catalog)
	h.RegisterRoutes(f.router)
	t.Cleanup(func() {
		f.engine.AssertExpectations(t)
		f.verifier.AssertExpectations(t)
		f.tracker.AssertExpectations(t)
		f.optimizer.AssertExpectations(t)
		f.catalog.AssertExpectations(t)
	})
	return f
}

// do sends a request and decodes the envelope, returning the raw data field.
func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (int, Response, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	var envelope struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope), "body: %s", rr.Body.String())
	envelope.Response.Data = nil
	return rr.Code, envelope.Response, envelope.Data
}

// -- Test Cases --

func TestHealthCheck(t *testing.T) {
	f := setupHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestHandleStart(t *testing.T) {
	f := setupHandlers(t)
	task := schemas.TaskDescriptor{Goal: "Buy milk", URL: "shop.example"}
	f.engine.On("Start", mock.Anything, task).Return(&schemas.StartResult{
		SessionID:     "sess-1",
		Goal:          "Buy milk",
		StartURL:      "https://shop.example",
		InitialAction: schemas.Wrap(schemas.Navigate{URL: "https://shop.example"}),
	}, nil).Once()

	code, resp, data := f.do(t, http.MethodPost, "/api/v1/sessions/start", task)

	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "success", resp.Status)
	var result schemas.StartResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, schemas.Navigate{URL: "https://shop.example"}, result.InitialAction.Action)
}

func TestHandleStart_InvalidInput(t *testing.T) {
	f := setupHandlers(t)
	f.engine.On("Start", mock.Anything, schemas.TaskDescriptor{}).
		Return(nil, fmt.Errorf("%w: task needs a goal", agent.ErrInvalidInput)).Once()

	code, resp, _ := f.do(t, http.MethodPost, "/api/v1/sessions/start", schemas.TaskDescriptor{})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "task needs a goal")
}

func TestHandleDecide(t *testing.T) {
	f := setupHandlers(t)
	state := schemas.SessionState{SessionID: "sess-1", Goal: "Buy milk", CurrentURL: "https://shop.example", Step: 2}
	f.engine.On("Decide", mock.Anything, state).Return(&schemas.AgentResponse{
		Action:        schemas.Wrap(schemas.Click{X: 10, Y: 20}),
		Reasoning:     "Add to cart",
		Confidence:    0.8,
		GoalProgress:  40,
		SessionStatus: schemas.StatusRunning,
	}, nil).Once()

	code, resp, data := f.do(t, http.MethodPost, "/api/v1/decide", state)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)
	var decided schemas.AgentResponse
	require.NoError(t, json.Unmarshal(data, &decided))
	assert.Equal(t, schemas.Click{X: 10, Y: 20}, decided.Action.Action)
	assert.Equal(t, 40, decided.GoalProgress)
	assert.Equal(t, schemas.StatusRunning, decided.SessionStatus)
}

func TestHandleDecide_BadBody(t *testing.T) {
	f := setupHandlers(t)

	code, resp, _ := f.do(t, http.MethodPost, "/api/v1/decide", `{"session_id": `)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "Invalid request body")
	f.engine.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
}

func TestHandleReport(t *testing.T) {
	f := setupHandlers(t)
	outcome := schemas.ActionOutcome{
		SessionState: schemas.SessionState{SessionID: "sess-1", Goal: "Buy milk"},
		ActionIndex:  3,
		Action:       schemas.Wrap(schemas.Click{X: 1, Y: 2}),
		Success:      true,
	}
	f.engine.On("Report", mock.Anything, mock.MatchedBy(func(o schemas.ActionOutcome) bool {
		return o.SessionState.SessionID == "sess-1" && o.ActionIndex == 3 && o.Success
	})).Return(&schemas.AgentResponse{Action: schemas.Wrap(schemas.Observe{})}, nil).Once()

	code, resp, _ := f.do(t, http.MethodPost, "/api/v1/report", outcome)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)
}

func TestHandleVerify(t *testing.T) {
	f := setupHandlers(t)
	req := schemas.VerificationRequest{
		Criteria:   []schemas.VerificationCriterion{{Type: schemas.CriterionURLContains, Value: "/cart"}},
		AfterState: schemas.StateSnapshot{URL: "https://shop.example/cart"},
	}
	f.verifier.On("Verify", mock.Anything, mock.AnythingOfType("schemas.VerificationRequest")).
		Return(&schemas.VerificationResult{Verified: true, Confidence: 1}, nil).Once()

	code, _, data := f.do(t, http.MethodPost, "/api/v1/verify", req)

	assert.Equal(t, http.StatusOK, code)
	var result schemas.VerificationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Verified)
}

func TestHandleGetSession(t *testing.T) {
	f := setupHandlers(t)
	sess := &session.Session{ID: "sess-1", Goal: "Buy milk", Status: schemas.StatusPaused, Progress: 40}
	f.tracker.On("Get", mock.Anything, "sess-1").Return(sess, nil).Once()
	f.tracker.On("Logs", mock.Anything, "sess-1", 5).Return([]session.LogEntry{
		{ID: 1, SessionID: "sess-1", Level: session.LevelInfo, Message: "Session paused", CreatedAt: time.Now()},
	}, nil).Once()

	code, _, data := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1?logs=5", nil)

	assert.Equal(t, http.StatusOK, code)
	var view SessionView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.True(t, view.Resumable)
	assert.Equal(t, 40, view.Session.Progress)
	require.Len(t, view.Logs, 1)
	assert.Equal(t, "Session paused", view.Logs[0].Message)
}

func TestHandleGetSession_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		f := setupHandlers(t)
		f.tracker.On("Get", mock.Anything, "missing").Return(nil, fmt.Errorf("get session missing: %w", session.ErrSessionNotFound)).Once()

		code, resp, _ := f.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "error", resp.Status)
	})

	t.Run("bad log limit", func(t *testing.T) {
		f := setupHandlers(t)
		code, resp, _ := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1?logs=many", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, resp.Error, "non-negative integer")
	})

	t.Run("logs disabled", func(t *testing.T) {
		f := setupHandlers(t)
		f.tracker.On("Get", mock.Anything, "sess-1").Return(&session.Session{ID: "sess-1", Status: schemas.StatusRunning}, nil).Once()

		code, _, data := f.do(t, http.MethodGet, "/api/v1/sessions/sess-1?logs=0", nil)
		assert.Equal(t, http.StatusOK, code)
		var view SessionView
		require.NoError(t, json.Unmarshal(data, &view))
		assert.False(t, view.Resumable)
		assert.Empty(t, view.Logs)
	})
}

func TestSessionControls(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status schemas.SessionStatus
		err    error
		code   int
	}{
		{"pause", "Pause", "/api/v1/sessions/sess-1/pause", schemas.StatusPaused, nil, http.StatusOK},
		{"resume", "Resume", "/api/v1/sessions/sess-1/resume", schemas.StatusRunning, nil, http.StatusOK},
		{"cancel", "Cancel", "/api/v1/sessions/sess-1/cancel", schemas.StatusCancelled, nil, http.StatusOK},
		{"terminal session", "Resume", "/api/v1/sessions/sess-1/resume", "", fmt.Errorf("success -> running: %w", session.ErrInvalidTransition), http.StatusConflict},
		{"lost race", "Pause", "/api/v1/sessions/sess-1/pause", "", session.ErrStatusConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupHandlers(t)
			if tt.err != nil {
				f.tracker.On(tt.method, mock.Anything, "sess-1").Return(nil, tt.err).Once()
			} else {
				f.tracker.On(tt.method, mock.Anything, "sess-1").Return(&session.Session{ID: "sess-1", Status: tt.status}, nil).Once()
			}

			code, _, data := f.do(t, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.code, code)
			if tt.err == nil {
				var view SessionView
				require.NoError(t, json.Unmarshal(data, &view))
				assert.Equal(t, tt.status, view.Session.Status)
				assert.Equal(t, tt.status == schemas.StatusPaused, view.Resumable)
			}
		})
	}
}

func TestRouterEndpoints(t *testing.T) {
	recs := []router.Recommendation{
		{TaskType: "execution", CurrentPrimary: "a/old", RecommendedPrimary: "b/new", Reason: "cheaper"},
		{TaskType: "vision", CurrentPrimary: "c/same", RecommendedPrimary: "c/same"},
	}

	t.Run("check", func(t *testing.T) {
		f := setupHandlers(t)
		f.optimizer.On("Check", mock.Anything).Return(recs, nil).Once()

		code, _, data := f.do(t, http.MethodGet, "/api/v1/router/check", nil)
		assert.Equal(t, http.StatusOK, code)
		var view RouterView
		require.NoError(t, json.Unmarshal(data, &view))
		assert.Len(t, view.Recommendations, 2)
		assert.Equal(t, 1, view.Changed)
	})

	t.Run("optimize", func(t *testing.T) {
		f := setupHandlers(t)
		f.optimizer.On("Optimize", mock.Anything).Return(nil, nil).Once()

		code, _, data := f.do(t, http.MethodPost, "/api/v1/router/optimize", nil)
		assert.Equal(t, http.StatusOK, code)
		var view RouterView
		require.NoError(t, json.Unmarshal(data, &view))
		assert.NotNil(t, view.Recommendations)
		assert.Empty(t, view.Recommendations)
	})

	t.Run("audit failure", func(t *testing.T) {
		f := setupHandlers(t)
		f.optimizer.On("Optimize", mock.Anything).Return(nil, fmt.Errorf("save task config: connection reset")).Once()

		code, resp, _ := f.do(t, http.MethodPost, "/api/v1/router/optimize", nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Contains(t, resp.Error, "connection reset")
	})
}

func TestCatalogEndpoints(t *testing.T) {
	fetched := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	snap := catalog.NewSnapshot(4, fetched, []catalog.Entry{
		{ID: "b/model", PricingInput: 1, PricingOutput: 2, ContextLength: 128000},
		{ID: "a/model", PricingInput: 3, PricingOutput: 4, ContextLength: 32000},
	})

	t.Run("current", func(t *testing.T) {
		f := setupHandlers(t)
		f.catalog.On("Current").Return(snap).Once()

		code, _, data := f.do(t, http.MethodGet, "/api/v1/catalog", nil)
		assert.Equal(t, http.StatusOK, code)
		var view CatalogView
		require.NoError(t, json.Unmarshal(data, &view))
		assert.Equal(t, uint64(4), view.Version)
		assert.Equal(t, 2, view.Count)
		assert.True(t, fetched.Equal(view.FetchedAt))
		assert.Equal(t, "a/model", view.Models[0].ID)
	})

	t.Run("empty catalog", func(t *testing.T) {
		f := setupHandlers(t)
		f.catalog.On("Current").Return(catalog.NewSnapshot(0, time.Time{}, nil)).Once()

		code, _, data := f.do(t, http.MethodGet, "/api/v1/catalog", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(data), `"models":[]`)
	})

	t.Run("refresh failure keeps old snapshot", func(t *testing.T) {
		f := setupHandlers(t)
		f.catalog.On("Refresh", mock.Anything).Return(nil, catalog.ErrEmptyCatalog).Once()

		code, resp, _ := f.do(t, http.MethodPost, "/api/v1/catalog/refresh", nil)
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Equal(t, catalog.ErrEmptyCatalog.Error(), resp.Error)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", agent.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", session.ErrSessionNotFound), http.StatusNotFound},
		{router.ErrConfigNotFound, http.StatusNotFound},
		{session.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("vision: %w", llmclient.ErrNoEligibleModel), http.StatusBadGateway},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondWithFailure_LogsServerErrors(t *testing.T) {
	h := NewHandlers(zap.NewNop(), nil, nil, nil, nil, nil)
	rr := httptest.NewRecorder()
	h.respondWithFailure(rr, "decide", fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"error","error":"boom"}`, rr.Body.String())
}
