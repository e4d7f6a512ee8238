// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/agent"
	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
	maxBodyBytes    = 16 << 20 // screenshots travel inline
)

// Handlers serves the decision engine over HTTP.
type Handlers struct {
	log       *zap.Logger
	engine    DecisionEngine
	verifier  Verifier
	sessions  SessionTracker
	optimizer RoutingOptimizer
	catalog   CatalogSource
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, engine DecisionEngine, verifier Verifier, sessions SessionTracker, optimizer RoutingOptimizer, catalog CatalogSource) *Handlers {
	return &Handlers{
		log:       logger.Named("api_handlers"),
		engine:    engine,
		verifier:  verifier,
		sessions:  sessions,
		optimizer: optimizer,
		catalog:   catalog,
	}
}

// RegisterRoutes sets up the routing for the API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions/start", h.HandleStart)
		r.Get("/sessions/{sessionID}", h.HandleGetSession)
		r.Post("/sessions/{sessionID}/pause", h.handleControl(h.sessions.Pause))
		r.Post("/sessions/{sessionID}/resume", h.handleControl(h.sessions.Resume))
		r.Post("/sessions/{sessionID}/cancel", h.handleControl(h.sessions.Cancel))

		r.Post("/decide", h.HandleDecide)
		r.Post("/report", h.HandleReport)
		r.Post("/verify", h.HandleVerify)

		r.Get("/router/check", h.HandleRouterCheck)
		r.Post("/router/optimize", h.HandleRouterOptimize)

		r.Get("/catalog", h.HandleCatalog)
		r.Post("/catalog/refresh", h.HandleCatalogRefresh)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleStart creates a session from a task descriptor and returns the first action.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var task schemas.TaskDescriptor
	if !h.decode(w, r, &task) {
		return
	}
	result, err := h.engine.Start(r.Context(), task)
	if err != nil {
		h.respondWithFailure(w, "start session", err)
		return
	}
	h.respondWithSuccess(w, http.StatusCreated, result)
}

// HandleDecide runs one decision iteration.
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var state schemas.SessionState
	if !h.decode(w, r, &state) {
		return
	}
	resp, err := h.engine.Decide(r.Context(), state)
	if err != nil {
		h.respondWithFailure(w, "decide", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, resp)
}

// HandleReport records an action outcome and returns the next decision.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	var outcome schemas.ActionOutcome
	if !h.decode(w, r, &outcome) {
		return
	}
	resp, err := h.engine.Report(r.Context(), outcome)
	if err != nil {
		h.respondWithFailure(w, "report", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, resp)
}

// HandleVerify scores a verification request on its own.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req schemas.VerificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.verifier.Verify(r.Context(), req)
	if err != nil {
		h.respondWithFailure(w, "verify", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, result)
}

// HandleGetSession returns the session record with its most recent logs.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	limit, err := parseLimit(r.URL.Query().Get("logs"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.respondWithFailure(w, "get session", err)
		return
	}
	view := SessionView{Session: sess, Resumable: sess.Resumable()}
	if limit > 0 {
		logs, err := h.sessions.Logs(r.Context(), id, limit)
		if err != nil {
			h.respondWithFailure(w, "list session logs", err)
			return
		}
		view.Logs = logs
	}
	h.respondWithSuccess(w, http.StatusOK, view)
}

// handleControl adapts a tracker transition to a handler.
func (h *Handlers) handleControl(move func(ctx context.Context, id string) (*session.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		sess, err := move(r.Context(), id)
		if err != nil {
			h.respondWithFailure(w, "change session status", err)
			return
		}
		h.log.Info("Session status changed by operator",
			zap.String("session_id", id),
			zap.String("status", string(sess.Status)))
		h.respondWithSuccess(w, http.StatusOK, SessionView{Session: sess, Resumable: sess.Resumable()})
	}
}

// HandleRouterCheck reports recommendations without writing them.
func (h *Handlers) HandleRouterCheck(w http.ResponseWriter, r *http.Request) {
	recs, err := h.optimizer.Check(r.Context())
	if err != nil {
		h.respondWithFailure(w, "router check", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, newRouterView(recs))
}

// HandleRouterOptimize applies recommendations to auto-updating task classes.
func (h *Handlers) HandleRouterOptimize(w http.ResponseWriter, r *http.Request) {
	recs, err := h.optimizer.Optimize(r.Context())
	if err != nil {
		h.respondWithFailure(w, "router optimize", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, newRouterView(recs))
}

// HandleCatalog returns the current catalog snapshot.
func (h *Handlers) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, newCatalogView(h.catalog.Current()))
}

// HandleCatalogRefresh fetches the catalog now instead of waiting for the next poll.
func (h *Handlers) HandleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.catalog.Refresh(r.Context())
	if err != nil {
		h.respondWithFailure(w, "catalog refresh", err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, newCatalogView(snap))
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLogLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("logs must be a non-negative integer, got %q", raw)
	}
	if n > maxLogLimit {
		n = maxLogLimit
	}
	return n, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, router.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, llmclient.ErrNoEligibleModel), errors.Is(err, llmclient.ErrModelUnavailable),
		errors.Is(err, catalog.ErrEmptyCatalog):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithFailure logs err and answers with the mapped status.
func (h *Handlers) respondWithFailure(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("Request failed", zap.String("operation", op), zap.Error(err))
	} else {
		h.log.Debug("Request rejected", zap.String("operation", op), zap.Int("status", code), zap.Error(err))
	}
	h.respondWithError(w, code, err.Error())
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithStatus(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, Response{Status: "success", Data: data})
}

// respondWithStatus writes the envelope.
func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
