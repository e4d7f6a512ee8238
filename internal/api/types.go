// File: internal/api/types.go
package api

import (
	"context"
	"time"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status string      `json:"status"` // "success", "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// DecisionEngine drives the decision loop.
type DecisionEngine interface {
	Start(ctx context.Context, task schemas.TaskDescriptor) (*schemas.StartResult, error)
	Decide(ctx context.Context, state schemas.SessionState) (*schemas.AgentResponse, error)
	Report(ctx context.Context, outcome schemas.ActionOutcome) (*schemas.AgentResponse, error)
}

// Verifier scores verification requests.
type Verifier interface {
	Verify(ctx context.Context, req schemas.VerificationRequest) (*schemas.VerificationResult, error)
}

// SessionTracker exposes the operator controls for a session.
type SessionTracker interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Pause(ctx context.Context, id string) (*session.Session, error)
	Resume(ctx context.Context, id string) (*session.Session, error)
	Cancel(ctx context.Context, id string) (*session.Session, error)
	Logs(ctx context.Context, id string, limit int) ([]session.LogEntry, error)
}

// RoutingOptimizer compares and rewrites task model configs.
type RoutingOptimizer interface {
	Check(ctx context.Context) ([]router.Recommendation, error)
	Optimize(ctx context.Context) ([]router.Recommendation, error)
}

// CatalogSource serves and refreshes the model catalog.
type CatalogSource interface {
	Current() *catalog.Snapshot
	Refresh(ctx context.Context) (*catalog.Snapshot, error)
}

// SessionView is the session detail payload.
type SessionView struct {
	Session   *session.Session   `json:"session"`
	Resumable bool               `json:"resumable"`
	Logs      []session.LogEntry `json:"logs,omitempty"`
}

// CatalogView is the catalog payload.
type CatalogView struct {
	Version   uint64          `json:"version"`
	FetchedAt time.Time       `json:"fetched_at"`
	Count     int             `json:"count"`
	Models    []catalog.Entry `json:"models"`
}

// RouterView wraps a set of routing recommendations.
type RouterView struct {
	Recommendations []router.Recommendation `json:"recommendations"`
	Changed         int                     `json:"changed"`
}

func newCatalogView(snap *catalog.Snapshot) CatalogView {
	models := snap.Entries()
	if models == nil {
		models = []catalog.Entry{}
	}
	return CatalogView{
		Version:   snap.Version(),
		FetchedAt: snap.FetchedAt(),
		Count:     snap.Len(),
		Models:    models,
	}
}

func newRouterView(recs []router.Recommendation) RouterView {
	view := RouterView{Recommendations: recs}
	if view.Recommendations == nil {
		view.Recommendations = []router.Recommendation{}
	}
	for _, r := range recs {
		if r.Changed() {
			view.Changed++
		}
	}
	return view
}
