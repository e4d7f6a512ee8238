// File: internal/router/optimize.go
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
)

// ConfigStore persists TaskModelConfig records.
type ConfigStore interface {
	ListTaskConfigs(ctx context.Context) ([]TaskModelConfig, error)
	GetTaskConfig(ctx context.Context, taskType string) (TaskModelConfig, error)
	SaveTaskConfig(ctx context.Context, cfg TaskModelConfig) error
}

// SnapshotSource exposes the current catalog snapshot.
type SnapshotSource interface {
	Current() *catalog.Snapshot
}

// Recommendation describes the routing outcome for one task class.
type Recommendation struct {
	TaskType            string  `json:"task_type"`
	CurrentPrimary      string  `json:"current_primary"`
	CurrentFallback     string  `json:"current_fallback"`
	RecommendedPrimary  string  `json:"recommended_primary"`
	RecommendedFallback string  `json:"recommended_fallback"`
	CurrentPrice        float64 `json:"current_price_per_million"`
	RecommendedPrice    float64 `json:"recommended_price_per_million"`
	SavingsPercent      float64 `json:"savings_percent"`
	Savings             string  `json:"savings"`
	Reason              string  `json:"reason"`
	Updated             bool    `json:"updated"`
}

// Changed reports whether the recommendation differs from the stored config.
func (r Recommendation) Changed() bool {
	return r.RecommendedPrimary != "" &&
		(r.RecommendedPrimary != r.CurrentPrimary || r.RecommendedFallback != r.CurrentFallback)
}

// Optimizer compares stored task configs against the current catalog and,
// when asked, writes the router's choice back.
type Optimizer struct {
	router  *Router
	configs ConfigStore
	catalog SnapshotSource
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewOptimizer wires an optimizer. metrics may be nil.
func NewOptimizer(r *Router, configs ConfigStore, snapshots SnapshotSource, logger *zap.Logger, metrics *observability.Metrics) *Optimizer {
	return &Optimizer{
		router:  r,
		configs: configs,
		catalog: snapshots,
		logger:  logger.Named("router_optimizer"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Check reports recommendations without writing anything.
func (o *Optimizer) Check(ctx context.Context) ([]Recommendation, error) {
	return o.run(ctx, false)
}

// Optimize applies every recommendation that differs from the stored
// selection. Calling it twice against the same snapshot is a no-op the second
// time.
func (o *Optimizer) Optimize(ctx context.Context) ([]Recommendation, error) {
	return o.run(ctx, true)
}

func (o *Optimizer) run(ctx context.Context, apply bool) ([]Recommendation, error) {
	configs, err := o.configs.ListTaskConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list task configs: %w", err)
	}
	snap := o.catalog.Current()

	recs := make([]Recommendation, 0, len(configs))
	var errs []error
	for _, cfg := range configs {
		if !cfg.AutoUpdate || !cfg.Provider.UsesCatalog() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return recs, err
		}

		sel := o.router.Select(cfg.TaskType, snap, cfg)
		rec := recommend(cfg, sel, snap)

		if apply {
			if rec.Changed() {
				cfg.PrimaryModel = rec.RecommendedPrimary
				cfg.FallbackModel = rec.RecommendedFallback
			}
			cfg.LastCheckedAt = o.now().UTC()
			if err := o.configs.SaveTaskConfig(ctx, cfg); err != nil {
				errs = append(errs, fmt.Errorf("task %s: %w", cfg.TaskType, err))
				recs = append(recs, rec)
				continue
			}
			if rec.Changed() {
				rec.Updated = true
				o.metrics.IncRouterUpdate(cfg.TaskType)
				o.logger.Info("Updated task model selection",
					zap.String("task_type", cfg.TaskType),
					zap.String("primary", rec.RecommendedPrimary),
					zap.String("fallback", rec.RecommendedFallback),
					zap.String("savings", rec.Savings))
			}
		}
		recs = append(recs, rec)
	}

	o.logger.Debug("Router pass complete",
		zap.Bool("apply", apply),
		zap.Int("task_types", len(recs)),
		zap.Uint64("catalog_version", snap.Version()))
	return recs, errors.Join(errs...)
}

func recommend(cfg TaskModelConfig, sel Selection, snap *catalog.Snapshot) Recommendation {
	rec := Recommendation{
		TaskType:        cfg.TaskType,
		CurrentPrimary:  cfg.PrimaryModel,
		CurrentFallback: cfg.FallbackModel,
		Savings:         "0.0%",
	}
	if sel.Empty() {
		rec.Reason = "no eligible model"
		return rec
	}

	rec.RecommendedPrimary = sel.PrimaryID()
	rec.RecommendedFallback = sel.FallbackID()
	rec.RecommendedPrice = sel.Primary.CombinedPrice()

	current, known := snap.Lookup(cfg.PrimaryModel)
	if known {
		rec.CurrentPrice = current.CombinedPrice()
		if rec.CurrentPrice > 0 {
			rec.SavingsPercent = (rec.CurrentPrice - rec.RecommendedPrice) / rec.CurrentPrice * 100
		}
	}
	rec.Savings = fmt.Sprintf("%.1f%%", rec.SavingsPercent)

	switch {
	case !rec.Changed():
		rec.Reason = "current selection is optimal"
	case cfg.PrimaryModel == "":
		rec.Reason = "no model configured"
	case !known:
		rec.Reason = "current model not in catalog"
	case rec.SavingsPercent > 0:
		rec.Reason = "cheaper qualifying model available"
	default:
		rec.Reason = "selection changed"
	}
	return rec
}

// Seed writes each config that the store does not already hold. Persisted
// configs win over seeds so optimizer updates survive restarts.
func Seed(ctx context.Context, store ConfigStore, seeds []TaskModelConfig) error {
	for _, cfg := range seeds {
		_, err := store.GetTaskConfig(ctx, cfg.TaskType)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrConfigNotFound) {
			return fmt.Errorf("failed to read task config %s: %w", cfg.TaskType, err)
		}
		if err := store.SaveTaskConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to seed task config %s: %w", cfg.TaskType, err)
		}
	}
	return nil
}
