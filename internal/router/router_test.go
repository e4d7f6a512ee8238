// File: internal/router/router_test.go
package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
)

// -- Test Setup Helpers --

// visionCatalog is a small catalog where A is cheapest but lacks vision.
func visionCatalog() *catalog.Snapshot {
	vision := catalog.NewCapabilitySet(catalog.CapVision, catalog.CapStreaming)
	return catalog.NewSnapshot(1, time.Now(), []catalog.Entry{
		{ID: "vendor/model-a", PricingInput: 0.25, PricingOutput: 0.25, ContextLength: 32000, Capabilities: catalog.NewCapabilitySet(catalog.CapStreaming)},
		{ID: "vendor/model-b", PricingInput: 0.4, PricingOutput: 0.4, ContextLength: 100000, Capabilities: vision},
		{ID: "vendor/model-c", PricingInput: 0.45, PricingOutput: 0.45, ContextLength: 200000, Capabilities: vision},
	})
}

func ptr(f float64) *float64 { return &f }

func newTestRouter(policy ReliabilityPolicy) *Router {
	return New(policy, zap.NewNop())
}

// memoryConfigs is an in-process ConfigStore.
type memoryConfigs struct {
	mu      sync.Mutex
	configs map[string]TaskModelConfig
	saveErr error
	saves   int
}

func newMemoryConfigs(cfgs ...TaskModelConfig) *memoryConfigs {
	m := &memoryConfigs{configs: map[string]TaskModelConfig{}}
	for _, c := range cfgs {
		m.configs[c.TaskType] = c
	}
	return m
}

func (m *memoryConfigs) ListTaskConfigs(context.Context) ([]TaskModelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskModelConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out, nil
}

func (m *memoryConfigs) GetTaskConfig(_ context.Context, taskType string) (TaskModelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[taskType]
	if !ok {
		return TaskModelConfig{}, ErrConfigNotFound
	}
	return c, nil
}

func (m *memoryConfigs) SaveTaskConfig(_ context.Context, cfg TaskModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.configs[cfg.TaskType] = cfg
	return nil
}

type staticSnapshot struct{ snap *catalog.Snapshot }

func (s staticSnapshot) Current() *catalog.Snapshot { return s.snap }

// -- Test Cases --

func TestSelect_VisionTask(t *testing.T) {
	r := newTestRouter(ThresholdPolicy{MinInputPrice: 0.01})
	cfg := TaskModelConfig{
		TaskType:                "vision",
		RequiredCapabilities:    catalog.NewCapabilitySet(catalog.CapVision),
		MaxPricePerMillionInput: ptr(1.0),
	}

	sel := r.Select("vision", visionCatalog(), cfg)
	require.False(t, sel.Empty())
	assert.Equal(t, "vendor/model-b", sel.PrimaryID())
	assert.Equal(t, "vendor/model-c", sel.FallbackID())
}

func TestSelect_Filters(t *testing.T) {
	r := newTestRouter(ThresholdPolicy{MinInputPrice: 0.01})

	t.Run("should return nothing when no model has the capability", func(t *testing.T) {
		cfg := TaskModelConfig{RequiredCapabilities: catalog.NewCapabilitySet(catalog.CapEmbedding)}
		sel := r.Select("embed", visionCatalog(), cfg)
		assert.True(t, sel.Empty())
		assert.Nil(t, sel.Fallback)
		assert.Equal(t, "", sel.PrimaryID())
	})

	t.Run("should apply the input price ceiling", func(t *testing.T) {
		cfg := TaskModelConfig{MaxPricePerMillionInput: ptr(0.3)}
		sel := r.Select("execution", visionCatalog(), cfg)
		assert.Equal(t, "vendor/model-a", sel.PrimaryID())
		assert.Nil(t, sel.Fallback, "only one candidate survives the ceiling")
	})

	t.Run("should return nothing for an empty catalog", func(t *testing.T) {
		sel := r.Select("execution", catalog.NewSnapshot(0, time.Time{}, nil), TaskModelConfig{})
		assert.True(t, sel.Empty())
	})
}

func TestSelect_TieBreak(t *testing.T) {
	r := newTestRouter(nil)
	snap := catalog.NewSnapshot(1, time.Now(), []catalog.Entry{
		{ID: "z/short", PricingInput: 1, PricingOutput: 1, ContextLength: 8000},
		{ID: "y/long", PricingInput: 1, PricingOutput: 1, ContextLength: 128000},
		{ID: "x/long", PricingInput: 1, PricingOutput: 1, ContextLength: 128000},
	})

	sel := r.Select("execution", snap, TaskModelConfig{})
	assert.Equal(t, "x/long", sel.PrimaryID(), "equal price and context falls back to id order")
	assert.Equal(t, "y/long", sel.FallbackID())

	// The result is a pure function of its inputs.
	again := r.Select("execution", snap, TaskModelConfig{})
	assert.Equal(t, sel.PrimaryID(), again.PrimaryID())
	assert.Equal(t, sel.FallbackID(), again.FallbackID())
}

func TestSelect_Reliability(t *testing.T) {
	snap := catalog.NewSnapshot(1, time.Now(), []catalog.Entry{
		{ID: "free/tiny:free", ContextLength: 4000, IsFree: true},
		{ID: "cheap/small", PricingInput: 0.005, PricingOutput: 0.005, ContextLength: 8000},
		{ID: "solid/medium", PricingInput: 0.5, PricingOutput: 1.5, ContextLength: 64000},
	})

	t.Run("should skip unreliable models for primary", func(t *testing.T) {
		r := newTestRouter(ThresholdPolicy{MinInputPrice: 0.01})
		sel := r.Select("execution", snap, TaskModelConfig{})
		assert.Equal(t, "solid/medium", sel.PrimaryID())
		assert.Equal(t, "free/tiny:free", sel.FallbackID(), "fallback comes from the unfiltered list")
	})

	t.Run("should honour the allow list", func(t *testing.T) {
		r := newTestRouter(NewThresholdPolicy(config.ReliabilityConfig{MinInputPrice: 0.01, AllowList: []string{" CHEAP/ "}}))
		sel := r.Select("execution", snap, TaskModelConfig{})
		assert.Equal(t, "cheap/small", sel.PrimaryID())
		assert.Equal(t, "solid/medium", sel.FallbackID())
	})

	t.Run("should use the unfiltered list when nothing is reliable", func(t *testing.T) {
		r := newTestRouter(ThresholdPolicy{MinInputPrice: 100})
		sel := r.Select("execution", snap, TaskModelConfig{})
		assert.Equal(t, "free/tiny:free", sel.PrimaryID())
		assert.Equal(t, "cheap/small", sel.FallbackID())
	})
}

func TestConfigsFromSettings(t *testing.T) {
	cfg := config.NewDefaultConfig()
	seeds := ConfigsFromSettings(cfg.Router())

	require.Len(t, seeds, 3)
	assert.Equal(t, "bot_generation", seeds[0].TaskType)
	assert.Equal(t, "execution", seeds[1].TaskType)
	assert.Equal(t, "vision", seeds[2].TaskType)

	vision := seeds[2]
	assert.True(t, vision.RequiredCapabilities.Has(catalog.CapVision))
	assert.Equal(t, ProviderOpenRouter, vision.Provider)
	require.NotNil(t, vision.MaxPricePerMillionInput)
	assert.Equal(t, 5.0, *vision.MaxPricePerMillionInput)
}

func TestOptimizer(t *testing.T) {
	snap := visionCatalog()
	newStore := func() *memoryConfigs {
		return newMemoryConfigs(
			TaskModelConfig{
				TaskType:             "vision",
				PrimaryModel:         "vendor/model-c",
				RequiredCapabilities: catalog.NewCapabilitySet(catalog.CapVision),
				AutoUpdate:           true,
				Provider:             ProviderOpenRouter,
			},
			TaskModelConfig{TaskType: "bot_generation", PrimaryModel: "pinned/model", AutoUpdate: false},
			TaskModelConfig{TaskType: "offline", Provider: ProviderLocal, AutoUpdate: true},
		)
	}

	t.Run("check should not write anything", func(t *testing.T) {
		store := newStore()
		opt := NewOptimizer(newTestRouter(ThresholdPolicy{MinInputPrice: 0.01}), store, staticSnapshot{snap}, zap.NewNop(), nil)

		recs, err := opt.Check(context.Background())
		require.NoError(t, err)
		require.Len(t, recs, 1, "only auto-update catalog tasks are considered")

		rec := recs[0]
		assert.Equal(t, "vision", rec.TaskType)
		assert.Equal(t, "vendor/model-b", rec.RecommendedPrimary)
		assert.Equal(t, "vendor/model-c", rec.RecommendedFallback)
		assert.InDelta(t, 11.1, rec.SavingsPercent, 0.1)
		assert.Equal(t, "11.1%", rec.Savings)
		assert.Equal(t, "cheaper qualifying model available", rec.Reason)
		assert.False(t, rec.Updated)
		assert.Equal(t, 0, store.saves)
	})

	t.Run("optimize should apply once and then be idempotent", func(t *testing.T) {
		store := newStore()
		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)
		core, logs := observer.New(zap.InfoLevel)
		opt := NewOptimizer(newTestRouter(ThresholdPolicy{MinInputPrice: 0.01}), store, staticSnapshot{snap}, zap.New(core), metrics)
		first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		opt.now = func() time.Time { return first }

		recs, err := opt.Optimize(context.Background())
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.True(t, recs[0].Updated)
		assert.Equal(t, 1, logs.FilterMessage("Updated task model selection").Len())

		saved, err := store.GetTaskConfig(context.Background(), "vision")
		require.NoError(t, err)
		assert.Equal(t, "vendor/model-b", saved.PrimaryModel)
		assert.Equal(t, "vendor/model-c", saved.FallbackModel)
		assert.Equal(t, first, saved.LastCheckedAt)

		second := first.Add(time.Hour)
		opt.now = func() time.Time { return second }
		recs, err = opt.Optimize(context.Background())
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.False(t, recs[0].Updated)
		assert.Equal(t, "current selection is optimal", recs[0].Reason)

		saved, _ = store.GetTaskConfig(context.Background(), "vision")
		assert.Equal(t, second, saved.LastCheckedAt, "the check timestamp always advances")

		pinned, _ := store.GetTaskConfig(context.Background(), "bot_generation")
		assert.Equal(t, "pinned/model", pinned.PrimaryModel)
		assert.True(t, pinned.LastCheckedAt.IsZero())

		count, err := testutil.GatherAndCount(reg, "pilot_router_config_updates_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("should report tasks with no eligible model", func(t *testing.T) {
		store := newMemoryConfigs(TaskModelConfig{
			TaskType:             "embed",
			PrimaryModel:         "vendor/model-a",
			RequiredCapabilities: catalog.NewCapabilitySet(catalog.CapEmbedding),
			AutoUpdate:           true,
		})
		opt := NewOptimizer(newTestRouter(nil), store, staticSnapshot{snap}, zap.NewNop(), nil)

		recs, err := opt.Optimize(context.Background())
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "no eligible model", recs[0].Reason)
		assert.False(t, recs[0].Updated)

		saved, _ := store.GetTaskConfig(context.Background(), "embed")
		assert.Equal(t, "vendor/model-a", saved.PrimaryModel, "config is left alone")
	})

	t.Run("should surface save failures", func(t *testing.T) {
		store := newStore()
		store.saveErr = errors.New("read-only")
		opt := NewOptimizer(newTestRouter(ThresholdPolicy{}), store, staticSnapshot{snap}, zap.NewNop(), nil)

		recs, err := opt.Optimize(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task vision")
		require.Len(t, recs, 1)
		assert.False(t, recs[0].Updated)
	})
}

func TestSeed(t *testing.T) {
	store := newMemoryConfigs(TaskModelConfig{TaskType: "execution", PrimaryModel: "persisted/model"})
	seeds := []TaskModelConfig{
		{TaskType: "execution", PrimaryModel: "seed/model"},
		{TaskType: "vision", PrimaryModel: "seed/vision"},
	}

	require.NoError(t, Seed(context.Background(), store, seeds))

	exec, _ := store.GetTaskConfig(context.Background(), "execution")
	assert.Equal(t, "persisted/model", exec.PrimaryModel)
	vision, err := store.GetTaskConfig(context.Background(), "vision")
	require.NoError(t, err)
	assert.Equal(t, "seed/vision", vision.PrimaryModel)
}
