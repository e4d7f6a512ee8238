// File: internal/llmclient/helper_test.go
package llmclient

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/router"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
	name  string
	model string
}

func (m *MockProvider) Name() string         { return m.name }
func (m *MockProvider) DefaultModel() string { return m.model }

// Complete mocks the Complete method.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

// recordingSink collects usage records.
type recordingSink struct {
	mu      sync.Mutex
	records []UsageRecord
	err     error
}

func (s *recordingSink) RecordUsage(_ context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

// configMap is an in-process router.ConfigStore.
type configMap map[string]router.TaskModelConfig

func (m configMap) ListTaskConfigs(context.Context) ([]router.TaskModelConfig, error) {
	out := make([]router.TaskModelConfig, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out, nil
}

func (m configMap) GetTaskConfig(_ context.Context, taskType string) (router.TaskModelConfig, error) {
	c, ok := m[taskType]
	if !ok {
		return router.TaskModelConfig{}, router.ErrConfigNotFound
	}
	return c, nil
}

func (m configMap) SaveTaskConfig(_ context.Context, cfg router.TaskModelConfig) error {
	m[cfg.TaskType] = cfg
	return nil
}

type staticSnapshot struct{ snap *catalog.Snapshot }

func (s staticSnapshot) Current() *catalog.Snapshot { return s.snap }

// testCatalog holds two vision models and one cheap text model.
func testCatalog() *catalog.Snapshot {
	vision := catalog.NewCapabilitySet(catalog.CapVision)
	return catalog.NewSnapshot(1, time.Now(), []catalog.Entry{
		{ID: "vendor/text", PricingInput: 0.1, PricingOutput: 0.1, ContextLength: 32000},
		{ID: "vendor/vision-b", PricingInput: 0.4, PricingOutput: 0.4, ContextLength: 100000, Capabilities: vision},
		{ID: "vendor/vision-c", PricingInput: 0.45, PricingOutput: 0.45, ContextLength: 200000, Capabilities: vision},
	})
}

type clientFixture struct {
	client  *Client
	hosted  *MockProvider
	local   *MockProvider
	sink    *recordingSink
	configs configMap
	logs    *observer.ObservedLogs
}

// setupClient wires a Client over mock providers.
func setupClient(t *testing.T, configs configMap) *clientFixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &clientFixture{
		hosted:  &MockProvider{name: "openrouter"},
		local:   &MockProvider{name: "local", model: "llama3.2"},
		sink:    &recordingSink{},
		configs: configs,
		logs:    logs,
	}
	client, err := NewClient(config.CompletionConfig{Timeout: time.Second, MaxConcurrency: 2}, Dependencies{
		Configs: configs,
		Router:  router.New(router.ThresholdPolicy{MinInputPrice: 0.01}, zap.NewNop()),
		Catalog: staticSnapshot{testCatalog()},
		Providers: map[router.Provider]Provider{
			router.ProviderOpenRouter: f.hosted,
			router.ProviderLocal:      f.local,
		},
		Usage: f.sink,
	}, zap.New(core))
	require.NoError(t, err)
	f.client = client
	return f
}
