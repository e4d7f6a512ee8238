// File: internal/llmclient/client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
	"github.com/xkilldash9x/pilot-engine/internal/router"
)

const instrumentationName = "github.com/xkilldash9x/pilot-engine/internal/llmclient"

// Dependencies are the collaborators a Client needs. Usage, Metrics and
// Tracer are optional.
type Dependencies struct {
	Configs   router.ConfigStore
	Router    *router.Router
	Catalog   router.SnapshotSource
	Providers map[router.Provider]Provider
	Usage     UsageSink
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
}

// Client resolves a model for a task class, calls it with one fallback retry
// and records usage.
type Client struct {
	configs   router.ConfigStore
	router    *router.Router
	catalog   router.SnapshotSource
	providers map[router.Provider]Provider
	usage     UsageSink
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger

	timeout time.Duration
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient wires a completion client.
func NewClient(cfg config.CompletionConfig, deps Dependencies, logger *zap.Logger) (*Client, error) {
	if deps.Configs == nil || deps.Router == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("completion client requires a config store, router and catalog")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	c := &Client{
		configs:   deps.Configs,
		router:    deps.Router,
		catalog:   deps.Catalog,
		providers: deps.Providers,
		usage:     deps.Usage,
		metrics:   deps.Metrics,
		tracer:    tracer,
		logger:    logger.Named("llm_client"),
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
	if cfg.MaxConcurrency > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxConcurrency)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Complete runs one completion for taskType. Rule-based task classes return
// an empty completion without touching any backend.
func (c *Client) Complete(ctx context.Context, taskType string, messages []Message, opts ...Option) (*Completion, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := c.configs.GetTaskConfig(ctx, taskType)
	if err != nil {
		return nil, fmt.Errorf("failed to load config for task %s: %w", taskType, err)
	}

	if cfg.Provider == router.ProviderRuleBased {
		c.logger.Debug("Task class is rule based, skipping model call", zap.String("task_type", taskType))
		return &Completion{Provider: string(router.ProviderRuleBased)}, nil
	}

	providerName := cfg.Provider
	if providerName == "" {
		providerName = router.ProviderOpenRouter
	}
	provider, ok := c.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, providerName)
	}

	primary, fallback, err := c.resolveModels(taskType, cfg, provider, o)
	if err != nil {
		return nil, err
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	req := Request{Messages: messages, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}

	resp, latency, primaryErr := c.attempt(ctx, taskType, provider, primary, req)
	if primaryErr == nil {
		return c.finish(ctx, taskType, cfg, provider, primary, resp, latency, false), nil
	}
	if fallback == "" || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, primaryErr)
	}

	c.metrics.IncFallback(taskType)
	c.logger.Warn("Primary model failed, retrying with fallback",
		zap.String("task_type", taskType),
		zap.String("primary", primary),
		zap.String("fallback", fallback),
		zap.Error(primaryErr))

	resp, latency, fallbackErr := c.attempt(ctx, taskType, provider, fallback, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, errors.Join(primaryErr, fallbackErr))
	}
	return c.finish(ctx, taskType, cfg, provider, fallback, resp, latency, true), nil
}

// resolveModels applies override, then configured models, then live routing.
func (c *Client) resolveModels(taskType string, cfg router.TaskModelConfig, provider Provider, o callOptions) (string, string, error) {
	primary, fallback := cfg.PrimaryModel, cfg.FallbackModel

	if primary == "" && o.model == "" {
		if cfg.Provider.UsesCatalog() {
			sel := c.router.Select(taskType, c.catalog.Current(), cfg)
			if sel.Empty() {
				return "", "", fmt.Errorf("%w: %s", ErrNoEligibleModel, taskType)
			}
			primary = sel.PrimaryID()
			if fallback == "" {
				fallback = sel.FallbackID()
			}
		} else {
			primary = provider.DefaultModel()
			if primary == "" {
				return "", "", fmt.Errorf("%w: %s has no model for provider %s", ErrNoEligibleModel, taskType, provider.Name())
			}
		}
	}
	if o.model != "" {
		primary = o.model
	}
	if fallback == primary {
		fallback = ""
	}
	return primary, fallback, nil
}

func (c *Client) attempt(ctx context.Context, taskType string, provider Provider, model string, req Request) (*Response, time.Duration, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	ctx, span := c.tracer.Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.task_type", taskType),
			attribute.String("llm.provider", provider.Name()),
			attribute.String("llm.model", model)))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req.Model = model
	start := c.now()
	resp, err := provider.Complete(ctx, req)
	latency := c.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.ObserveCompletion(taskType, model, provider.Name(), "error", latency)
		return nil, latency, err
	}

	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens))
	c.metrics.ObserveCompletion(taskType, model, provider.Name(), "success", latency)
	return resp, latency, nil
}

func (c *Client) finish(ctx context.Context, taskType string, cfg router.TaskModelConfig, provider Provider, model string, resp *Response, latency time.Duration, fallbackUsed bool) *Completion {
	cost := float64(resp.InputTokens+resp.OutputTokens) / 1000 * c.costPer1K(cfg, model)

	out := &Completion{
		Text:     resp.Text,
		Model:    model,
		Provider: provider.Name(),
		Usage: Usage{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Cost:         cost,
		},
		Latency:      latency,
		FallbackUsed: fallbackUsed,
	}

	c.metrics.ObserveUsage(taskType, model, resp.InputTokens, resp.OutputTokens, cost)
	if c.usage != nil {
		rec := UsageRecord{
			TaskType:     taskType,
			Model:        model,
			Provider:     provider.Name(),
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Cost:         cost,
			LatencyMs:    latency.Milliseconds(),
			FallbackUsed: fallbackUsed,
			CreatedAt:    c.now().UTC(),
		}
		if err := c.usage.RecordUsage(ctx, rec); err != nil {
			c.logger.Warn("Failed to record usage", zap.String("task_type", taskType), zap.Error(err))
		}
	}
	return out
}

// costPer1K prefers the configured rate and otherwise derives one from the
// catalog. Models outside the catalog cost nothing.
func (c *Client) costPer1K(cfg router.TaskModelConfig, model string) float64 {
	if cfg.CostPer1K > 0 {
		return cfg.CostPer1K
	}
	if entry, ok := c.catalog.Current().Lookup(model); ok {
		return entry.CostPer1K()
	}
	return 0
}
