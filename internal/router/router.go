// File: internal/router/router.go
package router

import (
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/config"
)

// ErrConfigNotFound is returned by a ConfigStore for an unknown task type.
var ErrConfigNotFound = errors.New("task model config not found")

// Provider selects the backend a task class talks to.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderLocal      Provider = "local"
	ProviderGemini     Provider = "gemini"
	// ProviderRuleBased runs the task class without any model.
	ProviderRuleBased Provider = "rule_based"
)

// UsesCatalog reports whether models for p come from the priced catalog.
func (p Provider) UsesCatalog() bool {
	return p == "" || p == ProviderOpenRouter
}

// TaskModelConfig is the routing configuration for one task class.
type TaskModelConfig struct {
	TaskType                string                `json:"task_type"`
	PrimaryModel            string                `json:"primary_model,omitempty"`
	FallbackModel           string                `json:"fallback_model,omitempty"`
	MaxPricePerMillionInput *float64              `json:"max_price_per_million_input,omitempty"`
	RequiredCapabilities    catalog.CapabilitySet `json:"required_capabilities"`
	AutoUpdate              bool                  `json:"auto_update"`
	Provider                Provider              `json:"provider"`
	MaxTokens               int                   `json:"max_tokens"`
	Temperature             float64               `json:"temperature"`
	CostPer1K               float64               `json:"cost_per_1k,omitempty"`
	LastCheckedAt           time.Time             `json:"last_checked_at,omitempty"`
}

// ConfigsFromSettings builds seed configs from the router section of the
// application config, ordered by task type.
func ConfigsFromSettings(cfg config.RouterConfig) []TaskModelConfig {
	out := make([]TaskModelConfig, 0, len(cfg.Tasks))
	for name, t := range cfg.Tasks {
		provider := Provider(strings.ToLower(t.Provider))
		if provider == "" {
			provider = ProviderOpenRouter
		}
		out = append(out, TaskModelConfig{
			TaskType:                name,
			PrimaryModel:            t.PrimaryModel,
			FallbackModel:           t.FallbackModel,
			MaxPricePerMillionInput: t.MaxPricePerMillionInput,
			RequiredCapabilities:    catalog.ParseCapabilities(t.RequiredCapabilities),
			AutoUpdate:              t.AutoUpdate,
			Provider:                provider,
			MaxTokens:               t.MaxTokens,
			Temperature:             t.Temperature,
			CostPer1K:               t.CostPer1K,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}

// ReliabilityPolicy decides whether a model may be chosen as primary.
type ReliabilityPolicy interface {
	Reliable(e catalog.Entry) bool
}

// ThresholdPolicy trusts models priced above MinInputPrice, plus any model
// whose id contains an AllowList entry.
type ThresholdPolicy struct {
	MinInputPrice float64
	AllowList     []string
}

// NewThresholdPolicy builds the default policy from configuration.
func NewThresholdPolicy(cfg config.ReliabilityConfig) ThresholdPolicy {
	allow := make([]string, 0, len(cfg.AllowList))
	for _, a := range cfg.AllowList {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			allow = append(allow, a)
		}
	}
	return ThresholdPolicy{MinInputPrice: cfg.MinInputPrice, AllowList: allow}
}

func (p ThresholdPolicy) Reliable(e catalog.Entry) bool {
	if e.PricingInput > p.MinInputPrice {
		return true
	}
	id := strings.ToLower(e.ID)
	for _, fragment := range p.AllowList {
		if strings.Contains(id, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// Selection is the outcome of Select. Both fields are nil when no model
// satisfies the capability filter.
type Selection struct {
	Primary  *catalog.Entry
	Fallback *catalog.Entry
}

// Empty reports whether no eligible model was found.
func (s Selection) Empty() bool { return s.Primary == nil }

// PrimaryID returns the primary model id or "".
func (s Selection) PrimaryID() string {
	if s.Primary == nil {
		return ""
	}
	return s.Primary.ID
}

// FallbackID returns the fallback model id or "".
func (s Selection) FallbackID() string {
	if s.Fallback == nil {
		return ""
	}
	return s.Fallback.ID
}

// Router picks models for task classes from a catalog snapshot.
type Router struct {
	policy ReliabilityPolicy
	logger *zap.Logger
}

// New creates a router using policy.
func New(policy ReliabilityPolicy, logger *zap.Logger) *Router {
	return &Router{policy: policy, logger: logger.Named("model_router")}
}

// Select returns the primary and fallback model for a task class. The result
// depends only on snap, cfg and the policy.
func (r *Router) Select(taskType string, snap *catalog.Snapshot, cfg TaskModelConfig) Selection {
	candidates := Candidates(snap, cfg)
	if len(candidates) == 0 {
		r.logger.Debug("No eligible model",
			zap.String("task_type", taskType),
			zap.Strings("required_capabilities", cfg.RequiredCapabilities.Strings()))
		return Selection{}
	}

	var reliable []catalog.Entry
	for _, c := range candidates {
		if r.policy == nil || r.policy.Reliable(c) {
			reliable = append(reliable, c)
		}
	}

	pool := reliable
	if len(pool) == 0 {
		pool = candidates
	}

	primary := pool[0]
	sel := Selection{Primary: &primary}
	if len(pool) > 1 {
		fallback := pool[1]
		sel.Fallback = &fallback
	} else {
		// A lone reliable candidate still gets a fallback from the full list.
		for _, c := range candidates {
			if c.ID != primary.ID {
				fallback := c
				sel.Fallback = &fallback
				break
			}
		}
	}

	r.logger.Debug("Routing task class",
		zap.String("task_type", taskType),
		zap.String("primary", sel.PrimaryID()),
		zap.String("fallback", sel.FallbackID()),
		zap.Int("candidates", len(candidates)),
		zap.Int("reliable", len(reliable)),
		zap.Uint64("catalog_version", snap.Version()))
	return sel
}

// Candidates applies the capability and price filters and orders the result
// by combined price ascending, then context length descending, then id.
func Candidates(snap *catalog.Snapshot, cfg TaskModelConfig) []catalog.Entry {
	var out []catalog.Entry
	for _, e := range snap.Entries() {
		if !e.Capabilities.HasAll(cfg.RequiredCapabilities) {
			continue
		}
		if cfg.MaxPricePerMillionInput != nil && e.PricingInput > *cfg.MaxPricePerMillionInput {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].CombinedPrice(), out[j].CombinedPrice()
		if pi != pj {
			return pi < pj
		}
		if out[i].ContextLength != out[j].ContextLength {
			return out[i].ContextLength > out[j].ContextLength
		}
		return out[i].ID < out[j].ID
	})
	return out
}
