// File: internal/llmclient/factory.go
package llmclient

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/config"
	"github.com/xkilldash9x/pilot-engine/internal/router"
)

// NewProviders builds every backend the configuration allows. The hosted
// gateway and the local server are always registered; Gemini only when a key
// is present.
func NewProviders(ctx context.Context, cfg config.ProvidersConfig, logger *zap.Logger) (map[router.Provider]Provider, error) {
	providers := make(map[router.Provider]Provider, 3)

	if cfg.OpenRouter.APIKey == "" {
		logger.Warn("OpenRouter API key is not set; hosted completions will be rejected")
	}
	openRouter, err := NewChatProvider(ChatProviderConfig{
		Name:    string(router.ProviderOpenRouter),
		BaseURL: cfg.OpenRouter.BaseURL,
		APIKey:  cfg.OpenRouter.APIKey,
		Headers: map[string]string{
			"HTTP-Referer": cfg.OpenRouter.Referer,
			"X-Title":      cfg.OpenRouter.Title,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	providers[router.ProviderOpenRouter] = openRouter

	local, err := NewChatProvider(ChatProviderConfig{
		Name:         string(router.ProviderLocal),
		BaseURL:      cfg.Local.BaseURL,
		DefaultModel: cfg.Local.Model,
	}, logger)
	if err != nil {
		return nil, err
	}
	providers[router.ProviderLocal] = local

	if cfg.Gemini.APIKey != "" {
		gemini, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, logger)
		if err != nil {
			return nil, err
		}
		providers[router.ProviderGemini] = gemini
	}
	return providers, nil
}
