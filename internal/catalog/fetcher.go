// File: internal/catalog/fetcher.go
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/config"
)

// Fetcher pulls the model list from an OpenRouter-compatible /models endpoint.
type Fetcher struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	// backoffFactory is swapped in tests to avoid real sleeps.
	backoffFactory func() backoff.BackOff
}

// NewFetcher creates a fetcher for cfg.BaseURL. apiKey may be empty; the
// public catalog does not require authentication.
func NewFetcher(cfg config.CatalogConfig, apiKey string, logger *zap.Logger) *Fetcher {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}

	return &Fetcher{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/models",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("catalog_fetcher"),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

// Fetch downloads and parses the catalog, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create catalog request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if f.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+f.apiKey)
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			f.logger.Warn("Network error fetching model catalog, retrying...", zap.Error(err))
			return fmt.Errorf("failed to fetch catalog: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read catalog body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return f.classifyStatus(resp.StatusCode, body)
		}

		parsed, skipped, err := ParseModels(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if skipped > 0 {
			f.logger.Debug("Skipped unpriceable catalog entries", zap.Int("count", skipped))
		}
		entries = parsed
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(f.backoffFactory(), ctx)); err != nil {
		return nil, err
	}

	f.logger.Info("Fetched model catalog", zap.Int("models", len(entries)))
	return entries, nil
}

func (f *Fetcher) classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("catalog endpoint returned status %d: %s", status, truncate(string(body), 300))
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		f.logger.Warn("Transient catalog error, retrying...", zap.Int("status", status))
		return err
	default:
		return backoff.Permanent(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
