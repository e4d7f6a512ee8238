// File: internal/store/routing.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/router"
)

const sqlSelectTaskConfigs = `
        SELECT task_type, primary_model, fallback_model, max_price_per_million_input,
               required_capabilities, auto_update, provider, max_tokens, temperature,
               cost_per_1k, last_checked_at
        FROM task_model_configs
    `

var modelCacheColumns = []string{"model_id", "pricing_input", "pricing_output", "context_length", "capabilities", "is_free", "fetched_at"}

// ListTaskConfigs returns every task config ordered by task type.
func (s *Store) ListTaskConfigs(ctx context.Context) ([]router.TaskModelConfig, error) {
	rows, err := s.pool.Query(ctx, sqlSelectTaskConfigs+` ORDER BY task_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query task configs: %w", err)
	}
	defer rows.Close()

	var out []router.TaskModelConfig
	for rows.Next() {
		cfg, err := scanTaskConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// GetTaskConfig loads the config for one task type.
func (s *Store) GetTaskConfig(ctx context.Context, taskType string) (router.TaskModelConfig, error) {
	cfg, err := scanTaskConfig(s.pool.QueryRow(ctx, sqlSelectTaskConfigs+` WHERE task_type = $1`, taskType))
	if errors.Is(err, pgx.ErrNoRows) {
		return router.TaskModelConfig{}, fmt.Errorf("%w: %s", router.ErrConfigNotFound, taskType)
	}
	return cfg, err
}

// SaveTaskConfig upserts a task config.
func (s *Store) SaveTaskConfig(ctx context.Context, cfg router.TaskModelConfig) error {
	var lastChecked *time.Time
	if !cfg.LastCheckedAt.IsZero() {
		t := cfg.LastCheckedAt.UTC()
		lastChecked = &t
	}
	caps := cfg.RequiredCapabilities.Strings()
	if caps == nil {
		caps = []string{}
	}

	_, err := s.pool.Exec(ctx, `
        INSERT INTO task_model_configs (task_type, primary_model, fallback_model, max_price_per_million_input,
            required_capabilities, auto_update, provider, max_tokens, temperature, cost_per_1k, last_checked_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (task_type) DO UPDATE SET
            primary_model = EXCLUDED.primary_model,
            fallback_model = EXCLUDED.fallback_model,
            max_price_per_million_input = EXCLUDED.max_price_per_million_input,
            required_capabilities = EXCLUDED.required_capabilities,
            auto_update = EXCLUDED.auto_update,
            provider = EXCLUDED.provider,
            max_tokens = EXCLUDED.max_tokens,
            temperature = EXCLUDED.temperature,
            cost_per_1k = EXCLUDED.cost_per_1k,
            last_checked_at = EXCLUDED.last_checked_at
    `,
		cfg.TaskType, cfg.PrimaryModel, cfg.FallbackModel, cfg.MaxPricePerMillionInput,
		caps, cfg.AutoUpdate, string(cfg.Provider), cfg.MaxTokens, cfg.Temperature,
		cfg.CostPer1K, lastChecked,
	)
	if err != nil {
		return fmt.Errorf("failed to save task config %s: %w", cfg.TaskType, err)
	}
	return nil
}

func scanTaskConfig(row pgx.Row) (router.TaskModelConfig, error) {
	var (
		cfg         router.TaskModelConfig
		caps        []string
		provider    string
		lastChecked *time.Time
	)
	err := row.Scan(
		&cfg.TaskType, &cfg.PrimaryModel, &cfg.FallbackModel, &cfg.MaxPricePerMillionInput,
		&caps, &cfg.AutoUpdate, &provider, &cfg.MaxTokens, &cfg.Temperature,
		&cfg.CostPer1K, &lastChecked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cfg, err
		}
		return cfg, fmt.Errorf("failed to scan task config: %w", err)
	}
	cfg.RequiredCapabilities = catalog.ParseCapabilities(caps)
	cfg.Provider = router.Provider(provider)
	if lastChecked != nil {
		cfg.LastCheckedAt = lastChecked.UTC()
	}
	return cfg, nil
}

// SaveModelCache replaces the cached catalog in one transaction.
func (s *Store) SaveModelCache(ctx context.Context, entries []catalog.Entry, fetchedAt time.Time) error {
	rows := make([][]interface{}, len(entries))
	for i, e := range entries {
		caps := e.Capabilities.Strings()
		if caps == nil {
			caps = []string{}
		}
		rows[i] = []interface{}{e.ID, e.PricingInput, e.PricingOutput, e.ContextLength, caps, e.IsFree, fetchedAt.UTC()}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM model_cache`); err != nil {
			return fmt.Errorf("failed to clear model cache: %w", err)
		}
		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"model_cache"}, modelCacheColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy model cache: %w", err)
		}
		if int(copyCount) != len(entries) {
			return fmt.Errorf("mismatch in copied model count: expected %d, got %d", len(entries), copyCount)
		}
		return nil
	})
}

// LoadModelCache returns the cached catalog and when it was fetched.
func (s *Store) LoadModelCache(ctx context.Context) ([]catalog.Entry, time.Time, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT model_id, pricing_input, pricing_output, context_length, capabilities, is_free, fetched_at
        FROM model_cache
        ORDER BY model_id
    `)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query model cache: %w", err)
	}
	defer rows.Close()

	var (
		entries []catalog.Entry
		latest  time.Time
	)
	for rows.Next() {
		var (
			e         catalog.Entry
			caps      []string
			fetchedAt time.Time
		)
		if err := rows.Scan(&e.ID, &e.PricingInput, &e.PricingOutput, &e.ContextLength, &caps, &e.IsFree, &fetchedAt); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan model cache row: %w", err)
		}
		e.Capabilities = catalog.ParseCapabilities(caps)
		if fetchedAt.After(latest) {
			latest = fetchedAt
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, latest.UTC(), nil
}
