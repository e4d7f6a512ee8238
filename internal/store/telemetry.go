// File: internal/store/telemetry.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/verification"
)

var auditColumns = []string{"session_id", "action_index", "criterion_type", "criterion_value", "passed", "confidence", "detail", "created_at"}

// RecordUsage inserts one AI usage row.
func (s *Store) RecordUsage(ctx context.Context, rec llmclient.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO ai_usage (task_type, model, provider, input_tokens, output_tokens, cost, latency_ms, fallback_used, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, rec.TaskType, rec.Model, rec.Provider, rec.InputTokens, rec.OutputTokens, rec.Cost, rec.LatencyMs, rec.FallbackUsed, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}
	return nil
}

// RecordVerification bulk-inserts criterion results.
func (s *Store) RecordVerification(ctx context.Context, records []verification.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = []interface{}{
			r.SessionID, r.ActionIndex,
			string(r.Result.Type), r.Result.Value,
			r.Result.Passed, r.Result.Confidence, r.Result.Detail,
			r.CreatedAt.UTC(),
		}
	}

	copyCount, err := s.pool.CopyFrom(ctx, pgx.Identifier{"verification_audit"}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy verification audit: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied audit count: expected %d, got %d", len(records), copyCount)
	}
	return nil
}
