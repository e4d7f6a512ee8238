// File: internal/store/schema.go
package store

// schemaStatements are applied in order by Migrate. Each one is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
        id           TEXT PRIMARY KEY,
        goal         TEXT NOT NULL DEFAULT '',
        task_type    TEXT NOT NULL DEFAULT '',
        status       TEXT NOT NULL,
        progress     INTEGER NOT NULL DEFAULT 0,
        start_url    TEXT NOT NULL DEFAULT '',
        current_url  TEXT NOT NULL DEFAULT '',
        last_error   TEXT NOT NULL DEFAULT '',
        metadata     JSONB NOT NULL DEFAULT '{}',
        created_at   TIMESTAMPTZ NOT NULL,
        updated_at   TIMESTAMPTZ NOT NULL,
        completed_at TIMESTAMPTZ
    )`,
	`CREATE TABLE IF NOT EXISTS session_logs (
        id         BIGSERIAL PRIMARY KEY,
        session_id TEXT NOT NULL,
        level      TEXT NOT NULL,
        message    TEXT NOT NULL,
        action     TEXT NOT NULL DEFAULT '',
        detail     JSONB NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS session_logs_session_idx ON session_logs (session_id, id)`,
	`CREATE TABLE IF NOT EXISTS verification_audit (
        id              BIGSERIAL PRIMARY KEY,
        session_id      TEXT NOT NULL,
        action_index    INTEGER NOT NULL,
        criterion_type  TEXT NOT NULL,
        criterion_value TEXT NOT NULL DEFAULT '',
        passed          BOOLEAN NOT NULL,
        confidence      DOUBLE PRECISION NOT NULL,
        detail          TEXT NOT NULL DEFAULT '',
        created_at      TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS verification_audit_session_idx ON verification_audit (session_id, action_index)`,
	`CREATE TABLE IF NOT EXISTS ai_usage (
        id            BIGSERIAL PRIMARY KEY,
        task_type     TEXT NOT NULL,
        model         TEXT NOT NULL,
        provider      TEXT NOT NULL,
        input_tokens  INTEGER NOT NULL,
        output_tokens INTEGER NOT NULL,
        cost          DOUBLE PRECISION NOT NULL,
        latency_ms    BIGINT NOT NULL,
        fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
        created_at    TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS task_model_configs (
        task_type                   TEXT PRIMARY KEY,
        primary_model               TEXT NOT NULL DEFAULT '',
        fallback_model              TEXT NOT NULL DEFAULT '',
        max_price_per_million_input DOUBLE PRECISION,
        required_capabilities       TEXT[] NOT NULL DEFAULT '{}',
        auto_update                 BOOLEAN NOT NULL DEFAULT TRUE,
        provider                    TEXT NOT NULL DEFAULT 'openrouter',
        max_tokens                  INTEGER NOT NULL DEFAULT 0,
        temperature                 DOUBLE PRECISION NOT NULL DEFAULT 0,
        cost_per_1k                 DOUBLE PRECISION NOT NULL DEFAULT 0,
        last_checked_at             TIMESTAMPTZ
    )`,
	`CREATE TABLE IF NOT EXISTS model_cache (
        model_id       TEXT PRIMARY KEY,
        pricing_input  DOUBLE PRECISION NOT NULL,
        pricing_output DOUBLE PRECISION NOT NULL,
        context_length INTEGER NOT NULL,
        capabilities   TEXT[] NOT NULL DEFAULT '{}',
        is_free        BOOLEAN NOT NULL DEFAULT FALSE,
        fetched_at     TIMESTAMPTZ NOT NULL
    )`,
}
