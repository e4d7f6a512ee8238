// File: internal/store/sessions.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/session"
)

const sqlSelectSession = `
        SELECT id, goal, task_type, status, progress, start_url, current_url, last_error,
               metadata, created_at, updated_at, completed_at
        FROM sessions
        WHERE id = $1
    `

// CreateSession inserts a session. An existing row with the same id is left
// untouched.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	metadata, err := encodeJSON(sess.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO sessions (id, goal, task_type, status, progress, start_url, current_url, last_error, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING
    `,
		sess.ID, sess.Goal, sess.TaskType, string(sess.Status), sess.Progress,
		sess.StartURL, sess.CurrentURL, sess.LastError, metadata,
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var (
		sess     session.Session
		status   string
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, sqlSelectSession, id).Scan(
		&sess.ID, &sess.Goal, &sess.TaskType, &status, &sess.Progress,
		&sess.StartURL, &sess.CurrentURL, &sess.LastError,
		&metadata, &sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.Status = schemas.SessionStatus(status)
	sess.Metadata = map[string]interface{}{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &sess, nil
}

// SetStatus is a compare-and-set on the status column.
func (s *Store) SetStatus(ctx context.Context, id string, from, to schemas.SessionStatus, change session.StatusChange) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE sessions SET
            status = $3,
            last_error = CASE WHEN $4 <> '' THEN $4 ELSE last_error END,
            progress = COALESCE($5, progress),
            completed_at = COALESCE($6, completed_at),
            updated_at = $7
        WHERE id = $1 AND status = $2
    `, id, string(from), string(to), change.LastError, change.Progress, utcPtr(change.CompletedAt), change.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrStatusConflict
	}
	return nil
}

// SaveProgress writes the mutable non-status fields.
func (s *Store) SaveProgress(ctx context.Context, sess *session.Session) error {
	metadata, err := encodeJSON(sess.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
        UPDATE sessions SET
            progress = $2,
            current_url = $3,
            last_error = $4,
            metadata = $5,
            updated_at = $6
        WHERE id = $1
    `, sess.ID, sess.Progress, sess.CurrentURL, sess.LastError, metadata, sess.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, sess.ID)
	}
	return nil
}

// AppendLog inserts a session log entry.
func (s *Store) AppendLog(ctx context.Context, entry session.LogEntry) error {
	detail, err := encodeJSON(entry.Detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO session_logs (session_id, level, message, action, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, entry.SessionID, string(entry.Level), entry.Message, entry.Action, detail, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert session log: %w", err)
	}
	return nil
}

// ListLogs returns up to limit of the newest entries, oldest first.
func (s *Store) ListLogs(ctx context.Context, sessionID string, limit int) ([]session.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
        SELECT id, session_id, level, message, action, detail, created_at
        FROM (
            SELECT id, session_id, level, message, action, detail, created_at
            FROM session_logs
            WHERE session_id = $1
            ORDER BY id DESC
            LIMIT $2
        ) recent
        ORDER BY id ASC
    `, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session logs: %w", err)
	}
	defer rows.Close()

	var entries []session.LogEntry
	for rows.Next() {
		var (
			e      session.LogEntry
			level  string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &level, &e.Message, &e.Action, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session log row: %w", err)
		}
		e.Level = session.LogLevel(level)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode log detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

// encodeJSON marshals a map for a JSONB column, writing {} for nil.
func encodeJSON(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON column: %w", err)
	}
	return b, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
