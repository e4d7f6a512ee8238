// File: internal/session/tracker.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
)

// transitions lists the allowed moves out of each status. Terminal statuses
// have no entry.
var transitions = map[schemas.SessionStatus][]schemas.SessionStatus{
	schemas.StatusQueued:  {schemas.StatusRunning, schemas.StatusCancelled, schemas.StatusError},
	schemas.StatusRunning: {schemas.StatusPaused, schemas.StatusSuccess, schemas.StatusError, schemas.StatusCancelled},
	schemas.StatusPaused:  {schemas.StatusRunning, schemas.StatusCancelled, schemas.StatusError},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to schemas.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// maxConflictRetries bounds re-reads when a status write races another writer.
const maxConflictRetries = 3

// Tracker applies the session lifecycle on top of a Store.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger.Named("session"), now: time.Now}
}

// Seed describes a session to create.
type Seed struct {
	ID       string
	Goal     string
	TaskType string
	StartURL string
}

// Ensure returns the session with seed.ID, creating it as queued when missing.
func (t *Tracker) Ensure(ctx context.Context, seed Seed) (*Session, error) {
	s, err := t.store.GetSession(ctx, seed.ID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := t.now().UTC()
	s = &Session{
		ID:        seed.ID,
		Goal:      seed.Goal,
		TaskType:  seed.TaskType,
		Status:    schemas.StatusQueued,
		StartURL:  seed.StartURL,
		Metadata:  map[string]interface{}{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", seed.ID, err)
	}
	t.logger.Info("Session created", zap.String("session_id", seed.ID), zap.String("task_type", seed.TaskType))
	return s, nil
}

// Get loads a session.
func (t *Tracker) Get(ctx context.Context, id string) (*Session, error) {
	return t.store.GetSession(ctx, id)
}

// Transition moves a session to status to. Moving to error records reason as
// the last error; terminal moves stamp the completion time.
func (t *Tracker) Transition(ctx context.Context, id string, to schemas.SessionStatus, reason string) (*Session, error) {
	return t.transition(ctx, id, to, reason, nil)
}

// Succeed moves a session to success with progress 100.
func (t *Tracker) Succeed(ctx context.Context, id string) (*Session, error) {
	full := 100
	return t.transition(ctx, id, schemas.StatusSuccess, "", &full)
}

// Fail moves a session to error with reason.
func (t *Tracker) Fail(ctx context.Context, id, reason string) (*Session, error) {
	return t.Transition(ctx, id, schemas.StatusError, reason)
}

// Pause, Resume and Cancel are the operator controls.
func (t *Tracker) Pause(ctx context.Context, id string) (*Session, error) {
	return t.Transition(ctx, id, schemas.StatusPaused, "")
}

func (t *Tracker) Resume(ctx context.Context, id string) (*Session, error) {
	return t.Transition(ctx, id, schemas.StatusRunning, "")
}

func (t *Tracker) Cancel(ctx context.Context, id string) (*Session, error) {
	return t.Transition(ctx, id, schemas.StatusCancelled, "")
}

func (t *Tracker) transition(ctx context.Context, id string, to schemas.SessionStatus, reason string, progress *int) (*Session, error) {
	for attempt := 0; ; attempt++ {
		s, err := t.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		from := s.Status
		if !CanTransition(from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := t.now().UTC()
		change := StatusChange{Progress: progress, UpdatedAt: now}
		if to == schemas.StatusError {
			change.LastError = reason
		}
		if to.IsTerminal() {
			change.CompletedAt = &now
		}

		err = t.store.SetStatus(ctx, id, from, to, change)
		if errors.Is(err, ErrStatusConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to move session %s to %s: %w", id, to, err)
		}

		s.Status = to
		s.UpdatedAt = now
		if change.LastError != "" {
			s.LastError = change.LastError
		}
		if progress != nil {
			s.Progress = *progress
		}
		s.CompletedAt = change.CompletedAt

		t.logger.Info("Session transitioned",
			zap.String("session_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", reason))
		return s, nil
	}
}

// Update describes a progress write. Nil fields are left unchanged.
type Update struct {
	Progress   *int
	CurrentURL *string
	LastError  *string
	// Metadata is merged key by key; a nil value deletes the key.
	Metadata map[string]interface{}
}

// Update applies u to the session and returns the result. Progress is
// clamped to [0, 100].
func (t *Tracker) Update(ctx context.Context, id string, u Update) (*Session, error) {
	s, err := t.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s = s.Clone()

	if u.Progress != nil {
		s.Progress = clamp(*u.Progress, 0, 100)
	}
	if u.CurrentURL != nil {
		s.CurrentURL = *u.CurrentURL
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	for k, v := range u.Metadata {
		if v == nil {
			delete(s.Metadata, k)
			continue
		}
		s.Metadata[k] = v
	}
	s.UpdatedAt = t.now().UTC()

	if err := t.store.SaveProgress(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return s, nil
}

// Log appends a structured entry to the session's activity log.
func (t *Tracker) Log(ctx context.Context, entry LogEntry) error {
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now().UTC()
	}
	if err := t.store.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append session log: %w", err)
	}
	return nil
}

// Logs returns the most recent entries for a session, oldest first.
func (t *Tracker) Logs(ctx context.Context, id string, limit int) ([]LogEntry, error) {
	return t.store.ListLogs(ctx, id, limit)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
