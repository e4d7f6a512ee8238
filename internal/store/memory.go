// File: internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/llmclient"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
	"github.com/xkilldash9x/pilot-engine/internal/verification"
)

// MemoryStore keeps everything in process. It backs tests and deployments
// that run without a database; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*session.Session
	logs      map[string][]session.LogEntry
	nextLogID int64
	configs   map[string]router.TaskModelConfig
	models    []catalog.Entry
	fetchedAt time.Time
	usage     []llmclient.UsageRecord
	audit     []verification.AuditRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		logs:     make(map[string][]session.LogEntry),
		configs:  make(map[string]router.TaskModelConfig),
	}
}

// -- Sessions --

func (m *MemoryStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; !exists {
		m.sessions[s.ID] = s.Clone()
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, from, to schemas.SessionStatus, change session.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != from {
		return session.ErrStatusConflict
	}
	s.Status = to
	if change.LastError != "" {
		s.LastError = change.LastError
	}
	if change.Progress != nil {
		s.Progress = *change.Progress
	}
	if change.CompletedAt != nil {
		t := *change.CompletedAt
		s.CompletedAt = &t
	}
	s.UpdatedAt = change.UpdatedAt
	return nil
}

func (m *MemoryStore) SaveProgress(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, s.ID)
	}
	next := s.Clone()
	next.Status = cur.Status
	next.CompletedAt = cur.CompletedAt
	m.sessions[s.ID] = next
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry session.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs[entry.SessionID] = append(m.logs[entry.SessionID], entry)
	return nil
}

func (m *MemoryStore) ListLogs(_ context.Context, sessionID string, limit int) ([]session.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.logs[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]session.LogEntry, len(all))
	copy(out, all)
	return out, nil
}

// -- Routing --

func (m *MemoryStore) ListTaskConfigs(context.Context) ([]router.TaskModelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]router.TaskModelConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out, nil
}

func (m *MemoryStore) GetTaskConfig(_ context.Context, taskType string) (router.TaskModelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[taskType]
	if !ok {
		return router.TaskModelConfig{}, fmt.Errorf("%w: %s", router.ErrConfigNotFound, taskType)
	}
	return c, nil
}

func (m *MemoryStore) SaveTaskConfig(_ context.Context, cfg router.TaskModelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.TaskType] = cfg
	return nil
}

func (m *MemoryStore) SaveModelCache(_ context.Context, entries []catalog.Entry, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = append([]catalog.Entry(nil), entries...)
	m.fetchedAt = fetchedAt
	return nil
}

func (m *MemoryStore) LoadModelCache(context.Context) ([]catalog.Entry, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]catalog.Entry(nil), m.models...), m.fetchedAt, nil
}

// -- Telemetry --

func (m *MemoryStore) RecordUsage(_ context.Context, rec llmclient.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

func (m *MemoryStore) RecordVerification(_ context.Context, records []verification.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, records...)
	return nil
}

// Usage returns a copy of the recorded usage rows.
func (m *MemoryStore) Usage() []llmclient.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]llmclient.UsageRecord(nil), m.usage...)
}

// Audit returns a copy of the recorded verification rows.
func (m *MemoryStore) Audit() []verification.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]verification.AuditRecord(nil), m.audit...)
}
