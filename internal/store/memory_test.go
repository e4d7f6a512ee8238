// File: internal/store/memory_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pilot-engine/api/schemas"
	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/router"
	"github.com/xkilldash9x/pilot-engine/internal/session"
)

// -- Test Cases --

func TestMemoryStore_Sessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, m.CreateSession(ctx, &session.Session{ID: "s1", Status: schemas.StatusRunning, Metadata: map[string]interface{}{"k": 1}}))

	t.Run("returned sessions are copies", func(t *testing.T) {
		s, err := m.GetSession(ctx, "s1")
		require.NoError(t, err)
		s.Metadata["k"] = 99
		s.Status = schemas.StatusError

		again, err := m.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, again.MetadataInt("k"))
		assert.Equal(t, schemas.StatusRunning, again.Status)
	})

	t.Run("status writes are compare-and-set", func(t *testing.T) {
		err := m.SetStatus(ctx, "s1", schemas.StatusPaused, schemas.StatusRunning, session.StatusChange{UpdatedAt: now})
		assert.ErrorIs(t, err, session.ErrStatusConflict)

		require.NoError(t, m.SetStatus(ctx, "s1", schemas.StatusRunning, schemas.StatusPaused, session.StatusChange{UpdatedAt: now}))
		s, err := m.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusPaused, s.Status)
	})

	t.Run("progress saves keep the stored status", func(t *testing.T) {
		stale := &session.Session{ID: "s1", Status: schemas.StatusRunning, Progress: 70}
		require.NoError(t, m.SaveProgress(ctx, stale))

		s, err := m.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, schemas.StatusPaused, s.Status)
		assert.Equal(t, 70, s.Progress)
	})

	t.Run("unknown sessions", func(t *testing.T) {
		_, err := m.GetSession(ctx, "nope")
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
		assert.ErrorIs(t, m.SaveProgress(ctx, &session.Session{ID: "nope"}), session.ErrSessionNotFound)
	})
}

func TestMemoryStore_Routing(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.GetTaskConfig(ctx, "vision")
	assert.ErrorIs(t, err, router.ErrConfigNotFound)

	require.NoError(t, m.SaveTaskConfig(ctx, router.TaskModelConfig{TaskType: "vision", PrimaryModel: "b"}))
	require.NoError(t, m.SaveTaskConfig(ctx, router.TaskModelConfig{TaskType: "execution", PrimaryModel: "a"}))

	cfgs, err := m.ListTaskConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "execution", cfgs[0].TaskType)

	fetched := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveModelCache(ctx, []catalog.Entry{{ID: "x"}}, fetched))
	entries, at, err := m.LoadModelCache(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, fetched, at)
}
