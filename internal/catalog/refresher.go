// File: internal/catalog/refresher.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/pilot-engine/internal/observability"
)

// ErrEmptyCatalog is returned when a refresh yields no usable models. The
// previous snapshot is kept in that case.
var ErrEmptyCatalog = errors.New("catalog refresh returned no models")

// Source produces the current list of priced models.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// CacheStore persists the last good catalog so routing works across restarts.
type CacheStore interface {
	SaveModelCache(ctx context.Context, entries []Entry, fetchedAt time.Time) error
	LoadModelCache(ctx context.Context) ([]Entry, time.Time, error)
}

// Refresher owns the current Snapshot and replaces it wholesale on each
// refresh. Readers get the pointer without locking and may see a snapshot that
// is one refresh behind.
type Refresher struct {
	source   Source
	cache    CacheStore
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics

	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	group   singleflight.Group
	now     func() time.Time
}

// NewRefresher wires a refresher. cache and metrics may be nil.
func NewRefresher(source Source, cache CacheStore, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Refresher {
	r := &Refresher{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger.Named("catalog"),
		metrics:  metrics,
		now:      time.Now,
	}
	r.current.Store(NewSnapshot(0, time.Time{}, nil))
	return r
}

// Current returns the latest snapshot. It is never nil.
func (r *Refresher) Current() *Snapshot {
	return r.current.Load()
}

// Load seeds the snapshot from the cache store. A missing cache is not an error.
func (r *Refresher) Load(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	entries, fetchedAt, err := r.cache.LoadModelCache(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model cache: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	snap := r.install(entries, fetchedAt)
	r.logger.Info("Loaded cached model catalog",
		zap.Int("models", snap.Len()),
		zap.Time("fetched_at", fetchedAt))
	return nil
}

// Refresh fetches a new catalog and swaps it in. Concurrent callers share a
// single fetch.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx)
	})
	if shared {
		r.logger.Debug("Joined in-flight catalog refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (r *Refresher) refresh(ctx context.Context) (*Snapshot, error) {
	entries, err := r.source.Fetch(ctx)
	if err == nil && len(entries) == 0 {
		err = ErrEmptyCatalog
	}
	if err != nil {
		r.metrics.ObserveCatalogRefresh(err, 0, 0)
		r.logger.Error("Catalog refresh failed; keeping previous snapshot",
			zap.Uint64("version", r.Current().Version()),
			zap.Error(err))
		return nil, fmt.Errorf("catalog refresh failed: %w", err)
	}

	fetchedAt := r.now().UTC()
	snap := r.install(entries, fetchedAt)
	r.metrics.ObserveCatalogRefresh(nil, snap.Len(), snap.Version())

	if r.cache != nil {
		if err := r.cache.SaveModelCache(ctx, snap.Entries(), fetchedAt); err != nil {
			// The in-memory snapshot is already live; persistence only matters on restart.
			r.logger.Warn("Failed to persist model cache", zap.Error(err))
		}
	}

	r.logger.Info("Catalog refreshed",
		zap.Uint64("version", snap.Version()),
		zap.Int("models", snap.Len()))
	return snap, nil
}

func (r *Refresher) install(entries []Entry, fetchedAt time.Time) *Snapshot {
	snap := NewSnapshot(r.version.Add(1), fetchedAt, entries)
	r.current.Store(snap)
	return snap
}

// Run refreshes immediately when the snapshot is empty or stale, then on every
// interval until ctx is cancelled. Refresh errors are logged, not returned.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("catalog refresh interval must be positive")
	}

	if cur := r.Current(); cur.Len() == 0 || r.now().Sub(cur.FetchedAt()) >= r.interval {
		_, _ = r.Refresh(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Catalog refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			_, _ = r.Refresh(ctx)
		}
	}
}
