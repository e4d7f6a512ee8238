// File: internal/catalog/fetcher_test.go
package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/pilot-engine/internal/config"
)

// -- Test Setup Helpers --

// setupFetcher points a Fetcher at a mock server and disables real backoff sleeps.
func setupFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	core, logs := observer.New(zap.DebugLevel)
	f := NewFetcher(config.CatalogConfig{BaseURL: server.URL + "/", FetchTimeout: 5 * time.Second}, "sk-test", zap.New(core))
	f.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	return f, logs
}

// -- Test Cases --

func TestFetcher_Success(t *testing.T) {
	f, logs := setupFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openRouterPayload))
	})

	entries, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 1, logs.FilterMessage("Fetched model catalog").Len())
	assert.Equal(t, 1, logs.FilterMessage("Skipped unpriceable catalog entries").Len())
}

func TestFetcher_RetriesTransientErrors(t *testing.T) {
	var calls int32
	f, logs := setupFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(openRouterPayload))
	})

	entries, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, logs.FilterMessage("Transient catalog error, retrying...").Len())
}

func TestFetcher_PermanentErrors(t *testing.T) {
	t.Run("should not retry client errors", func(t *testing.T) {
		var calls int32
		f, _ := setupFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
		})

		_, err := f.Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("should not retry undecodable bodies", func(t *testing.T) {
		var calls int32
		f, _ := setupFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			_, _ = w.Write([]byte(`<html>maintenance</html>`))
		})

		_, err := f.Fetch(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("should give up after the retry budget", func(t *testing.T) {
		var calls int32
		f, _ := setupFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := f.Fetch(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "one attempt plus three retries")
	})
}
