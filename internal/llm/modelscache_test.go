package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modelsServer struct {
	*httptest.Server
	requests        int
	lastIfNoneMatch string
	etag            string
}

func newModelsServer(t *testing.T) *modelsServer {
	s := &modelsServer{etag: "etag-1"}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		s.requests++
		s.lastIfNoneMatch = r.Header.Get("If-None-Match")

		if s.lastIfNoneMatch == s.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", s.etag)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"slug":"gpt-5.1-codex","display_name":"Codex","context_window":272000,"supports_parallel_tool_calls":true}]}`)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestStore(t *testing.T, server *modelsServer) (*ModelsCacheStore, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewModelsCacheStore(t.TempDir(), server.URL)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestModelsCache_FetchThenServeFromCache(t *testing.T) {
	server := newModelsServer(t)
	store, _ := newTestStore(t, server)

	got, err := store.Get(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gpt-5.1-codex", got[0].Slug)
	assert.Equal(t, 1, server.requests)

	// Second call within TTL: no HTTP round-trip.
	got, err = store.Get(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, server.requests)
}

func TestModelsCache_StaleRevalidatesWith304(t *testing.T) {
	server := newModelsServer(t)
	store, now := newTestStore(t, server)

	_, err := store.Get(context.Background(), "")
	require.NoError(t, err)
	fetchedAt := store.Load().FetchedAt

	// Force staleness past the TTL.
	*now = now.Add(DefaultModelsCacheTTL + time.Minute)

	got, err := store.Get(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, server.requests)
	assert.Equal(t, "etag-1", server.lastIfNoneMatch)

	// 304 bumps fetched_at but keeps the cached body and etag.
	cache := store.Load()
	assert.True(t, cache.FetchedAt.After(fetchedAt))
	assert.Equal(t, "etag-1", cache.ETag)
	require.Len(t, cache.Models, 1)
}

func TestModelsCache_ChangedETagRefetches(t *testing.T) {
	server := newModelsServer(t)
	store, now := newTestStore(t, server)

	_, err := store.Get(context.Background(), "")
	require.NoError(t, err)

	server.etag = "etag-2"
	*now = now.Add(DefaultModelsCacheTTL + time.Minute)

	_, err = store.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "etag-2", store.Load().ETag)
}

func TestModelsCache_NetworkFailureServesStale(t *testing.T) {
	server := newModelsServer(t)
	store, now := newTestStore(t, server)

	_, err := store.Get(context.Background(), "")
	require.NoError(t, err)

	server.Close()
	*now = now.Add(DefaultModelsCacheTTL + time.Minute)

	got, err := store.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestModelsCache_RoundTripStable(t *testing.T) {
	dir := t.TempDir()
	original := ModelsCache{
		FetchedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ETag:      "etag-9",
		Models: []RemoteModelInfo{
			{Slug: "m1", DisplayName: "M1", ContextWindow: 128000, DefaultReasoningLevel: "medium",
				TruncationPolicy: "tokens", ApplyPatchToolType: "function", SupportsParallelToolCalls: true},
		},
	}

	store := NewModelsCacheStore(dir, "https://example.com")
	require.NoError(t, store.save(original))

	loaded := store.Load()
	assert.Equal(t, original, loaded)

	// Parsing then re-serializing yields equivalent JSON.
	first, err := os.ReadFile(filepath.Join(dir, modelsCacheFileName))
	require.NoError(t, err)
	reserialized, err := json.MarshalIndent(loaded, "", "  ")
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(reserialized))
}
