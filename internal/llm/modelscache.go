package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sessionforge/agentcore/internal/netctx"
)

// DefaultModelsCacheTTL is how long a fetched model list stays fresh before
// the cache revalidates against the provider.
const DefaultModelsCacheTTL = 6 * time.Hour

const modelsCacheFileName = "models_cache.json"

// RemoteModelInfo is one entry from the provider's /models endpoint.
type RemoteModelInfo struct {
	Slug                      string `json:"slug"`
	DisplayName               string `json:"display_name,omitempty"`
	ContextWindow             int    `json:"context_window,omitempty"`
	DefaultReasoningLevel     string `json:"default_reasoning_level,omitempty"`
	TruncationPolicy          string `json:"truncation_policy,omitempty"`
	ApplyPatchToolType        string `json:"apply_patch_tool_type,omitempty"`
	SupportsParallelToolCalls bool   `json:"supports_parallel_tool_calls,omitempty"`
	BaseInstructions          string `json:"base_instructions,omitempty"`
}

// ModelsCache is the on-disk shape of models_cache.json.
type ModelsCache struct {
	FetchedAt time.Time         `json:"fetched_at"`
	ETag      string            `json:"etag,omitempty"`
	Models    []RemoteModelInfo `json:"models"`
}

// ModelsCacheStore fetches the provider model list through a TTL + ETag
// cache persisted under the state root.
type ModelsCacheStore struct {
	path    string
	baseURL string
	ttl     time.Duration
	client  *http.Client

	// now is injectable for tests.
	now func() time.Time
}

// NewModelsCacheStore creates a store persisting to <home>/models_cache.json
// and fetching from baseURL (normalized; "/models" is appended per request).
func NewModelsCacheStore(home, baseURL string) *ModelsCacheStore {
	return &ModelsCacheStore{
		path:    filepath.Join(home, modelsCacheFileName),
		baseURL: netctx.NormalizeBaseURL(baseURL),
		ttl:     DefaultModelsCacheTTL,
		client:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// Load reads the cache file, returning an empty cache when the file is
// missing or unreadable.
func (s *ModelsCacheStore) Load() ModelsCache {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ModelsCache{}
	}
	var cache ModelsCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return ModelsCache{}
	}
	return cache
}

func (s *ModelsCacheStore) save(cache ModelsCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns the model list, serving from cache while fresh, revalidating
// with If-None-Match once stale, and honoring 304 by bumping fetched_at only.
func (s *ModelsCacheStore) Get(ctx context.Context, authHeader string) ([]RemoteModelInfo, error) {
	cache := s.Load()
	now := s.now()

	if len(cache.Models) > 0 && now.Sub(cache.FetchedAt) < s.ttl {
		return cache.Models, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return cache.Models, err
	}
	req.Header.Set("User-Agent", netctx.UserAgent("", ""))
	req.Header.Set("originator", netctx.CurrentOriginator().HeaderValue)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if cache.ETag != "" {
		req.Header.Set("If-None-Match", cache.ETag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Network failure: stale data beats no data.
		if len(cache.Models) > 0 {
			return cache.Models, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		cache.FetchedAt = now
		if err := s.save(cache); err != nil {
			return cache.Models, nil
		}
		return cache.Models, nil

	case http.StatusOK:
		var body struct {
			Models []RemoteModelInfo `json:"models"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return cache.Models, fmt.Errorf("decode models response: %w", err)
		}
		cache = ModelsCache{
			FetchedAt: now,
			ETag:      resp.Header.Get("ETag"),
			Models:    body.Models,
		}
		_ = s.save(cache)
		return cache.Models, nil

	default:
		if len(cache.Models) > 0 {
			return cache.Models, nil
		}
		return nil, fmt.Errorf("models endpoint returned %d", resp.StatusCode)
	}
}
