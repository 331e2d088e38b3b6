package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"
)

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Cache stores raw response bytes.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached wraps a Searcher with a response cache. Cache failures are logged
// and the underlying searcher is used.
type Cached struct {
	next  Searcher
	cache Cache
	ttl   time.Duration
}

// NewCached creates a caching searcher.
func NewCached(next Searcher, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

// CacheKey returns the cache key used for a query.
func CacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "dossier:search:" + hex.EncodeToString(sum[:])
}

// Search returns cached results when present, otherwise queries and stores.
func (c *Cached) Search(ctx context.Context, query string) ([]Result, error) {
	key := CacheKey(query)

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("search cache read failed", "error", err)
	} else if ok {
		var results []Result
		if err := json.Unmarshal(data, &results); err == nil {
			slog.Debug("search cache hit", "query", query, "results", len(results))
			return results, nil
		}
	}

	results, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(results); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			slog.Warn("search cache write failed", "error", err)
		}
	}
	return results, nil
}
