package embcache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Embedder computes an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachingEmbedder wraps an Embedder with the cache and collapses concurrent
// provider calls for the same text into one in-flight request.
type CachingEmbedder struct {
	cache    *Cache
	embedder Embedder
	group    singleflight.Group
}

// NewCachingEmbedder creates a caching embedder.
func NewCachingEmbedder(cache *Cache, embedder Embedder) *CachingEmbedder {
	return &CachingEmbedder{
		cache:    cache,
		embedder: embedder,
	}
}

// Embed returns the cached vector or computes and caches it. Provider errors
// are returned as-is and nothing is cached for the failed text.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := e.cache.Get(text); ok {
		return vector, nil
	}

	v, err, _ := e.group.Do(e.cache.Key(text), func() (any, error) {
		// Re-check under the flight; a concurrent caller may have filled it.
		if vector, ok := e.cache.Get(text); ok {
			return vector, nil
		}

		vector, err := e.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}

		e.cache.Put(text, vector)

		return vector, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]float32), nil
}
