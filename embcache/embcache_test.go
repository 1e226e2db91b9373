package embcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	c := New()

	_, ok := c.Get("hello")
	assert.False(t, ok, "miss is distinguishable, never a zero vector")

	c.Put("hello", []float32{1, 2, 3})

	vector, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vector)
}

func TestCacheKey(t *testing.T) {
	c := New(func(o *Options) {
		o.Prefix = "emb"
	})

	key := c.Key("hello")
	assert.True(t, strings.HasPrefix(key, "emb:"))
	assert.Len(t, key, len("emb:")+64)

	assert.Equal(t, key, c.Key("hello"), "same text, same key")
	assert.NotEqual(t, key, c.Key("hello "), "text is hashed exactly as given")
}

func TestCachePutIdempotent(t *testing.T) {
	c := New()

	c.Put("hello", []float32{1, 2, 3})
	c.Put("hello", []float32{1, 2, 3})

	assert.Equal(t, 1, c.Len())

	vector, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vector)
}

func TestCacheIsolation(t *testing.T) {
	c := New()

	in := []float32{1, 2, 3}
	c.Put("hello", in)
	in[0] = 99

	vector, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, float32(1), vector[0])

	vector[1] = 99
	again, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, float32(2), again[1])
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(func(o *Options) {
		o.MaxEntries = 2
	})

	c.Put("a", []float32{1})
	c.Put("b", []float32{2})

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", []float32{3})

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)

	if e.err != nil {
		return nil, e.err
	}

	return []float32{float32(len(text)), 0, 0}, nil
}

func TestCachingEmbedderDeduplicates(t *testing.T) {
	ctx := context.Background()
	provider := &countingEmbedder{}
	e := NewCachingEmbedder(New(), provider)

	first, err := e.Embed(ctx, "hello")
	require.NoError(t, err)

	second, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestCachingEmbedderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	provider := &countingEmbedder{err: errors.New("provider down")}
	e := NewCachingEmbedder(New(), provider)

	_, err := e.Embed(ctx, "hello")
	require.Error(t, err)

	provider.err = nil

	vector, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, vector)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestCachingEmbedderConcurrent(t *testing.T) {
	ctx := context.Background()
	provider := &countingEmbedder{}
	e := NewCachingEmbedder(New(), provider)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := e.Embed(ctx, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Concurrent callers collapse into few provider calls; sequential reruns
	// hit the cache.
	assert.LessOrEqual(t, provider.calls.Load(), int32(16))

	before := provider.calls.Load()
	_, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, before, provider.calls.Load())
}
