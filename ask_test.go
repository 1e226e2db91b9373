package semcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semcache/docindex"
	"github.com/hupe1980/semcache/embcache"
	"github.com/hupe1980/semcache/index"
	"github.com/hupe1980/semcache/qacache"
	"github.com/hupe1980/semcache/store"
	"github.com/hupe1980/semcache/testutil"
)

const dimension = 8

type fakeRetriever struct {
	docs  []Document
	err   error
	block bool
	calls atomic.Int32
}

func (r *fakeRetriever) Retrieve(ctx context.Context, _ string) ([]Document, error) {
	r.calls.Add(1)

	if r.block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if r.err != nil {
		return nil, r.err
	}

	return r.docs, nil
}

type fakeGenerator struct {
	answer  string
	err     error
	block   bool
	calls   atomic.Int32
	lastDoc []Document
}

func (g *fakeGenerator) Generate(ctx context.Context, _ string, docs []Document) (string, error) {
	g.calls.Add(1)
	g.lastDoc = docs

	if g.block {
		<-ctx.Done()

		return "", ctx.Err()
	}

	if g.err != nil {
		return "", g.err
	}

	return g.answer, nil
}

// flakyStore wraps a Store with switchable failures.
type flakyStore struct {
	store.Store
	failGets atomic.Bool
	failPuts atomic.Bool
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) Get(ctx context.Context, namespace, id string) (store.Record, bool, error) {
	if s.failGets.Load() {
		return store.Record{}, false, errStoreDown
	}

	return s.Store.Get(ctx, namespace, id)
}

func (s *flakyStore) Put(ctx context.Context, namespace string, rec store.Record) error {
	if s.failPuts.Load() {
		return errStoreDown
	}

	return s.Store.Put(ctx, namespace, rec)
}

type fixture struct {
	orch      *Orchestrator
	embedder  *testutil.Embedder
	retriever *fakeRetriever
	generator *fakeGenerator
	cache     *qacache.Cache
	docs      *docindex.Index
	store     *flakyStore
}

func newFixture(t *testing.T, optFns ...Option) *fixture {
	t.Helper()

	ctx := context.Background()

	s := &flakyStore{Store: store.NewMapStore()}
	embedder := testutil.NewEmbedder(dimension)
	caching := embcache.NewCachingEmbedder(embcache.New(), embedder)
	catalog := index.NewCatalog(s)

	cache, err := qacache.New(ctx, catalog, caching, dimension)
	require.NoError(t, err)

	docs, err := docindex.New(ctx, catalog, caching, dimension)
	require.NoError(t, err)

	retriever := &fakeRetriever{}
	generator := &fakeGenerator{answer: "A1"}

	return &fixture{
		orch:      New(caching, retriever, generator, cache, docs, optFns...),
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		cache:     cache,
		docs:      docs,
		store:     s,
	}
}

func TestAskEmptyInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.Ask(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.embedder.Calls(), "rejected before any I/O")
}

func TestAskExternalThenCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.retriever.docs = []Document{{SourceURL: "u1", Content: "c1"}}

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, "A1", result.Answer)
	assert.Equal(t, SourceExternal, result.Source)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "u1", result.Documents[0].SourceURL)

	// Write-through: the answer is now cached under the question.
	assert.Equal(t, 1, f.cache.Len())

	generatorCalls := f.generator.calls.Load()

	repeat, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, "A1", repeat.Answer)
	assert.Equal(t, SourceCache, repeat.Source)
	assert.Greater(t, repeat.Similarity, float32(0.9))
	assert.Empty(t, repeat.Documents)

	assert.Equal(t, generatorCalls, f.generator.calls.Load(), "cache hit skips generation")
	assert.Equal(t, 1, f.cache.Len(), "cache hits are not re-cached")
	assert.Equal(t, 1, f.embedder.CallCount("Q1"), "caching embedder dedupes the query embedding")
}

func TestAskGroundedPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.docs.Add(ctx, docindex.Document{Text: "Q1", SourceURL: "https://example.com"})
	require.NoError(t, err)

	// The query embeds identically to the stored document text, so the
	// document lookup scores a full-similarity hit.
	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, SourceGrounded, result.Source)
	require.NotEmpty(t, result.Documents)
	assert.Equal(t, "https://example.com", result.Documents[0].SourceURL)
	assert.Zero(t, f.retriever.calls.Load(), "no external retrieval when documents ground the answer")
	assert.Equal(t, result.Documents, f.generator.lastDoc)

	assert.Equal(t, 1, f.cache.Len(), "grounded answers are written back")
}

func TestAskUngroundedPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// Retriever returns nothing.

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, SourceUngrounded, result.Source)
	assert.Empty(t, result.Documents)
	assert.Equal(t, "A1", result.Answer)

	assert.Equal(t, 1, f.cache.Len(), "ungrounded answers are cached by default")
}

func TestAskUngroundedNotCachedWhenDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithCacheUngrounded(false))

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, SourceUngrounded, result.Source)

	assert.Equal(t, 0, f.cache.Len())
}

func TestAskRetrieverFailureFallsThroughUngrounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.retriever.err = errors.New("scrape failed")

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, SourceUngrounded, result.Source)
}

func TestAskGenerationFailureNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.retriever.docs = []Document{{Content: "c1"}}
	f.generator.err = errors.New("model overloaded")

	_, err := f.orch.Ask(ctx, "Q1")

	var provider *ErrProvider
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, "generate", provider.Op)

	assert.Equal(t, 0, f.cache.Len(), "failed requests never poison the cache")
}

func TestAskEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder.Err = errors.New("provider down")

	_, err := f.orch.Ask(ctx, "Q1")

	var provider *ErrProvider
	require.ErrorAs(t, err, &provider)
	assert.Equal(t, "embed", provider.Op)
	assert.Equal(t, 0, f.cache.Len())
	assert.Zero(t, f.generator.calls.Load())
}

func TestAskLookupErrorFailsByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Seed the cache so the lookup actually touches the store, then break it.
	_, err := f.cache.Save(ctx, "Q1", "A0", nil)
	require.NoError(t, err)
	f.store.failGets.Store(true)

	_, err = f.orch.Ask(ctx, "Q1")

	var unavailable *ErrIndexUnavailable
	require.ErrorAs(t, err, &unavailable)
}

func TestAskLookupErrorDegradesWhenConfigured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithDegradeOnLookupError(true))
	f.retriever.docs = []Document{{Content: "c1"}}

	_, err := f.cache.Save(ctx, "Q1", "A0", nil)
	require.NoError(t, err)
	f.store.failGets.Store(true)

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, SourceExternal, result.Source, "broken lookups degrade to misses")
}

func TestAskStepTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithStepTimeout(20*time.Millisecond))
	f.retriever.docs = []Document{{Content: "c1"}}
	f.generator.block = true

	_, err := f.orch.Ask(ctx, "Q1")

	var timeout *ErrTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, StateGenerate.String(), timeout.Step)
	assert.Equal(t, 0, f.cache.Len())
}

func TestAskRetrieveTimeoutFallsThroughUngrounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithRetrieveTimeout(20*time.Millisecond))
	f.retriever.block = true

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, SourceUngrounded, result.Source)
}

func TestAskWriteBackFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()

	metrics := &BasicMetricsCollector{}
	f := newFixture(t, WithMetricsCollector(metrics))
	f.retriever.docs = []Document{{Content: "c1"}}
	f.store.failPuts.Store(true)

	result, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)
	assert.Equal(t, "A1", result.Answer)
	assert.Equal(t, SourceExternal, result.Source)

	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, int64(1), metrics.WriteBackErrors.Load())
}

func TestAskMetrics(t *testing.T) {
	ctx := context.Background()

	metrics := &BasicMetricsCollector{}
	f := newFixture(t, WithMetricsCollector(metrics))
	f.retriever.docs = []Document{{Content: "c1"}}

	_, err := f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)

	_, err = f.orch.Ask(ctx, "Q1")
	require.NoError(t, err)

	_, err = f.orch.Ask(ctx, "")
	require.Error(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.AskCount)
	assert.Equal(t, int64(1), stats.AskErrors)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.External)
	assert.Equal(t, int64(1), stats.WriteBackCount)
}
