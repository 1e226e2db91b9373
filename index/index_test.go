package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semcache/hnsw"
	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/schema"
	"github.com/hupe1980/semcache/store"
)

func newTestIndex(t *testing.T, fields schema.Fields) *Index {
	t.Helper()

	catalog := NewCatalog(store.NewMapStore())

	ix, err := catalog.Ensure(context.Background(), NamespaceSpec{
		Name:      "test",
		Dimension: 3,
		Metric:    metric.TypeCosine,
		Schema:    fields,
	})
	require.NoError(t, err)

	return ix
}

func TestEnsureIdempotent(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(store.NewMapStore())

	spec := NamespaceSpec{Name: "docs", Dimension: 3, Metric: metric.TypeCosine}

	first, err := catalog.Ensure(ctx, spec)
	require.NoError(t, err)

	second, err := catalog.Ensure(ctx, spec)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestEnsureMismatch(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(store.NewMapStore())

	_, err := catalog.Ensure(ctx, NamespaceSpec{Name: "docs", Dimension: 3, Metric: metric.TypeCosine})
	require.NoError(t, err)

	var mismatch *ErrNamespaceMismatch

	_, err = catalog.Ensure(ctx, NamespaceSpec{Name: "docs", Dimension: 4, Metric: metric.TypeCosine})
	require.ErrorAs(t, err, &mismatch)

	_, err = catalog.Ensure(ctx, NamespaceSpec{Name: "docs", Dimension: 3, Metric: metric.TypeSquaredL2})
	require.ErrorAs(t, err, &mismatch)

	_, err = catalog.Ensure(ctx, NamespaceSpec{
		Name:      "docs",
		Dimension: 3,
		Metric:    metric.TypeCosine,
		Schema:    schema.Fields{"x": schema.FieldTypeString},
	})
	require.ErrorAs(t, err, &mismatch)
}

func TestEnsureInvalidSpec(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(store.NewMapStore())

	_, err := catalog.Ensure(ctx, NamespaceSpec{Name: "", Dimension: 3, Metric: metric.TypeCosine})
	require.Error(t, err)

	_, err = catalog.Ensure(ctx, NamespaceSpec{Name: "docs", Dimension: 0, Metric: metric.TypeCosine})
	require.Error(t, err)
}

func TestAddAndExactSearch(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, schema.Fields{"text": schema.FieldTypeString})

	err := ix.Add(ctx, "d1", []float32{1, 0, 0}, "x", schema.Attributes{"text": schema.String("x")})
	require.NoError(t, err)

	results, err := ix.Search(ctx, []float32{1, 0, 0}, 1, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "x", results[0].Record.Content)
}

func TestAddDimensionMismatchDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	var dm *hnsw.ErrDimensionMismatch

	err := ix.Add(ctx, "d1", []float32{1, 0}, "", nil)
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 0, ix.Len())

	_, err = ix.Search(ctx, []float32{1, 0}, 1, 0)
	require.ErrorAs(t, err, &dm)
}

func TestAddSchemaViolation(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, schema.Fields{"text": schema.FieldTypeString})

	var violation *ErrSchemaViolation

	err := ix.Add(ctx, "d1", []float32{1, 0, 0}, "", schema.Attributes{"text": schema.Int(1)})
	require.ErrorAs(t, err, &violation)

	err = ix.Add(ctx, "d2", []float32{1, 0, 0}, "", schema.Attributes{"other": schema.String("x")})
	require.ErrorAs(t, err, &violation)

	assert.Equal(t, 0, ix.Len())
}

func TestAddEmptyID(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	require.ErrorIs(t, ix.Add(ctx, "", []float32{1, 0, 0}, "", nil), ErrEmptyID)

	_, err := ix.Delete(ctx, "")
	require.ErrorIs(t, err, ErrEmptyID)
}

func TestOverwriteLastWriteWins(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	require.NoError(t, ix.Add(ctx, "d1", []float32{1, 0, 0}, "v1", nil))
	require.NoError(t, ix.Add(ctx, "d1", []float32{0, 1, 0}, "v2", nil))

	assert.Equal(t, 1, ix.Len())

	results, err := ix.Search(ctx, []float32{0, 1, 0}, 1, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
	assert.Equal(t, "v2", results[0].Record.Content)

	// The old vector no longer matches.
	results, err = ix.Search(ctx, []float32{1, 0, 0}, 1, 0.99)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchThresholdFilter(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	require.NoError(t, ix.Add(ctx, "near", []float32{1, 0, 0}, "", nil))
	require.NoError(t, ix.Add(ctx, "far", []float32{0, 1, 0}, "", nil))

	results, err := ix.Search(ctx, []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, float32(0.5))
	}

	// No qualifying match is a valid empty result.
	results, err = ix.Search(ctx, []float32{0, 0, 1}, 10, 0.99)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchOrderingDeterministic(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	require.NoError(t, ix.Add(ctx, "a", []float32{1, 0, 0}, "", nil))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, ix.Add(ctx, "b", []float32{1, 0, 0}, "", nil))
	require.NoError(t, ix.Add(ctx, "c", []float32{0.9, 0.1, 0}, "", nil))

	results, err := ix.Search(ctx, []float32{1, 0, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Equal similarity ties break by most recent CreatedAt first.
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "a", results[1].ID)
	assert.Equal(t, "c", results[2].ID)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearchAttributeFilter(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, schema.Fields{"source": schema.FieldTypeString})

	require.NoError(t, ix.Add(ctx, "w1", []float32{1, 0, 0}, "", schema.Attributes{"source": schema.String("wiki")}))
	require.NoError(t, ix.Add(ctx, "n1", []float32{0.99, 0.01, 0}, "", schema.Attributes{"source": schema.String("news")}))

	results, err := ix.Search(ctx, []float32{1, 0, 0}, 10, 0, func(o *SearchOptions) {
		o.Filter = &Filter{Field: "source", Value: schema.String("news")}
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].ID)

	// Filter on a value nothing carries.
	results, err = ix.Search(ctx, []float32{1, 0, 0}, 10, 0, func(o *SearchOptions) {
		o.Filter = &Filter{Field: "source", Value: schema.String("blog")}
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	require.NoError(t, ix.Add(ctx, "d1", []float32{1, 0, 0}, "", nil))

	existed, err := ix.Delete(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, 0, ix.Len())

	existed, err = ix.Delete(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, existed)

	results, err := ix.Search(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAll(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t, nil)

	require.NoError(t, ix.Add(ctx, "a", []float32{1, 0, 0}, "first", nil))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, ix.Add(ctx, "b", []float32{0, 1, 0}, "second", nil))

	records, err := ix.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].ID, "most recent first")
	assert.Equal(t, "a", records[1].ID)
}

func TestEnsureRehydratesFromStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMapStore()

	spec := NamespaceSpec{Name: "docs", Dimension: 3, Metric: metric.TypeCosine}

	first, err := NewCatalog(s).Ensure(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, "d1", []float32{1, 0, 0}, "x", nil))

	// A fresh catalog over the same store sees the persisted records.
	rebuilt, err := NewCatalog(s).Ensure(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilt.Len())

	results, err := rebuilt.Search(ctx, []float32{1, 0, 0}, 1, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
}

func TestSetEF(t *testing.T) {
	ix := newTestIndex(t, nil)

	ix.SetEF(123)
	assert.Equal(t, 123, ix.EF())
}
