package hnsw

import (
	"math/rand"
	"testing"

	"github.com/hupe1980/semcache/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(num, dimension int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))

	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = make([]float32, dimension)
		for j := range vectors[i] {
			vectors[i][j] = r.Float32()
		}
	}

	return vectors
}

func TestInsertAndSearch(t *testing.T) {
	h := New(3, func(o *Options) {
		o.RandomSeed = 42
	})

	id, err := h.Insert([]float32{1, 0, 0})
	require.NoError(t, err)

	results, err := h.KNNSearch([]float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
}

func TestDimensionMismatch(t *testing.T) {
	h := New(3)

	_, err := h.Insert([]float32{1, 0})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
	assert.Equal(t, 0, h.Len())

	_, err = h.KNNSearch([]float32{1, 0}, 1, 0)
	require.ErrorAs(t, err, &dm)
}

func TestEntryPointExcluded(t *testing.T) {
	h := New(4, func(o *Options) {
		o.RandomSeed = 7
	})

	_, err := h.Insert([]float32{0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)

	// Asking for more results than live nodes must not surface the synthetic
	// zero-vector entry point.
	results, err := h.KNNSearch([]float32{0.5, 0.5, 0.5, 0.5}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDelete(t *testing.T) {
	h := New(3, func(o *Options) {
		o.RandomSeed = 42
	})

	id1, err := h.Insert([]float32{1, 0, 0})
	require.NoError(t, err)
	id2, err := h.Insert([]float32{0.9, 0.1, 0})
	require.NoError(t, err)

	require.True(t, h.Delete(id1))
	assert.False(t, h.Delete(id1), "second delete reports missing")
	assert.Equal(t, 1, h.Len())

	results, err := h.KNNSearch([]float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id2, results[0].ID)
}

func TestKNNRecall(t *testing.T) {
	const (
		num       = 500
		dimension = 16
		k         = 10
	)

	h := New(dimension, func(o *Options) {
		o.RandomSeed = 1
		o.DistanceFunc = metric.SquaredL2
	})

	vectors := randomVectors(num, dimension, 99)
	for _, v := range vectors {
		_, err := h.Insert(v)
		require.NoError(t, err)
	}

	queries := randomVectors(20, dimension, 7)

	var hits, total int
	for _, q := range queries {
		exact, err := h.BruteSearch(q, k)
		require.NoError(t, err)

		approx, err := h.KNNSearch(q, k, 200)
		require.NoError(t, err)

		want := make(map[uint32]struct{}, len(exact))
		for _, c := range exact {
			want[c.ID] = struct{}{}
		}

		for _, c := range approx {
			if _, ok := want[c.ID]; ok {
				hits++
			}
		}
		total += len(exact)
	}

	recall := float64(hits) / float64(total)
	assert.Greater(t, recall, 0.9, "recall too low: %f", recall)
}

func TestResultsSortedAscending(t *testing.T) {
	h := New(8, func(o *Options) {
		o.RandomSeed = 3
		o.DistanceFunc = metric.SquaredL2
	})

	for _, v := range randomVectors(100, 8, 5) {
		_, err := h.Insert(v)
		require.NoError(t, err)
	}

	results, err := h.KNNSearch(randomVectors(1, 8, 11)[0], 10, 100)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestSetEF(t *testing.T) {
	h := New(3)
	h.SetEF(300)
	assert.Equal(t, 300, h.EF())

	h.SetEF(0) // ignored
	assert.Equal(t, 300, h.EF())
}

func TestGobRoundTrip(t *testing.T) {
	h := New(4, func(o *Options) {
		o.RandomSeed = 42
		o.DistanceFunc = metric.SquaredL2
	})

	vectors := randomVectors(50, 4, 13)
	for _, v := range vectors {
		_, err := h.Insert(v)
		require.NoError(t, err)
	}
	require.True(t, h.Delete(3))

	data, err := h.GobEncode()
	require.NoError(t, err)

	restored := New(4, func(o *Options) {
		o.DistanceFunc = metric.SquaredL2
	})
	require.NoError(t, restored.GobDecode(data))

	assert.Equal(t, h.Len(), restored.Len())

	q := vectors[10]
	want, err := h.KNNSearch(q, 5, 100)
	require.NoError(t, err)
	got, err := restored.KNNSearch(q, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
