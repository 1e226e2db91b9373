// Package testutil provides deterministic fakes for tests.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// Embedder is a deterministic fake embedding provider. The same text always
// produces the same unit vector; distinct texts produce (almost certainly)
// dissimilar vectors. Exact vectors can be pinned per text via Fixed.
type Embedder struct {
	// Dimension is the vector dimension.
	Dimension int

	// Fixed pins exact vectors for specific texts.
	Fixed map[string][]float32

	// Err, when set, fails every Embed call.
	Err error

	mu    sync.Mutex
	calls []string
}

// NewEmbedder creates a fake embedder of the given dimension.
func NewEmbedder(dimension int) *Embedder {
	return &Embedder{
		Dimension: dimension,
		Fixed:     make(map[string][]float32),
	}
}

// Embed returns the deterministic vector for the text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}

	if fixed, ok := e.Fixed[text]; ok {
		out := make([]float32, len(fixed))
		copy(out, fixed)

		return out, nil
	}

	return Vector(e.Dimension, text), nil
}

// Calls returns every text passed to Embed, in order.
func (e *Embedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.calls))
	copy(out, e.calls)

	return out
}

// CallCount returns how often Embed ran for the given text.
func (e *Embedder) CallCount(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for _, c := range e.calls {
		if c == text {
			n++
		}
	}

	return n
}

// Vector derives a deterministic unit vector from a seed text.
func Vector(dimension int, seed string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))

	r := rand.New(rand.NewSource(int64(h.Sum64()))) // nolint gosec

	v := make([]float32, dimension)

	var norm float64
	for i := range v {
		v[i] = float32(r.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1

		return v
	}

	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}

	return v
}
