// Package qacache answers queries by similarity to previously answered
// questions.
//
// Each saved entry embeds the question text only, never the answer; the
// answer rides along as an attribute. Entries are write-only: Save never
// mutates an existing entry, and only administrative Delete removes one.
//
// The default similarity threshold is deliberately low. The distance metric
// is not normalized against a fixed notion of "same question", so the
// threshold is a policy knob the caller tunes per deployment, not a built-in
// correctness boundary.
package qacache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/semcache/embcache"
	"github.com/hupe1980/semcache/index"
	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/schema"
	"github.com/hupe1980/semcache/store"
)

// DefaultNamespace is the namespace QA entries live in.
const DefaultNamespace = "semantic_cache_index"

// entryType marks records written by this package.
const entryType = "semantic_cache"

// ErrEmptyQuestion is returned when Save or Search gets blank text.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Fields is the attribute schema of the QA namespace.
var Fields = schema.Fields{
	"answer": schema.FieldTypeString,
	"type":   schema.FieldTypeString,
	"source": schema.FieldTypeString,
}

// Options represents the options for configuring the cache.
type Options struct {
	// Namespace overrides the index namespace name.
	Namespace string

	// Metric selects the distance metric.
	Metric metric.Type

	// M, EFConstruction and EF tune the underlying graph. Zero means the
	// graph defaults.
	M              int
	EFConstruction int
	EF             int
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{
	Namespace: DefaultNamespace,
	Metric:    metric.TypeCosine,
}

// Hit is one QA match.
type Hit struct {
	// ID is the entry ID.
	ID string

	// Question is the cached question text.
	Question string

	// Answer is the cached answer text.
	Answer string

	// Similarity is the normalized score; higher is more similar.
	Similarity float32
}

// Cache is a QA-pair store on one vector index namespace.
type Cache struct {
	index    *index.Index
	embedder embcache.Embedder
}

// New ensures the QA namespace and returns the cache.
func New(ctx context.Context, catalog *index.Catalog, embedder embcache.Embedder, dimension int, optFns ...func(o *Options)) (*Cache, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	ix, err := catalog.Ensure(ctx, index.NamespaceSpec{
		Name:           opts.Namespace,
		Dimension:      dimension,
		Metric:         opts.Metric,
		Schema:         Fields,
		M:              opts.M,
		EFConstruction: opts.EFConstruction,
		EF:             opts.EF,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{index: ix, embedder: embedder}, nil
}

// Save embeds the question and stores a new QA entry under a fresh ID.
// The metadata source attribute, if present, is carried along.
func (c *Cache) Save(ctx context.Context, question, answer string, metadata schema.Attributes) (string, error) {
	if question == "" {
		return "", ErrEmptyQuestion
	}

	vector, err := c.embedder.Embed(ctx, question)
	if err != nil {
		return "", fmt.Errorf("failed to embed question: %w", err)
	}

	return c.SaveVector(ctx, question, answer, vector, metadata)
}

// SaveVector stores a new QA entry with an already-computed question vector.
func (c *Cache) SaveVector(ctx context.Context, question, answer string, vector []float32, metadata schema.Attributes) (string, error) {
	if question == "" {
		return "", ErrEmptyQuestion
	}

	attrs := schema.Attributes{
		"answer": schema.String(answer),
		"type":   schema.String(entryType),
	}
	if source, ok := metadata["source"]; ok {
		attrs["source"] = source
	}

	id := uuid.NewString()
	if err := c.index.Add(ctx, id, vector, question, attrs); err != nil {
		return "", err
	}

	return id, nil
}

// Search embeds the query and returns up to topK matches with similarity at
// or above the threshold, best first.
func (c *Cache) Search(ctx context.Context, query string, topK int, scoreThreshold float32) ([]Hit, error) {
	if query == "" {
		return nil, ErrEmptyQuestion
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return c.SearchVector(ctx, vector, topK, scoreThreshold)
}

// SearchVector searches with an already-computed query vector. Callers that
// embed once and probe several stores use this to avoid re-embedding.
func (c *Cache) SearchVector(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]Hit, error) {
	results, err := c.index.Search(ctx, vector, topK, scoreThreshold)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:         r.ID,
			Question:   r.Record.Content,
			Answer:     r.Record.Attrs["answer"].StringValue(),
			Similarity: r.Similarity,
		})
	}

	return hits, nil
}

// Delete removes an entry and reports whether it existed. Administrative
// only; the request path never deletes.
func (c *Cache) Delete(ctx context.Context, id string) (bool, error) {
	return c.index.Delete(ctx, id)
}

// All returns every stored entry, most recent first.
func (c *Cache) All(ctx context.Context) ([]store.Record, error) {
	return c.index.All(ctx)
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	return c.index.Len()
}
