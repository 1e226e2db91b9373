// Package docindex stores grounding documents and retrieves supporting text
// by vector similarity.
//
// Mechanically a sibling of the qacache package, namespaced for documents:
// the embedded text is the document itself, with an optional source URL as
// an attribute.
package docindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/semcache/embcache"
	"github.com/hupe1980/semcache/index"
	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/schema"
	"github.com/hupe1980/semcache/store"
)

// DefaultNamespace is the namespace documents live in.
const DefaultNamespace = "document_index"

// batchConcurrency bounds concurrent embedding calls in AddBatch.
const batchConcurrency = 8

// ErrEmptyText is returned when Add or Search gets blank text.
var ErrEmptyText = errors.New("text must not be empty")

// Fields is the attribute schema of the document namespace.
var Fields = schema.Fields{
	"source_url": schema.FieldTypeString,
}

// Options represents the options for configuring the index.
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

// Document is one grounding document to store.
type Document struct {
	// Text is the document body; it is what gets embedded.
	Text string

	// SourceURL optionally records where the text came from.
	SourceURL string
}

// Hit is one document match.
type Hit struct {
	// ID is the entry ID.
	ID string

	// Text is the stored document body.
	Text string

	// SourceURL is the stored source, may be empty.
	SourceURL string

	// Similarity is the normalized score; higher is more similar.
	Similarity float32
}

// Index is a grounding-document store on one vector index namespace.
type Index struct {
	index    *index.Index
	embedder embcache.Embedder
}

// New ensures the document namespace and returns the index.
func New(ctx context.Context, catalog *index.Catalog, embedder embcache.Embedder, dimension int, optFns ...func(o *Options)) (*Index, error) {
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

	return &Index{index: ix, embedder: embedder}, nil
}

// Add embeds the text and stores a new document under a fresh ID.
func (d *Index) Add(ctx context.Context, doc Document) (string, error) {
	if doc.Text == "" {
		return "", ErrEmptyText
	}

	vector, err := d.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return "", fmt.Errorf("failed to embed document: %w", err)
	}

	attrs := schema.Attributes{}
	if doc.SourceURL != "" {
		attrs["source_url"] = schema.String(doc.SourceURL)
	}

	id := uuid.NewString()
	if err := d.index.Add(ctx, id, vector, doc.Text, attrs); err != nil {
		return "", err
	}

	return id, nil
}

// AddBatch stores documents concurrently. IDs are returned in input order.
// The first failure cancels the batch; documents stored before the failure
// remain stored.
func (d *Index) AddBatch(ctx context.Context, docs []Document) ([]string, error) {
	ids := make([]string, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, doc := range docs {
		g.Go(func() error {
			id, err := d.Add(gctx, doc)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}

			ids[i] = id

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ids, nil
}

// Search embeds the query and returns up to topK matches with similarity at
// or above the threshold, best first.
func (d *Index) Search(ctx context.Context, query string, topK int, scoreThreshold float32) ([]Hit, error) {
	if query == "" {
		return nil, ErrEmptyText
	}

	vector, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return d.SearchVector(ctx, vector, topK, scoreThreshold)
}

// SearchVector searches with an already-computed query vector.
func (d *Index) SearchVector(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]Hit, error) {
	results, err := d.index.Search(ctx, vector, topK, scoreThreshold)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:         r.ID,
			Text:       r.Record.Content,
			SourceURL:  r.Record.Attrs["source_url"].StringValue(),
			Similarity: r.Similarity,
		})
	}

	return hits, nil
}

// Delete removes a document and reports whether it existed.
func (d *Index) Delete(ctx context.Context, id string) (bool, error) {
	return d.index.Delete(ctx, id)
}

// All returns every stored document, most recent first.
func (d *Index) All(ctx context.Context) ([]store.Record, error) {
	return d.index.All(ctx)
}

// Len returns the number of stored documents.
func (d *Index) Len() int {
	return d.index.Len()
}
