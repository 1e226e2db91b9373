package semcache

import "context"

// Embedder computes an embedding vector for a text.
// The embcache package provides a caching implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is one retrieved grounding document.
type Document struct {
	// SourceURL records where the content came from, may be empty.
	SourceURL string

	// Content is the document text.
	Content string
}

// Retriever fetches grounding documents for a query from an external source.
// Best effort: it may return zero results and has no latency guarantee; the
// orchestrator imposes its own timeout.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// Generator produces an answer for a query, optionally grounded on documents.
type Generator interface {
	Generate(ctx context.Context, query string, docs []Document) (string, error)
}
