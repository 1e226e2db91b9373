package semcache

import (
	"context"
	"errors"

	"github.com/hupe1980/semcache/docindex"
	"github.com/hupe1980/semcache/qacache"
)

// Result is the single structured outcome of a request.
type Result struct {
	// Answer is the answer text.
	Answer string

	// Source labels where the answer came from: cache, grounded, external
	// or ungrounded.
	Source Source

	// Similarity is the cache-hit similarity; zero for other sources.
	Similarity float32

	// Documents are the grounding documents the answer was generated from,
	// empty for cache hits and ungrounded answers.
	Documents []Document
}

// Orchestrator sequences QA cache lookup, document lookup, external
// retrieval and generation for each query, writing fresh answers back into
// the cache so similar queries become cache hits.
//
// Each request runs its own state machine instance; the only shared mutable
// state is the underlying index store, which is safe for concurrent use.
type Orchestrator struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	cache     *qacache.Cache
	docs      *docindex.Index
	opts      options
}

// New creates an orchestrator over the given collaborators and stores.
func New(embedder Embedder, retriever Retriever, generator Generator, cache *qacache.Cache, docs *docindex.Index, optFns ...Option) *Orchestrator {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		cache:     cache,
		docs:      docs,
		opts:      opts,
	}
}

// stepCtx derives the per-step deadline context.
func (o *Orchestrator) stepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.stepTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.stepTimeout)
	}

	return ctx, func() {}
}

// lookupError classifies a lookup-tier failure: timeouts and dimension
// mismatches keep their kind, everything else is the index being
// unavailable.
func lookupError(step State, err error) error {
	terr := translateError(step.String(), err)

	var (
		timeout  *ErrTimeout
		mismatch *ErrDimensionMismatch
	)
	if errors.As(terr, &timeout) || errors.As(terr, &mismatch) {
		return terr
	}

	return &ErrIndexUnavailable{Op: step.String(), cause: err}
}

// providerError classifies a collaborator failure: timeouts keep their kind,
// everything else is a provider error.
func providerError(step State, op string, err error) error {
	terr := translateError(step.String(), err)

	var timeout *ErrTimeout
	if errors.As(terr, &timeout) {
		return terr
	}

	return &ErrProvider{Op: op, cause: err}
}
