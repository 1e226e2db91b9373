package semcache

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/semcache/schema"
)

// request is the per-query state carried through the machine. One instance
// per call; never shared.
type request struct {
	query      string
	vector     []float32
	docs       []Document
	answer     string
	source     Source
	similarity float32
}

// Ask answers a query. The request walks the state machine in strict
// sequence: semantic lookup, document lookup, external retrieval fallback,
// generation, cache write-back. Every non-cache-hit success writes the
// generated answer back into the QA cache; failed requests never touch it.
//
// Blank queries fail with ErrEmptyInput before any I/O.
func (o *Orchestrator) Ask(ctx context.Context, query string) (*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		o.opts.metricsCollector.RecordAsk("", time.Since(start), ErrEmptyInput)

		return nil, ErrEmptyInput
	}

	req := &request{query: query}
	state := StateSemanticLookup
	o.opts.logger.LogTransition(ctx, StateStart, state)

	for {
		stepStart := time.Now()

		var (
			next State
			err  error
		)

		switch state {
		case StateSemanticLookup:
			next, err = o.semanticLookup(ctx, req)
		case StateDocumentLookup:
			next, err = o.documentLookup(ctx, req)
		case StateExternalRetrieve:
			next, err = o.externalRetrieve(ctx, req)
		case StateGenerate:
			next, err = o.generate(ctx, req)
		case StateWriteBack:
			next = o.writeBack(ctx, req)
		default:
			panic("semcache: invalid state " + state.String())
		}

		o.opts.metricsCollector.RecordStep(state, time.Since(stepStart), err)

		if err != nil {
			o.opts.logger.LogTransition(ctx, state, StateFailed)
			o.opts.logger.LogAsk(ctx, "", time.Since(start), err)
			o.opts.metricsCollector.RecordAsk("", time.Since(start), err)

			return nil, err
		}

		o.opts.logger.LogTransition(ctx, state, next)

		if next == StateReturned {
			o.opts.logger.LogAsk(ctx, req.source, time.Since(start), nil)
			o.opts.metricsCollector.RecordAsk(req.source, time.Since(start), nil)

			return &Result{
				Answer:     req.answer,
				Source:     req.source,
				Similarity: req.similarity,
				Documents:  req.docs,
			}, nil
		}

		state = next
	}
}

// semanticLookup embeds the query once and probes the QA cache. The vector
// is kept on the request so later steps never re-embed.
func (o *Orchestrator) semanticLookup(ctx context.Context, req *request) (State, error) {
	sctx, cancel := o.stepCtx(ctx)
	defer cancel()

	vector, err := o.embedder.Embed(sctx, req.query)
	if err != nil {
		return StateFailed, providerError(StateSemanticLookup, "embed", err)
	}

	req.vector = vector

	hits, err := o.cache.SearchVector(sctx, vector, o.opts.cacheTopK, o.opts.cacheThreshold)
	if err != nil {
		if o.opts.degradeOnLookupError {
			o.opts.logger.LogLookupDegraded(ctx, StateSemanticLookup, err)

			return StateDocumentLookup, nil
		}

		return StateFailed, lookupError(StateSemanticLookup, err)
	}

	if len(hits) > 0 {
		// Hits arrive best first; the top hit is the max-similarity match.
		req.answer = hits[0].Answer
		req.source = SourceCache
		req.similarity = hits[0].Similarity

		return StateReturned, nil
	}

	return StateDocumentLookup, nil
}

// documentLookup probes the document index with the query vector.
func (o *Orchestrator) documentLookup(ctx context.Context, req *request) (State, error) {
	sctx, cancel := o.stepCtx(ctx)
	defer cancel()

	hits, err := o.docs.SearchVector(sctx, req.vector, o.opts.docTopK, o.opts.docThreshold)
	if err != nil {
		if o.opts.degradeOnLookupError {
			o.opts.logger.LogLookupDegraded(ctx, StateDocumentLookup, err)

			return StateExternalRetrieve, nil
		}

		return StateFailed, lookupError(StateDocumentLookup, err)
	}

	if len(hits) == 0 {
		return StateExternalRetrieve, nil
	}

	req.docs = make([]Document, 0, len(hits))
	for _, h := range hits {
		req.docs = append(req.docs, Document{SourceURL: h.SourceURL, Content: h.Text})
	}
	req.source = SourceGrounded

	return StateGenerate, nil
}

// externalRetrieve delegates to the external retriever. Retrieval is best
// effort: a failure or empty result falls through to ungrounded generation
// instead of failing the request.
func (o *Orchestrator) externalRetrieve(ctx context.Context, req *request) (State, error) {
	if o.opts.retrieveLimiter != nil {
		if err := o.opts.retrieveLimiter.Wait(ctx); err != nil {
			return StateFailed, translateError(StateExternalRetrieve.String(), err)
		}
	}

	rctx, cancel := context.WithTimeout(ctx, o.opts.retrieveTimeout)
	defer cancel()

	docs, err := o.retriever.Retrieve(rctx, req.query)
	if err != nil {
		o.opts.logger.WarnContext(ctx, "external retrieval failed",
			"error", err,
		)
	}

	if err != nil || len(docs) == 0 {
		req.docs = nil
		req.source = SourceUngrounded

		return StateGenerate, nil
	}

	req.docs = docs
	req.source = SourceExternal

	return StateGenerate, nil
}

// generate produces the answer. A generation failure fails the request
// before any write-back; a failed generation is reported, never cached.
func (o *Orchestrator) generate(ctx context.Context, req *request) (State, error) {
	gctx, cancel := o.stepCtx(ctx)
	defer cancel()

	answer, err := o.generator.Generate(gctx, req.query, req.docs)
	if err != nil {
		return StateFailed, providerError(StateGenerate, "generate", err)
	}

	req.answer = answer

	return StateWriteBack, nil
}

// writeBack stores the generated answer in the QA cache, reusing the query
// vector from the lookup step. Write-back is best effort: failures are
// logged and recorded, never surfaced, because the answer was already
// produced.
func (o *Orchestrator) writeBack(ctx context.Context, req *request) State {
	if req.source == SourceUngrounded && !o.opts.cacheUngrounded {
		return StateReturned
	}

	start := time.Now()

	id, err := o.cache.SaveVector(ctx, req.query, req.answer, req.vector, schema.Attributes{
		"source": schema.String(string(req.source)),
	})

	o.opts.metricsCollector.RecordWriteBack(time.Since(start), err)
	o.opts.logger.LogWriteBack(ctx, id, err)

	return StateReturned
}
