// Package semcache implements semantic answer caching and vector retrieval
// for question answering pipelines.
//
// An Orchestrator answers each query by probing a QA cache of previously
// answered questions, then an index of grounding documents, then an external
// retriever, and finally generating an answer that is written back into the
// cache. Both stores are namespaces of the same HNSW-backed vector index;
// all matching is by embedding similarity.
//
// Basic usage:
//
//	catalog := index.NewCatalog(store.NewMapStore())
//	embedder := embcache.NewCachingEmbedder(embcache.New(), provider)
//
//	cache, err := qacache.New(ctx, catalog, embedder, dimension)
//	if err != nil { ... }
//
//	docs, err := docindex.New(ctx, catalog, embedder, dimension)
//	if err != nil { ... }
//
//	orch := semcache.New(embedder, retriever, generator, cache, docs)
//
//	result, err := orch.Ask(ctx, "What is Go?")
package semcache
