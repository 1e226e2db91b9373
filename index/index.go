package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/semcache/hnsw"
	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/schema"
	"github.com/hupe1980/semcache/store"
)

// filterOversample widens the graph search when an attribute filter is set,
// so enough candidates survive post-filtering.
const filterOversample = 4

// SearchResult is one search hit with normalized similarity.
type SearchResult struct {
	// ID is the record ID.
	ID string

	// Similarity is the normalized score; higher is more similar.
	Similarity float32

	// Record is the full stored record.
	Record store.Record
}

// Filter restricts search results to records whose attribute field carries
// the given value.
type Filter struct {
	Field string
	Value schema.Value
}

// SearchOptions configures a single search call.
type SearchOptions struct {
	// EF overrides the query-time explore factor. Zero uses the index default.
	EF int

	// Filter restricts results by attribute value.
	Filter *Filter
}

// Index is the handle for one namespace. It is safe for concurrent use;
// records are independently keyed, so concurrent add/search/delete need no
// external locking.
type Index struct {
	spec  NamespaceSpec
	store store.Store
	graph *hnsw.HNSW

	mu       sync.RWMutex
	nodes    map[string]uint32 // record ID -> graph node
	ids      map[uint32]string // graph node -> record ID
	postings map[string]*roaring.Bitmap
}

func newGraph(spec NamespaceSpec) (*hnsw.HNSW, error) {
	distanceFunc, err := metric.Distance(spec.Metric)
	if err != nil {
		return nil, err
	}

	return hnsw.New(spec.Dimension, func(o *hnsw.Options) {
		o.DistanceFunc = distanceFunc
		if spec.M > 0 {
			o.M = spec.M
		}
		if spec.EFConstruction > 0 {
			o.EFConstruction = spec.EFConstruction
		}
		if spec.EF > 0 {
			o.EF = spec.EF
		}
	}), nil
}

// newIndex builds a namespace handle and rehydrates the graph from records
// already present in the store.
func newIndex(ctx context.Context, s store.Store, spec NamespaceSpec) (*Index, error) {
	graph, err := newGraph(spec)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		spec:     spec,
		store:    s,
		graph:    graph,
		nodes:    make(map[string]uint32),
		ids:      make(map[uint32]string),
		postings: make(map[string]*roaring.Bitmap),
	}

	records, err := s.List(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to rehydrate namespace %q: %w", spec.Name, err)
	}

	// Deterministic insertion order keeps rebuilt graphs reproducible.
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	for _, rec := range records {
		node, err := graph.Insert(rec.Vector)
		if err != nil {
			return nil, fmt.Errorf("failed to rehydrate record %q in namespace %q: %w", rec.ID, spec.Name, err)
		}

		ix.nodes[rec.ID] = node
		ix.ids[node] = rec.ID
		ix.addPostings(node, rec.Attrs)
	}

	return ix, nil
}

// Spec returns a copy of the namespace declaration.
func (ix *Index) Spec() NamespaceSpec {
	return ix.spec
}

func (ix *Index) compatible(spec NamespaceSpec) error {
	if ix.spec.Dimension != spec.Dimension {
		return &ErrNamespaceMismatch{
			Namespace: spec.Name,
			Reason:    fmt.Sprintf("dimension %d != existing %d", spec.Dimension, ix.spec.Dimension),
		}
	}

	if ix.spec.Metric != spec.Metric {
		return &ErrNamespaceMismatch{
			Namespace: spec.Name,
			Reason:    fmt.Sprintf("metric %s != existing %s", spec.Metric, ix.spec.Metric),
		}
	}

	if !ix.spec.Schema.Equal(spec.Schema) {
		return &ErrNamespaceMismatch{
			Namespace: spec.Name,
			Reason:    fmt.Sprintf("schema {%s} != existing {%s}", spec.Schema, ix.spec.Schema),
		}
	}

	return nil
}

// Add inserts or overwrites a record. Re-adding an existing ID replaces the
// record wholesale (last write wins, no versioning).
//
// Fails with hnsw.ErrDimensionMismatch if the vector length does not match
// the namespace dimension; the index is not mutated on failure.
func (ix *Index) Add(ctx context.Context, id string, vector []float32, content string, attrs schema.Attributes) error {
	if id == "" {
		return ErrEmptyID
	}

	if len(vector) != ix.spec.Dimension {
		return &hnsw.ErrDimensionMismatch{Expected: ix.spec.Dimension, Actual: len(vector)}
	}

	if err := ix.spec.Schema.Validate(attrs); err != nil {
		return &ErrSchemaViolation{Namespace: ix.spec.Name, Err: err}
	}

	rec := store.Record{
		ID:        id,
		Vector:    vector,
		Content:   content,
		Attrs:     attrs.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	if err := ix.store.Put(ctx, ix.spec.Name, rec); err != nil {
		return fmt.Errorf("failed to store record %q: %w", id, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.nodes[id]; ok {
		ix.graph.Delete(old)
		ix.removePostings(old)
		delete(ix.ids, old)
	}

	node, err := ix.graph.Insert(vector)
	if err != nil {
		return err
	}

	ix.nodes[id] = node
	ix.ids[node] = id
	ix.addPostings(node, attrs)

	return nil
}

// Search returns up to topK results with similarity >= scoreThreshold,
// sorted descending by similarity. Ties are broken by most recent CreatedAt
// first, then by ID, so ordering is deterministic. An empty result is a
// valid, non-error outcome.
func (ix *Index) Search(ctx context.Context, query []float32, topK int, scoreThreshold float32, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	opts := SearchOptions{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if len(query) != ix.spec.Dimension {
		return nil, &hnsw.ErrDimensionMismatch{Expected: ix.spec.Dimension, Actual: len(query)}
	}

	if topK <= 0 {
		return nil, nil
	}

	k := topK
	if opts.Filter != nil {
		k = topK * filterOversample
	}

	candidates, err := ix.graph.KNNSearch(query, k, opts.EF)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	var filterSet *roaring.Bitmap
	if opts.Filter != nil {
		filterSet = ix.postings[postingKey(opts.Filter.Field, opts.Filter.Value)]
	}

	type hit struct {
		id         string
		similarity float32
	}

	hits := make([]hit, 0, len(candidates))
	for _, c := range candidates {
		if opts.Filter != nil && (filterSet == nil || !filterSet.Contains(c.ID)) {
			continue
		}

		id, ok := ix.ids[c.ID]
		if !ok {
			continue
		}

		similarity := metric.Similarity(ix.spec.Metric, c.Distance)
		if similarity < scoreThreshold {
			continue
		}

		hits = append(hits, hit{id: id, similarity: similarity})
	}
	ix.mu.RUnlock()

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, ok, err := ix.store.Get(ctx, ix.spec.Name, h.id)
		if err != nil {
			return nil, fmt.Errorf("failed to load record %q: %w", h.id, err)
		}

		if !ok {
			// Raced with a delete; the graph tombstone lags the store.
			continue
		}

		results = append(results, SearchResult{ID: h.id, Similarity: h.similarity, Record: rec})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if !results[i].Record.CreatedAt.Equal(results[j].Record.CreatedAt) {
			return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
		}

		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Delete removes a record and reports whether it existed.
func (ix *Index) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}

	ix.mu.Lock()
	if node, ok := ix.nodes[id]; ok {
		ix.graph.Delete(node)
		ix.removePostings(node)
		delete(ix.nodes, id)
		delete(ix.ids, node)
	}
	ix.mu.Unlock()

	existed, err := ix.store.Delete(ctx, ix.spec.Name, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record %q: %w", id, err)
	}

	return existed, nil
}

// All returns every record of the namespace, most recent first.
func (ix *Index) All(ctx context.Context) ([]store.Record, error) {
	records, err := ix.store.List(ctx, ix.spec.Name)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}

		return records[i].ID < records[j].ID
	})

	return records, nil
}

// Len returns the number of live records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.nodes)
}

// SetEF changes the default query-time explore factor without rebuilding.
func (ix *Index) SetEF(ef int) {
	ix.graph.SetEF(ef)
}

// EF returns the current default query-time explore factor.
func (ix *Index) EF() int {
	return ix.graph.EF()
}

func postingKey(field string, v schema.Value) string {
	return field + "\x00" + v.Key()
}

// addPostings records node membership per attribute value. Caller holds the
// write lock.
func (ix *Index) addPostings(node uint32, attrs schema.Attributes) {
	for field, v := range attrs {
		key := postingKey(field, v)

		bm, ok := ix.postings[key]
		if !ok {
			bm = roaring.New()
			ix.postings[key] = bm
		}

		bm.Add(node)
	}
}

// removePostings drops a node from all posting lists. Caller holds the write
// lock.
func (ix *Index) removePostings(node uint32) {
	for key, bm := range ix.postings {
		bm.Remove(node)
		if bm.IsEmpty() {
			delete(ix.postings, key)
		}
	}
}
