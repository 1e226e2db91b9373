// Package index provides namespaced vector indexes over an HNSW graph and a
// record store.
//
// A Catalog owns a shared record store and hands out one Index handle per
// namespace. Each namespace fixes a vector dimension, a distance metric and
// an attribute schema at creation; Ensure validates compatibility on every
// call instead of silently recreating a namespace with different settings.
//
// Searches report normalized similarity, never raw distance: higher is more
// similar regardless of metric (see the metric package for the conversion).
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/schema"
	"github.com/hupe1980/semcache/store"
)

// NamespaceSpec declares a namespace: its name, vector dimension, distance
// metric, attribute schema and HNSW tuning parameters.
type NamespaceSpec struct {
	// Name identifies the namespace, e.g. "document_index".
	Name string

	// Dimension is the fixed vector dimension. All records added to the
	// namespace must carry vectors of exactly this length.
	Dimension int

	// Metric selects the distance metric.
	Metric metric.Type

	// Schema declares the attribute fields. Adds are validated against it.
	Schema schema.Fields

	// M specifies the number of established connections for every new graph
	// element. Zero means the graph default.
	M int

	// EFConstruction specifies the candidate list size while building the
	// graph. Zero means the graph default.
	EFConstruction int

	// EF specifies the default candidate list size at query time. It can be
	// changed at runtime via Index.SetEF. Zero means the graph default.
	EF int
}

func (s NamespaceSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("namespace name must not be empty")
	}

	if s.Dimension <= 0 {
		return fmt.Errorf("namespace %q: dimension must be positive, got %d", s.Name, s.Dimension)
	}

	if _, err := metric.Distance(s.Metric); err != nil {
		return fmt.Errorf("namespace %q: %w", s.Name, err)
	}

	return nil
}

// Catalog manages namespaces over a shared record store.
// It is safe for concurrent use.
type Catalog struct {
	store      store.Store
	mu         sync.Mutex
	namespaces map[string]*Index
}

// NewCatalog creates a catalog over the given record store.
func NewCatalog(s store.Store) *Catalog {
	return &Catalog{
		store:      s,
		namespaces: make(map[string]*Index),
	}
}

// Ensure creates the namespace if absent, or validates compatibility and
// returns the existing handle. Concurrent first callers are serialized, so
// the namespace is initialized exactly once.
//
// A spec that disagrees with an existing namespace on dimension, metric or
// schema fails with ErrNamespaceMismatch.
func (c *Catalog) Ensure(ctx context.Context, spec NamespaceSpec) (*Index, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.namespaces[spec.Name]; ok {
		if err := existing.compatible(spec); err != nil {
			return nil, err
		}

		return existing, nil
	}

	ix, err := newIndex(ctx, c.store, spec)
	if err != nil {
		return nil, err
	}

	c.namespaces[spec.Name] = ix

	return ix, nil
}

// Namespace returns the handle for an already-ensured namespace.
func (c *Catalog) Namespace(name string) (*Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix, ok := c.namespaces[name]

	return ix, ok
}

// register installs a rebuilt index (snapshot load). An existing namespace
// with an incompatible spec is a mismatch error.
func (c *Catalog) register(ix *Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.namespaces[ix.spec.Name]; ok {
		if err := existing.compatible(ix.spec); err != nil {
			return err
		}
	}

	c.namespaces[ix.spec.Name] = ix

	return nil
}
