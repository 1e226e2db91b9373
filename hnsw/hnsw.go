// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search.
//
// The graph is safe for concurrent use: inserts and deletes take an exclusive
// lock, searches a shared lock. Deletes are tombstones; the node stays in the
// graph for routing but is excluded from results.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/queue"
)

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Candidate is a raw search result: an internal node id and its distance to
// the query. Distance-to-similarity conversion happens in the index layer.
type Candidate struct {
	ID       uint32
	Distance float32
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new element
	// during construction. Higher M improves recall and memory usage on
	// high-dimensional data; the range 12-48 is fine for most use cases.
	M int

	// EFConstruction specifies the size of the dynamic candidate list while
	// building the graph. Larger values improve index quality at the cost of
	// slower construction.
	EFConstruction int

	// EF specifies the default size of the dynamic candidate list at query
	// time. Larger values improve recall at the cost of latency. It can be
	// changed at runtime via SetEF and overridden per query.
	EF int

	// Heuristic indicates whether to use the heuristic neighbour selection
	// (true) or the naive closest-M selection (false).
	Heuristic bool

	// DistanceFunc is the distance function used for all comparisons.
	// It is not persisted; snapshots re-inject it on load.
	DistanceFunc metric.DistanceFunc

	// RandomSeed seeds level generation for deterministic construction.
	// Zero means a non-deterministic seed.
	RandomSeed int64
}

// DefaultOptions holds the default HNSW parameters.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EF:             50,
	Heuristic:      true,
	DistanceFunc:   metric.CosineDistance,
}

// HNSW represents the Hierarchical Navigable Small World graph
type HNSW struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point into the top layer
	maxLevel  int     // Current max level in use

	nodes   []*Node
	deleted *bitset.BitSet // Tombstoned node ids, excluded from results
	rng     *rand.Rand

	opts Options

	mutex sync.RWMutex
}

// Node represents a node in the HNSW graph
type Node struct {
	Connections [][]uint32 // Links to other nodes, per layer
	Vector      []float32
	Layer       int
	ID          uint32
}

// New creates a new HNSW instance with the given dimension and options
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero in the level normalizer
		opts.M = 2
	}

	seed := opts.RandomSeed
	if seed == 0 {
		seed = rand.Int63()
	}

	deleted := bitset.New(1)
	// Node 0 is a synthetic entry point with a zero vector; it must never
	// surface as a search result.
	deleted.Set(0)

	return &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ep:        0,
		maxLevel:  0,
		ml:        1 / math.Log(1.0*float64(opts.M)),
		nodes:     []*Node{{ID: 0, Layer: 0, Vector: make([]float32, dimension), Connections: make([][]uint32, 2*opts.M+1)}},
		deleted:   deleted,
		rng:       rand.New(rand.NewSource(seed)), // nolint gosec
		opts:      opts,
	}
}

// Dimension returns the fixed vector dimension of the graph.
func (h *HNSW) Dimension() int {
	return h.dimension
}

// EF returns the current default query-time explore factor.
func (h *HNSW) EF() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.opts.EF
}

// SetEF adjusts the default query-time explore factor without rebuilding.
func (h *HNSW) SetEF(ef int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if ef > 0 {
		h.opts.EF = ef
	}
}

// Len returns the number of live (non-deleted) nodes.
func (h *HNSW) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.nodes) - int(h.deleted.Count())
}

// Insert inserts a new vector into the HNSW graph and returns its node id.
func (h *HNSW) Insert(v []float32) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	// Copy so later caller mutations don't affect the node
	vectorCopy := make([]float32, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	id := uint32(len(h.nodes))

	node := &Node{
		ID:          id,
		Vector:      vectorCopy,
		Layer:       int(math.Floor(-math.Log(h.rng.Float64()) * h.ml)),
		Connections: make([][]uint32, h.mmax+1),
	}

	// Find single shortest path from top layers above our node, which will be
	// the starting point for layer-local searches
	currObj, currDist, err := h.findShortestPath(node)
	if err != nil {
		return 0, err
	}

	topCandidates := &queue.PriorityQueue{
		Order: false,
	}

	// For all levels equal and below our node, find the closest candidates and link
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		err = h.searchLayer(vectorCopy, &queue.PriorityQueueItem{Distance: currDist, Node: currObj.ID}, topCandidates, h.opts.EFConstruction, level)
		if err != nil {
			return 0, err
		}

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(topCandidates, h.opts.M, false)
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		node.Connections[level] = make([]uint32, topCandidates.Len())

		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = candidate.Node
		}
	}

	h.nodes = append(h.nodes, node)

	// Link the neighbour nodes back to the new node, making it visible
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbourNode := range node.Connections[level] {
			if err := h.link(neighbourNode, node.ID, level); err != nil {
				return 0, err
			}
		}
	}

	if node.Layer > h.maxLevel {
		h.ep = node.ID
		h.maxLevel = node.Layer
	}

	return node.ID, nil
}

// Delete tombstones a node. It reports whether a live node existed.
// The node keeps routing traffic through its links but is excluded from
// search results.
func (h *HNSW) Delete(id uint32) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if id >= uint32(len(h.nodes)) || h.deleted.Test(uint(id)) {
		return false
	}

	h.deleted.Set(uint(id))

	return true
}

// KNNSearch performs a k-nearest neighbor search in the HNSW graph.
// efSearch <= 0 uses the configured default EF. Results are sorted by
// ascending distance and exclude tombstoned nodes.
func (h *HNSW) KNNSearch(q []float32, k int, efSearch int) ([]Candidate, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if efSearch <= 0 {
		efSearch = h.opts.EF
	}

	// Tombstones are filtered after traversal, so widen the candidate list to
	// keep k live results reachable.
	ef := max(efSearch, k) + int(h.deleted.Count())

	currObj := h.nodes[h.ep]

	match, currDist, err := h.findEp(q, currObj)
	if err != nil {
		return nil, err
	}

	var node uint32
	if match != nil {
		node = match.ID
	}

	topCandidates := &queue.PriorityQueue{
		Order: true,
	}
	heap.Init(topCandidates)

	if err := h.searchLayer(q, &queue.PriorityQueueItem{Distance: currDist, Node: node}, topCandidates, ef, 0); err != nil {
		return nil, err
	}

	return h.collect(topCandidates, k), nil
}

// BruteSearch performs an exact search over all live nodes.
func (h *HNSW) BruteSearch(q []float32, k int) ([]Candidate, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	topCandidates := &queue.PriorityQueue{
		Order: true,
	}
	heap.Init(topCandidates)

	for _, node := range h.nodes {
		if h.deleted.Test(uint(node.ID)) {
			continue
		}

		nodeDist, err := h.opts.DistanceFunc(q, node.Vector)
		if err != nil {
			return nil, err
		}

		if topCandidates.Len() < k {
			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: node.ID, Distance: nodeDist})
			continue
		}

		largestDist, _ := topCandidates.Top().(*queue.PriorityQueueItem)

		if nodeDist < largestDist.Distance {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: node.ID, Distance: nodeDist})
		}
	}

	return h.collect(topCandidates, k), nil
}

// collect drains a max-heap of candidates into a distance-ascending slice of
// at most k live candidates.
func (h *HNSW) collect(topCandidates *queue.PriorityQueue, k int) []Candidate {
	live := make([]Candidate, 0, topCandidates.Len())

	for topCandidates.Len() > 0 {
		item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
		if h.deleted.Test(uint(item.Node)) {
			continue
		}

		live = append(live, Candidate{ID: item.Node, Distance: item.Distance})
	}

	// Heap popped farthest-first; reverse into ascending order
	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}

	if len(live) > k {
		live = live[:k]
	}

	return live
}

func (h *HNSW) findShortestPath(node *Node) (*Node, float32, error) {
	currObj := h.nodes[h.ep]

	currDist, err := h.opts.DistanceFunc(currObj.Vector, node.Vector)
	if err != nil {
		return nil, 0, err
	}

	for level := currObj.Layer; level > node.Layer; level-- {
		changed := true
		for changed {
			changed = false

			for _, nodeID := range currObj.Connections[level] {
				newObj := h.nodes[nodeID]

				newDist, err := h.opts.DistanceFunc(newObj.Vector, node.Vector)
				if err != nil {
					return nil, 0, err
				}

				if newDist < currDist {
					currObj = newObj
					currDist = newDist
					changed = true
				}
			}
		}
	}

	return currObj, currDist, nil
}

// link adds a connection between nodes and prunes the neighbour list when it
// exceeds the per-layer maximum.
func (h *HNSW) link(first uint32, second uint32, level int) error {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) > maxConnections {
		topCandidates := &queue.PriorityQueue{
			Order: false,
		}

		heap.Init(topCandidates)

		for _, id := range node.Connections[level] {
			distance, err := h.opts.DistanceFunc(node.Vector, h.nodes[id].Vector)
			if err != nil {
				return err
			}

			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: id, Distance: distance})
		}

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(topCandidates, maxConnections, true)
		} else {
			h.selectNeighboursSimple(topCandidates, maxConnections)
		}

		// Reorder the connected nodes by the improved lower distances
		node.Connections[level] = make([]uint32, maxConnections)

		for i := maxConnections - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = item.Node
		}
	}

	return nil
}

// searchLayer performs a search in a specified layer of the HNSW graph
func (h *HNSW) searchLayer(q []float32, ep *queue.PriorityQueueItem, topCandidates *queue.PriorityQueue, ef int, level int) error {
	var visited bitset.BitSet

	visited.Set(uint(ep.Node))

	candidates := &queue.PriorityQueue{
		Order: false,
	}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	heap.Init(topCandidates)
	heap.Push(topCandidates, ep)

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*queue.PriorityQueueItem).Distance

		candidate, _ := heap.Pop(candidates).(*queue.PriorityQueueItem)
		if candidate.Distance > lowerBound {
			break
		}

		node := h.nodes[candidate.Node]

		if len(node.Connections) > level {
			conns := node.Connections[level]

			for _, n := range conns {
				if visited.Test(uint(n)) {
					continue
				}

				visited.Set(uint(n))

				distance, err := h.opts.DistanceFunc(q, h.nodes[n].Vector)
				if err != nil {
					return err
				}

				topDistance := topCandidates.Top().(*queue.PriorityQueueItem).Distance

				item := &queue.PriorityQueueItem{
					Distance: distance,
					Node:     n,
				}

				if topCandidates.Len() < ef {
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				} else if topDistance > distance {
					heap.Pop(topCandidates)
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				}
			}
		}
	}

	return nil
}

// selectNeighboursSimple selects the nearest neighbors using a simple approach
func (h *HNSW) selectNeighboursSimple(topCandidates *queue.PriorityQueue, m int) {
	for topCandidates.Len() > m {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic selects the nearest neighbors using a heuristic
// that prefers candidates closer to the query than to any already-kept
// candidate, improving graph connectivity.
func (h *HNSW) selectNeighboursHeuristic(topCandidates *queue.PriorityQueue, m int, order bool) {
	if topCandidates.Len() < m {
		return
	}

	newCandidates := &queue.PriorityQueue{}

	tmpCandidates := &queue.PriorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*queue.PriorityQueueItem, 0, m)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= m {
			break
		}

		item, _ := heap.Pop(newCandidates).(*queue.PriorityQueueItem)
		hit := true

		for _, v := range items {
			distance, _ := h.opts.DistanceFunc(h.nodes[v.Node].Vector, h.nodes[item.Node].Vector)
			if distance < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	for len(items) < m && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*queue.PriorityQueueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}
}

// findEp finds the entry-point into layer 0 for the given query
func (h *HNSW) findEp(q []float32, currObj *Node) (*Node, float32, error) {
	currDist, err := h.opts.DistanceFunc(q, currObj.Vector)
	if err != nil {
		return nil, 0, err
	}

	var match *Node

	for level := h.maxLevel; level > 0; level-- {
		scan := true

		for scan {
			scan = false

			for _, nodeID := range currObj.Connections[level] {
				nodeDist, err := h.opts.DistanceFunc(h.nodes[nodeID].Vector, q)
				if err != nil {
					return nil, 0, err
				}

				if nodeDist < currDist {
					match = h.nodes[nodeID]
					currObj = match
					currDist = nodeDist
					scan = true
				}
			}
		}
	}

	return match, currDist, nil
}
