package hnsw

import (
	"bytes"
	"encoding/gob"

	"github.com/bits-and-blooms/bitset"
)

// Compile time checks to ensure HNSW satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*HNSW)(nil)
	_ gob.GobDecoder = (*HNSW)(nil)
)

// graphState is the persisted subset of the graph. The distance function is
// not serializable; decode restores state into a graph constructed with the
// desired options.
type graphState struct {
	Dimension      int
	ML             float64
	EP             uint32
	MaxLevel       int
	Nodes          []*Node
	Deleted        []byte
	M              int
	EFConstruction int
	EF             int
	Heuristic      bool
}

// GobEncode serializes the graph structure. Tuning parameters travel with the
// snapshot; the distance function does not.
func (h *HNSW) GobEncode() ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	deleted, err := h.deleted.MarshalBinary()
	if err != nil {
		return nil, err
	}

	state := graphState{
		Dimension:      h.dimension,
		ML:             h.ml,
		EP:             h.ep,
		MaxLevel:       h.maxLevel,
		Nodes:          h.nodes,
		Deleted:        deleted,
		M:              h.opts.M,
		EFConstruction: h.opts.EFConstruction,
		EF:             h.opts.EF,
		Heuristic:      h.opts.Heuristic,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores the graph structure. The receiver keeps its configured
// DistanceFunc and random seed.
func (h *HNSW) GobDecode(data []byte) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var state graphState
	if err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&state); err != nil {
		return err
	}

	deleted := bitset.New(uint(len(state.Nodes)))
	if err := deleted.UnmarshalBinary(state.Deleted); err != nil {
		return err
	}

	h.dimension = state.Dimension
	h.ml = state.ML
	h.ep = state.EP
	h.maxLevel = state.MaxLevel
	h.nodes = state.Nodes
	h.deleted = deleted
	h.opts.M = state.M
	h.opts.EFConstruction = state.EFConstruction
	h.opts.EF = state.EF
	h.opts.Heuristic = state.Heuristic
	h.mmax = state.M
	h.mmax0 = 2 * state.M

	return nil
}
