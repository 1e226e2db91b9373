package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/semcache/blobstore"
	"github.com/hupe1980/semcache/codec"
	"github.com/hupe1980/semcache/metric"
	"github.com/hupe1980/semcache/schema"
	"github.com/hupe1980/semcache/store"
)

var snapshotMagic = [4]byte{'S', 'C', 'X', '1'}

const snapshotFormatVersion = uint8(1)

// Compression selects the snapshot body compression.
type Compression uint8

const (
	// CompressionNone stores the body uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses with zstd (best ratio).
	CompressionZstd
	// CompressionLZ4 compresses with lz4 (fastest).
	CompressionLZ4
)

// String returns the string representation of the Compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// SnapshotOptions configures snapshot creation.
type SnapshotOptions struct {
	// Codec marshals the snapshot payload. Defaults to codec.Default.
	// The codec name travels in the header, so loading validates it.
	Codec codec.Codec

	// Compression selects the body compression. Defaults to zstd.
	Compression Compression
}

// snapshotPayload is the persisted form of one namespace: its declaration,
// every record, the serialized graph and the record-to-node mapping.
type snapshotPayload struct {
	Name           string            `json:"name"`
	Dimension      int               `json:"dimension"`
	Metric         string            `json:"metric"`
	Schema         schema.Fields     `json:"schema,omitempty"`
	M              int               `json:"m"`
	EFConstruction int               `json:"ef_construction"`
	EF             int               `json:"ef"`
	Records        []store.Record    `json:"records"`
	IDMap          map[string]uint32 `json:"id_map"`
	Graph          []byte            `json:"graph"`
}

// SaveSnapshot persists the namespace to a blob: records, graph and
// declaration in one self-describing blob.
//
// Format: magic, version, compression, codec name length, codec name,
// compressed codec-marshaled payload.
func (ix *Index) SaveSnapshot(ctx context.Context, bs blobstore.BlobStore, name string, optFns ...func(o *SnapshotOptions)) error {
	opts := SnapshotOptions{
		Codec:       codec.Default,
		Compression: CompressionZstd,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	records, err := ix.store.List(ctx, ix.spec.Name)
	if err != nil {
		return fmt.Errorf("failed to list records for snapshot: %w", err)
	}

	graph, err := ix.graph.GobEncode()
	if err != nil {
		return fmt.Errorf("failed to serialize graph: %w", err)
	}

	ix.mu.RLock()
	idMap := make(map[string]uint32, len(ix.nodes))
	for id, node := range ix.nodes {
		idMap[id] = node
	}
	ix.mu.RUnlock()

	payload := snapshotPayload{
		Name:           ix.spec.Name,
		Dimension:      ix.spec.Dimension,
		Metric:         ix.spec.Metric.String(),
		Schema:         ix.spec.Schema,
		M:              ix.spec.M,
		EFConstruction: ix.spec.EFConstruction,
		EF:             ix.spec.EF,
		Records:        records,
		IDMap:          idMap,
		Graph:          graph,
	}

	body, err := opts.Codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	body, err = compress(body, opts.Compression)
	if err != nil {
		return err
	}

	codecName := opts.Codec.Name()

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.WriteByte(snapshotFormatVersion)
	buf.WriteByte(byte(opts.Compression))

	var nameLen [2]byte
	binary.LittleEndian.PutUint16(nameLen[:], uint16(len(codecName)))
	buf.Write(nameLen[:])
	buf.WriteString(codecName)
	buf.Write(body)

	return bs.Put(ctx, name, buf.Bytes())
}

// LoadSnapshot restores a namespace from a blob and registers it in the
// catalog. Records are written into the catalog's store; an existing
// namespace with an incompatible declaration is a mismatch error.
func (c *Catalog) LoadSnapshot(ctx context.Context, bs blobstore.BlobStore, name string) (*Index, error) {
	data, err := bs.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %q: %w", name, err)
	}

	if len(data) < 8 || !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("snapshot %q: invalid magic", name)
	}

	if version := data[4]; version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot %q: unsupported format version %d", name, version)
	}

	compression := Compression(data[5])

	codecNameLen := int(binary.LittleEndian.Uint16(data[6:8]))
	if len(data) < 8+codecNameLen {
		return nil, fmt.Errorf("snapshot %q: truncated header", name)
	}

	codecName := string(data[8 : 8+codecNameLen])

	cdc, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("snapshot %q: unknown codec %q", name, codecName)
	}

	body, err := decompress(data[8+codecNameLen:], compression)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}

	var payload snapshotPayload
	if err := cdc.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("snapshot %q: failed to unmarshal payload: %w", name, err)
	}

	metricType, err := metric.ParseType(payload.Metric)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}

	spec := NamespaceSpec{
		Name:           payload.Name,
		Dimension:      payload.Dimension,
		Metric:         metricType,
		Schema:         payload.Schema,
		M:              payload.M,
		EFConstruction: payload.EFConstruction,
		EF:             payload.EF,
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", name, err)
	}

	graph, err := newGraph(spec)
	if err != nil {
		return nil, err
	}

	if err := graph.GobDecode(payload.Graph); err != nil {
		return nil, fmt.Errorf("snapshot %q: failed to restore graph: %w", name, err)
	}

	ix := &Index{
		spec:     spec,
		store:    c.store,
		graph:    graph,
		nodes:    make(map[string]uint32, len(payload.IDMap)),
		ids:      make(map[uint32]string, len(payload.IDMap)),
		postings: make(map[string]*roaring.Bitmap),
	}

	for id, node := range payload.IDMap {
		ix.nodes[id] = node
		ix.ids[node] = id
	}

	for _, rec := range payload.Records {
		if err := c.store.Put(ctx, spec.Name, rec); err != nil {
			return nil, fmt.Errorf("snapshot %q: failed to restore record %q: %w", name, rec.ID, err)
		}

		if node, ok := ix.nodes[rec.ID]; ok {
			ix.addPostings(node, rec.Attrs)
		}
	}

	if err := c.register(ix); err != nil {
		return nil, err
	}

	return ix, nil
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		var buf bytes.Buffer

		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}

		if _, err := enc.Write(data); err != nil {
			return nil, err
		}

		if err := enc.Close(); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	case CompressionLZ4:
		var buf bytes.Buffer

		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}

		if err := w.Close(); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()

		return io.ReadAll(dec)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}
