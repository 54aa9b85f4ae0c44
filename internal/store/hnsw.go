package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
)

var errStoreClosed = errors.New("vector store is closed")

// HNSWStore implements VectorStore on the pure Go coder/hnsw graph.
// Deleted ids are orphaned in the graph rather than removed, because
// removing the last node of a coder/hnsw graph corrupts it.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	keys    map[string]uint64 // chunk id -> graph key
	ids     map[uint64]string // graph key -> chunk id; orphans are absent
	nextKey uint64
	closed  bool
}

// VectorIndexInfo is what a saved index records about itself.
type VectorIndexInfo struct {
	Dimensions int
	Model      string
	Vectors    int
}

// hnswMetadata is the gob document saved next to the graph as <path>.meta.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty index.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric != "l2" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if cfg.Metric == "l2" {
		graph.Distance = hnsw.EuclideanDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:  graph,
		config: cfg,
		keys:   make(map[string]uint64),
		ids:    make(map[uint64]string),
	}, nil
}

// prepare copies v and normalises it for the cosine metric.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(out)
	}
	return out
}

// Add inserts vectors under ids. An id that is already present gets a new
// node and its old one becomes an orphan.
func (s *HNSWStore) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if old, ok := s.keys[id]; ok {
			delete(s.ids, old)
		}
		key := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(key, s.prepare(vectors[i])))
		s.keys[id] = key
		s.ids[key] = id
	}
	return nil
}

// Search finds the k nearest neighbours accepted by keep.
// With a filter the graph is queried with a growing candidate count until
// k accepted hits are found or the whole graph has been considered.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	total := s.graph.Len()
	if total == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)
	// Orphans take graph slots, so over-fetch from the start.
	want := k + total - len(s.keys)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want = min(want, total)
		results := s.collect(q, want, k, keep)
		if len(results) >= k || want >= total {
			return results, nil
		}
		want *= 2
	}
}

func (s *HNSWStore) collect(query []float32, candidates, k int, keep func(string) bool) []*VectorResult {
	results := make([]*VectorResult, 0, k)
	for _, node := range s.graph.Search(query, candidates) {
		id, live := s.ids[node.Key]
		if !live || (keep != nil && !keep(id)) {
			continue
		}
		d := s.graph.Distance(query, node.Value)
		results = append(results, &VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)})
		if len(results) == k {
			break
		}
	}
	return results
}

// Delete forgets ids. Unknown ids are ignored.
func (s *HNSWStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	for _, id := range ids {
		if key, ok := s.keys[id]; ok {
			delete(s.ids, key)
			delete(s.keys, id)
		}
	}
	return nil
}

// Contains reports whether id has a vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[id]
	return ok && !s.closed
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.keys)
}

// HNSWStats counts live vectors and orphaned graph nodes.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns live and orphaned node counts.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: len(s.keys), GraphNodes: nodes, Orphans: nodes - len(s.keys)}
}

// Save writes the graph to path and the id mapping to path+".meta". Each
// file is replaced atomically; the metadata goes last, so a crash between
// the two leaves a graph that Load reads with the previous mapping.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	if err := writeAtomic(path, func(w io.Writer) error { return s.graph.Export(w) }); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	meta := hnswMetadata{IDMap: s.keys, NextKey: s.nextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(w io.Writer) error { return gob.NewEncoder(w).Encode(meta) }); err != nil {
		return fmt.Errorf("save graph metadata: %w", err)
	}
	return nil
}

// writeAtomic replaces path with what write produces.
func writeAtomic(path string, write func(io.Writer) error) error {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Cleanup() }()

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}

// Load replaces the store contents with the index saved at path.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}

	meta, err := readMetadata(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer func() { _ = f.Close() }()
	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.keys = meta.IDMap
	s.ids = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.ids[key] = id
	}
	s.nextKey = meta.NextKey
	// The next Save records the model of whoever writes now.
	model := s.config.Model
	s.config = meta.Config
	if model != "" {
		s.config.Model = model
	}
	return nil
}

func readMetadata(path string) (*hnswMetadata, error) {
	f, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open graph metadata: %w", err)
	}
	defer func() { _ = f.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode graph metadata: %w", err)
	}
	return &meta, nil
}

// Close releases the graph. Closing twice is a no-op.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// ReadVectorIndexInfo reads what the index saved at path records about
// itself, without loading the graph. The zero value means no index has been
// saved there.
func ReadVectorIndexInfo(path string) (VectorIndexInfo, error) {
	meta, err := readMetadata(path)
	if errors.Is(err, os.ErrNotExist) {
		return VectorIndexInfo{}, nil
	}
	if err != nil {
		return VectorIndexInfo{}, err
	}
	return VectorIndexInfo{
		Dimensions: meta.Config.Dimensions,
		Model:      meta.Config.Model,
		Vectors:    len(meta.IDMap),
	}, nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance into [0, 1], 1 being identical. Cosine
// distance lies in [0, 2]; L2 distance is unbounded.
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance/2
}
