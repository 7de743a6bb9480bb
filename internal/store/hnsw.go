package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore keeps one HNSW graph per indexing run, persisted as
// {dir}/{run_id}.hnsw plus a gob sidecar with the key mapping. Graphs are
// loaded lazily on first access and must be flushed with SaveRun.
type HNSWStore struct {
	mu     sync.Mutex
	dir    string
	config VectorConfig
	graphs map[string]*runGraph
}

// runGraph is a single run's vector index. Chunk IDs are mapped to
// uint64 graph keys; deletion is lazy, removing only the mapping, so
// Count reflects live vectors while the graph may hold orphans.
type runGraph struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[uint64]string
	keyMap  map[string]uint64
	nextKey uint64
}

// graphMetadata is the gob-encoded sidecar persisted next to each graph.
type graphMetadata struct {
	IDMap   map[uint64]string
	NextKey uint64
	Config  VectorConfig
}

// NewHNSWStore creates a vector store rooted at dir.
func NewHNSWStore(dir string, config VectorConfig) (*HNSWStore, error) {
	if config.Dimensions <= 0 {
		config = DefaultVectorConfig()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
	}
	return &HNSWStore{
		dir:    dir,
		config: config,
		graphs: make(map[string]*runGraph),
	}, nil
}

func (s *HNSWStore) graphPath(runID string) string {
	return filepath.Join(s.dir, runID+".hnsw")
}

func (s *HNSWStore) metaPath(runID string) string {
	return filepath.Join(s.dir, runID+".hnsw.meta")
}

// get returns the run's graph, loading it from disk or creating a fresh
// one when no persisted graph exists.
func (s *HNSWStore) get(runID string) (*runGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.graphs[runID]; ok {
		return g, nil
	}

	g := &runGraph{
		idMap:  make(map[uint64]string),
		keyMap: make(map[string]uint64),
		graph:  s.newGraph(),
	}

	if s.dir != "" {
		if _, err := os.Stat(s.graphPath(runID)); err == nil {
			if err := s.loadGraph(runID, g); err != nil {
				return nil, err
			}
		}
	}

	s.graphs[runID] = g
	return g, nil
}

func (s *HNSWStore) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

func (s *HNSWStore) loadGraph(runID string, g *runGraph) error {
	f, err := os.Open(s.graphPath(runID))
	if err != nil {
		return fmt.Errorf("failed to open graph file: %w", err)
	}
	defer f.Close()

	// Import requires an io.ByteReader.
	if err := g.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph for run %s: %w", runID, err)
	}

	mf, err := os.Open(s.metaPath(runID))
	if err != nil {
		return fmt.Errorf("failed to open graph metadata: %w", err)
	}
	defer mf.Close()

	var meta graphMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode graph metadata: %w", err)
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	g.idMap = meta.IDMap
	if g.idMap == nil {
		g.idMap = make(map[uint64]string)
	}
	g.nextKey = meta.NextKey
	g.keyMap = make(map[string]uint64, len(g.idMap))
	for key, id := range g.idMap {
		g.keyMap[id] = key
	}
	return nil
}

// Add inserts vectors for the given chunk IDs. Vectors are normalized
// before insertion; re-adding an existing ID replaces its vector.
func (s *HNSWStore) Add(ctx context.Context, runID string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	g, err := s.get(runID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := vectors[i]
		if len(vec) != s.config.Dimensions {
			return &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)}
		}

		key, exists := g.keyMap[id]
		if !exists {
			key = g.nextKey
			g.nextKey++
			g.keyMap[id] = key
			g.idMap[key] = id
		}

		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeVector(normalized)
		g.graph.Add(hnsw.MakeNode(key, normalized))
	}
	return nil
}

// Search returns up to k chunks ranked by cosine similarity to query.
// Scores are true cosine similarity, so they may be negative for
// opposing vectors; callers apply their own thresholds.
func (s *HNSWStore) Search(ctx context.Context, runID string, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}
	g, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.idMap) == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVector(normalized)

	// Over-fetch to compensate for lazily deleted nodes still present
	// in the graph.
	orphans := g.graph.Len() - len(g.idMap)
	neighbors := g.graph.Search(normalized, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, n := range neighbors {
		id, ok := g.idMap[n.Key]
		if !ok {
			continue
		}
		dist := hnsw.CosineDistance(normalized, n.Value)
		results = append(results, &VectorResult{
			ChunkID: id,
			Score:   1 - dist,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes chunk IDs from the index. Removal is lazy: the graph
// node stays behind as an orphan until the run is reindexed.
func (s *HNSWStore) Delete(ctx context.Context, runID string, ids []string) error {
	g, err := s.get(runID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range ids {
		key, ok := g.keyMap[id]
		if !ok {
			continue
		}
		delete(g.keyMap, id)
		delete(g.idMap, key)
	}
	return nil
}

// Count returns the number of live vectors for a run.
func (s *HNSWStore) Count(runID string) (int, error) {
	g, err := s.get(runID)
	if err != nil {
		return 0, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.idMap), nil
}

// SaveRun persists the run's graph and metadata atomically via temp
// files renamed into place.
func (s *HNSWStore) SaveRun(runID string) error {
	if s.dir == "" {
		return nil
	}
	g, err := s.get(runID)
	if err != nil {
		return err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	graphPath := s.graphPath(runID)
	tmpGraph := graphPath + ".tmp"
	f, err := os.Create(tmpGraph)
	if err != nil {
		return fmt.Errorf("failed to create temp graph file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := g.graph.Export(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpGraph)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpGraph)
		return fmt.Errorf("failed to flush graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpGraph)
		return fmt.Errorf("failed to close graph file: %w", err)
	}

	metaPath := s.metaPath(runID)
	tmpMeta := metaPath + ".tmp"
	mf, err := os.Create(tmpMeta)
	if err != nil {
		_ = os.Remove(tmpGraph)
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	meta := graphMetadata{IDMap: g.idMap, NextKey: g.nextKey, Config: s.config}
	if err := gob.NewEncoder(mf).Encode(&meta); err != nil {
		_ = mf.Close()
		_ = os.Remove(tmpGraph)
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to encode graph metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(tmpGraph)
		_ = os.Remove(tmpMeta)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}

	if err := os.Rename(tmpGraph, graphPath); err != nil {
		return fmt.Errorf("failed to replace graph file: %w", err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		return fmt.Errorf("failed to replace metadata file: %w", err)
	}
	return nil
}

// DropRun removes the run's graph from memory and disk.
func (s *HNSWStore) DropRun(runID string) error {
	s.mu.Lock()
	delete(s.graphs, runID)
	s.mu.Unlock()

	if s.dir == "" {
		return nil
	}
	for _, path := range []string{s.graphPath(runID), s.metaPath(runID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// Close drops all in-memory graphs without persisting them.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs = make(map[string]*runGraph)
	return nil
}

// GraphStats describes one run's graph for diagnostics.
type GraphStats struct {
	RunID   string
	Vectors int
	Orphans int
}

// Stats returns diagnostics for a loaded or persisted run graph.
func (s *HNSWStore) Stats(runID string) (*GraphStats, error) {
	g, err := s.get(runID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &GraphStats{
		RunID:   runID,
		Vectors: len(g.idMap),
		Orphans: g.graph.Len() - len(g.idMap),
	}, nil
}

// normalizeVector scales vec to unit length in place. Zero vectors are
// left unchanged.
func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

var _ VectorStore = (*HNSWStore)(nil)
