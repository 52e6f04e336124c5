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

	"github.com/hybridcore/core/internal/filter"
	"github.com/hybridcore/core/internal/fusion"
	"github.com/hybridcore/core/internal/model"
)

// VectorStore implements approximate nearest-neighbor search over content
// embeddings using coder/hnsw, with filter predicates pushed down as a
// post-match step inside the search call.
type VectorStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	items   map[string]*model.ContentItem
	nextKey uint64

	closed bool
}

type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
	Items   map[string]*model.ContentItem
}

// NewVectorStore builds an empty vector store.
func NewVectorStore(cfg VectorStoreConfig) *VectorStore {
	if cfg.Metric == "" {
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
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &VectorStore{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		items:  make(map[string]*model.ContentItem),
	}
}

// Upsert inserts or replaces content items, indexing their embeddings.
// Items are stored in full so filter predicates can be evaluated at search
// time without a second round-trip to a metadata store.
func (s *VectorStore) Upsert(ctx context.Context, items []*model.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, item := range items {
		if len(item.Embedding) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(item.Embedding)}
		}
	}

	for _, item := range items {
		// Lazy deletion on re-insert: coder/hnsw does not support removing
		// the last remaining node cleanly, so existing keys are orphaned
		// rather than deleted from the graph.
		if existingKey, exists := s.idMap[item.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, item.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(item.Embedding))
		copy(vec, item.Embedding)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[item.ID] = key
		s.keyMap[key] = item.ID
		s.items[item.ID] = item
	}

	return nil
}

// Delete removes content items from the index.
func (s *VectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.items, id)
	}
	return nil
}

// Search runs ANN search for the k nearest content items to query,
// applying filters as a hard predicate. Because the underlying graph has
// no predicate-aware traversal, candidates are oversampled and filtered
// locally; the oversample factor grows until k matches are found or the
// whole graph has been considered.
func (s *VectorStore) Search(ctx context.Context, query []float32, filters model.Filters, k int) ([]fusion.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []fusion.VectorHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	evaluator := filter.New(filters, nil)

	const maxOversample = 8
	hits := make([]fusion.VectorHit, 0, k)
	seen := make(map[string]struct{}, k)

	for attempt := 1; attempt <= maxOversample; attempt++ {
		candidateK := k * attempt * 4
		if candidateK > s.graph.Len() {
			candidateK = s.graph.Len()
		}

		nodes := s.graph.Search(normalized, candidateK)
		hits = hits[:0]
		for id := range seen {
			delete(seen, id)
		}

		for _, node := range nodes {
			id, ok := s.keyMap[node.Key]
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			item := s.items[id]
			if item != nil && !evaluator.Matches(item) {
				continue
			}

			distance := s.graph.Distance(normalized, node.Value)
			hits = append(hits, fusion.VectorHit{ContentID: id, Similarity: cosineSimilarityFromDistance(distance)})
			seen[id] = struct{}{}

			if len(hits) >= k {
				break
			}
		}

		if len(hits) >= k || candidateK >= s.graph.Len() {
			break
		}
	}

	return hits, nil
}

// GetMany returns the content items for the given ids, skipping any id not
// present in the store. Used by the orchestrator to resolve full catalog
// records for fused hits ahead of personalization and response assembly.
func (s *VectorStore) GetMany(ids []string) map[string]*model.ContentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*model.ContentItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out[id] = item
		}
	}
	return out
}

// Count reports the number of live (non-orphaned) vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Close marks the store unusable for further operations.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Save persists the graph and its ID/content mappings to path (graph) and
// path+".meta" (gob-encoded), both written via temp-file-then-rename for
// atomicity.
func (s *VectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *VectorStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := vectorMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config, Items: s.items}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a previously Saved graph and its mappings.
func (s *VectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (s *VectorStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.items = meta.Items
	if s.items == nil {
		s.items = make(map[string]*model.ContentItem)
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
}

// cosineSimilarityFromDistance converts coder/hnsw's cosine distance
// (0=identical, 2=opposite) into a [0,1] similarity score.
func cosineSimilarityFromDistance(distance float32) float64 {
	sim := 1.0 - float64(distance)/2.0
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}
