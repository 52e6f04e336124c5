package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/hybridcore/core/internal/filter"
	"github.com/hybridcore/core/internal/fusion"
	"github.com/hybridcore/core/internal/model"
)

// Field boosts: title counts three times as much as overview, genres
// twice.
const (
	titleBoost    = 3.0
	overviewBoost = 1.0
	genresBoost   = 2.0
)

// keywordDocument is the Bleve-indexed projection of a content item.
type keywordDocument struct {
	Title    string `json:"title"`
	Overview string `json:"overview"`
	Genres   string `json:"genres"`
}

// KeywordIndex is a fielded inverted index over {title, overview, genres}
// scored with Bleve's default BM25-style similarity.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string

	items  map[string]*model.ContentItem
	closed bool
}

// NewKeywordIndex opens or creates a Bleve index at path. An empty path
// creates an in-memory index, used by tests and by the static-catalog
// smoke command.
func NewKeywordIndex(path string) (*KeywordIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create directory: %w", mkErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &KeywordIndex{index: idx, path: path, items: make(map[string]*model.ContentItem)}, nil
}

// Upsert adds or replaces content items in the index.
func (k *KeywordIndex) Upsert(ctx context.Context, items []*model.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, item := range items {
		doc := keywordDocument{
			Title:    item.Title,
			Overview: item.Overview,
			Genres:   strings.Join(item.Genres, " "),
		}
		if err := batch.Index(item.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", item.ID, err)
		}
		k.items[item.ID] = item
	}
	return k.index.Batch(batch)
}

// Delete removes content items from the index.
func (k *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
		delete(k.items, id)
	}
	return k.index.Batch(batch)
}

// normalizeQuery lowercases and trims the query outside the BM25
// analyzer's own tokenization; the analyzer handles Unicode folding and
// punctuation stripping.
func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// Search runs a disjunction of boosted per-field match queries over
// {title, overview, genres} and applies filters as post-match predicates.
func (k *KeywordIndex) Search(ctx context.Context, queryText string, filters model.Filters, limit int) ([]fusion.KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	normalized := normalizeQuery(queryText)
	if normalized == "" || limit <= 0 {
		return []fusion.KeywordHit{}, nil
	}

	titleQuery := bleve.NewMatchQuery(normalized)
	titleQuery.SetField("title")
	titleQuery.SetBoost(titleBoost)

	overviewQuery := bleve.NewMatchQuery(normalized)
	overviewQuery.SetField("overview")
	overviewQuery.SetBoost(overviewBoost)

	genresQuery := bleve.NewMatchQuery(normalized)
	genresQuery.SetField("genres")
	genresQuery.SetBoost(genresBoost)

	disjunction := bleve.NewDisjunctionQuery(titleQuery, overviewQuery, genresQuery)

	evaluator := filter.New(filters, nil)

	// Over-fetch to absorb post-match filtering, same oversampling
	// rationale as the vector store.
	fetchSize := limit * 4
	if fetchSize < limit {
		fetchSize = limit
	}

	req := bleve.NewSearchRequestOptions(disjunction, fetchSize, 0, false)
	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]fusion.KeywordHit, 0, limit)
	for _, hit := range result.Hits {
		item := k.items[hit.ID]
		if item != nil && !evaluator.Matches(item) {
			continue
		}
		hits = append(hits, fusion.KeywordHit{ContentID: hit.ID, Score: hit.Score})
		if len(hits) >= limit {
			break
		}
	}

	return hits, nil
}

// Close releases the underlying Bleve index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
