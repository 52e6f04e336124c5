// Package orchestrator provides the Search(SearchRequest)->SearchResponse
// entry point that composes intent parsing, parallel vector/keyword
// retrieval, rank fusion, personalized reranking, pagination, and the
// cache-set/event-publish fire-and-forget tasks into the single in-process
// API the rest of the system calls.
//
// Every dependency is a narrow capability interface with one or two
// methods, so the orchestrator is mockable and testable end to end without
// any real I/O.
package orchestrator

import (
	"context"

	"github.com/hybridcore/core/internal/fusion"
	"github.com/hybridcore/core/internal/model"
)

// Embedder turns text into a dense vector. Satisfied by internal/embed's
// Embedder (and its cached/static/remote implementations).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IntentParser turns free text into a structured intent. Satisfied by
// internal/intent.Parser.
type IntentParser interface {
	Parse(ctx context.Context, text string) (model.ParsedIntent, error)
}

// VectorSearcher runs ANN search with filter push-down. Satisfied by
// internal/store.VectorStore.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, filters model.Filters, k int) ([]fusion.VectorHit, error)
}

// KeywordSearcher runs fielded BM25-style search with filter push-down.
// Satisfied by internal/store.KeywordIndex.
type KeywordSearcher interface {
	Search(ctx context.Context, queryText string, filters model.Filters, limit int) ([]fusion.KeywordHit, error)
}

// Fuser combines two ranked hit lists via RRF. Satisfied by
// internal/fusion.RankFuser.
type Fuser interface {
	Fuse(vectorHits []fusion.VectorHit, keywordHits []fusion.KeywordHit) []model.FusedHit
}

// Reranker applies personalization, quality boost, and diversity.
// Satisfied by internal/personalize.Reranker.
type Reranker interface {
	Rerank(ctx context.Context, fused []model.FusedHit, userID, adapterName string, contentByID map[string]*model.ContentItem, preferenceVec []float32) ([]model.SearchResult, error)
}

// Catalog resolves content items by id, used to turn FusedHit content IDs
// into full records for reranking and response assembly. Satisfied by
// internal/store.VectorStore.GetMany.
type Catalog interface {
	GetMany(ids []string) map[string]*model.ContentItem
}

// ResultCache is the subset of internal/cache.ResultCache the orchestrator
// drives directly.
type ResultCache interface {
	GetSearch(fingerprint string) (model.SearchResponse, bool)
	SetSearch(fingerprint string, resp model.SearchResponse)
}

// EventPublisher emits the fire-and-forget activity.SearchQuery event.
// Publish failures are logged by the orchestrator and must not affect the
// response.
type EventPublisher interface {
	Publish(ctx context.Context, event model.SearchQueryEvent) error
}
