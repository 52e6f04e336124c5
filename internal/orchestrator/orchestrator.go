package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hybridcore/core/internal/cache"
	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/fusion"
	"github.com/hybridcore/core/internal/model"
)

// Config bounds the orchestrator's concurrency and per-stage deadlines.
// The CLI wiring fills it from config.SearchConfig/config.ServerConfig.
type Config struct {
	VectorCandidates  int
	KeywordCandidates int
	RetrievalTimeout  time.Duration
	RequestTimeout    time.Duration
	MaxConcurrent     int64
}

// DefaultConfig mirrors config.NewConfig()'s candidate counts and
// concurrency limit so the orchestrator is usable standalone in tests
// without threading a full config.Config through. Its RequestTimeout is
// 2s, not NewConfig()'s 5s search timeout.
func DefaultConfig() Config {
	return Config{
		VectorCandidates:  100,
		KeywordCandidates: 100,
		RetrievalTimeout:  250 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
		MaxConcurrent:     64,
	}
}

// Orchestrator is the single Search entry point composing intent parsing,
// parallel retrieval, fusion, personalized reranking, pagination, and the
// fire-and-forget cache-set / activity-publish side effects.
//
// Every collaborator is a narrow capability interface (capabilities.go) so
// this type is exercised in tests against fakes, never real I/O.
type Orchestrator struct {
	embedder  Embedder
	parser    IntentParser
	vsearch   VectorSearcher
	ksearch   KeywordSearcher
	fuser     Fuser
	reranker  Reranker
	catalog   Catalog
	cache     ResultCache
	publisher EventPublisher

	cfg Config
	sem *semaphore.Weighted
	log *slog.Logger
	now func() time.Time
}

// New builds an Orchestrator. cache and publisher may be nil: a nil cache
// disables the search-response cache (every request is a miss), a nil
// publisher makes event publication a no-op. Both are optional side
// channels whose absence must never affect result correctness.
func New(embedder Embedder, parser IntentParser, vsearch VectorSearcher, ksearch KeywordSearcher, fuser Fuser, reranker Reranker, catalog Catalog, resultCache ResultCache, publisher EventPublisher, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = DefaultConfig().RetrievalTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.VectorCandidates <= 0 {
		cfg.VectorCandidates = DefaultConfig().VectorCandidates
	}
	if cfg.KeywordCandidates <= 0 {
		cfg.KeywordCandidates = DefaultConfig().KeywordCandidates
	}
	return &Orchestrator{
		embedder:  embedder,
		parser:    parser,
		vsearch:   vsearch,
		ksearch:   ksearch,
		fuser:     fuser,
		reranker:  reranker,
		catalog:   catalog,
		cache:     resultCache,
		publisher: publisher,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		log:       log,
		now:       time.Now,
	}
}

// cacheKeyInputs is the struct fingerprinted for the search-response
// cache: every field the response depends on must appear here, or two
// distinct requests would collide on the same key.
type cacheKeyInputs struct {
	Query    string        `json:"query"`
	Filters  model.Filters `json:"filters,omitempty"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	UserID   string        `json:"user_id,omitempty"`
}

// Search runs the full hybrid search and personalization pipeline for one
// request.
func (o *Orchestrator) Search(ctx context.Context, req model.SearchRequest) (model.SearchResponse, error) {
	if !o.sem.TryAcquire(1) {
		return model.SearchResponse{}, coreerrors.Overloaded("too many concurrent searches in flight", nil)
	}
	defer o.sem.Release(1)

	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	req, err := validateRequest(req)
	if err != nil {
		return model.SearchResponse{}, err
	}

	fingerprint, fpErr := cache.Fingerprint(cacheKeyInputs{
		Query: req.Query, Filters: req.Filters, Page: req.Page, PageSize: req.PageSize, UserID: req.UserID,
	})
	if fpErr == nil && o.cache != nil {
		if cached, ok := o.cache.GetSearch(fingerprint); ok {
			return cached, nil
		}
	}

	intent, err := o.parser.Parse(ctx, req.Query)
	if err != nil {
		// Intent parsing degrades to the raw query rather than failing the
		// request; ParseOrFail-style hard failures shouldn't reach here
		// given internal/intent.Parser's own fallback chain, but a caller
		// satisfying IntentParser with no fallback still must not break
		// search.
		o.log.WarnContext(ctx, "intent parse failed, degrading to raw query", "error", err)
		intent = model.Degenerate(req.Query)
	}

	effectiveQuery := intent.EffectiveQuery()
	mergedFilters := intent.Filters.Merge(req.Filters)

	queryVec, embedErr := o.embedder.Embed(ctx, effectiveQuery)
	if embedErr != nil {
		o.log.WarnContext(ctx, "query embedding failed, vector path will be skipped", "error", embedErr)
	}

	fused, degradedPath, err := o.retrieve(ctx, effectiveQuery, queryVec, mergedFilters)
	if err != nil {
		return model.SearchResponse{}, err
	}

	ids := make([]string, len(fused))
	for i, hit := range fused {
		ids[i] = hit.ContentID
	}
	contentByID := o.catalog.GetMany(ids)

	// The adapter's forward pass wants a user preference vector, but no
	// component produces one per request. The query embedding stands in
	// as a proxy for "what the user wants right now".
	results, err := o.reranker.Rerank(ctx, fused, req.UserID, model.DefaultAdapterName, contentByID, queryVec)
	if err != nil {
		return model.SearchResponse{}, coreerrors.InternalError("reranking failed", err)
	}

	// A degraded response still succeeds, but every result records which
	// retrieval path was missing so callers can see the provenance gap.
	if degradedPath != "" {
		tag := "partial_retrieval:" + degradedPath
		for i := range results {
			results[i].MatchReasons = append(results[i].MatchReasons, tag)
		}
	}

	page := paginate(results, req.Page, req.PageSize)

	resp := model.SearchResponse{
		Results:      page,
		TotalCount:   len(results),
		Page:         req.Page,
		PageSize:     req.PageSize,
		QueryParsed:  intent,
		SearchTimeMs: o.now().Sub(start).Milliseconds(),
	}

	if fpErr == nil && o.cache != nil {
		o.fireAndForgetCacheSet(fingerprint, resp)
	}
	o.fireAndForgetPublish(req, resp, start)

	return resp, nil
}

// retrieve runs vector and keyword retrieval in parallel with a bounded
// per-path deadline, fusing whatever succeeds. Each goroutine captures its
// own error locally and always returns nil so one path's failure never
// cancels the other via errgroup's context. When exactly one path fails,
// the returned degraded string names it ("vector" or "keyword") so Search
// can annotate the affected results.
func (o *Orchestrator) retrieve(ctx context.Context, queryText string, queryVec []float32, filters model.Filters) ([]model.FusedHit, string, error) {
	retrievalCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()

	var (
		vectorHits  []fusion.VectorHit
		keywordHits []fusion.KeywordHit
		vectorErr   error
		keywordErr  error
	)

	g, gctx := errgroup.WithContext(retrievalCtx)

	g.Go(func() error {
		if queryVec == nil {
			vectorErr = coreerrors.EmbeddingUnavailable("no query embedding available", nil)
			return nil
		}
		vectorHits, vectorErr = o.vsearch.Search(gctx, queryVec, filters, o.cfg.VectorCandidates)
		return nil
	})

	g.Go(func() error {
		keywordHits, keywordErr = o.ksearch.Search(gctx, queryText, filters, o.cfg.KeywordCandidates)
		return nil
	})

	_ = g.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, "", coreerrors.SearchUnavailable("both vector and keyword retrieval failed", vectorErr)
	}

	degraded := ""
	if vectorErr != nil {
		degraded = "vector"
		vectorHits = nil
		o.log.WarnContext(ctx, "retrieval degraded",
			"error", coreerrors.PartialRetrieval("vector path unavailable", vectorErr))
	}
	if keywordErr != nil {
		degraded = "keyword"
		keywordHits = nil
		o.log.WarnContext(ctx, "retrieval degraded",
			"error", coreerrors.PartialRetrieval("keyword path unavailable", keywordErr))
	}

	return o.fuser.Fuse(vectorHits, keywordHits), degraded, nil
}

// paginate slices results for the requested page, returning an empty slice
// (never an error) when the page is beyond the result set, matching the
// pagination-coverage invariant that every item appears exactly once
// across the full page sequence.
func paginate(results []model.SearchResult, page, pageSize int) []model.SearchResult {
	start := (page - 1) * pageSize
	if start >= len(results) {
		return []model.SearchResult{}
	}
	end := start + pageSize
	if end > len(results) {
		end = len(results)
	}
	out := make([]model.SearchResult, end-start)
	copy(out, results[start:end])
	return out
}

// fireAndForgetCacheSet writes the response to the cache off the request
// path: its outcome must never affect the response already returned to the
// caller, and it runs on its own goroutine without the (by-then-canceled)
// request context; the in-memory cache set takes no context or deadline.
func (o *Orchestrator) fireAndForgetCacheSet(fingerprint string, resp model.SearchResponse) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Warn("panic in fire-and-forget cache set", "panic", r)
			}
		}()
		o.cache.SetSearch(fingerprint, resp)
	}()
}

// fireAndForgetPublish emits the SearchQuery activity event without
// blocking or affecting the response. Publish errors are logged and
// swallowed.
func (o *Orchestrator) fireAndForgetPublish(req model.SearchRequest, resp model.SearchResponse, start time.Time) {
	if o.publisher == nil {
		return
	}

	topK := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Content != nil {
			topK = append(topK, r.Content.ID)
		}
	}

	event := model.SearchQueryEvent{
		EventID:        uuid.NewString(),
		UserID:         req.UserID,
		Query:          req.Query,
		ResultsCount:   resp.TotalCount,
		TopKContentIDs: topK,
		LatencyMs:      o.now().Sub(start).Milliseconds(),
		Timestamp:      o.now(),
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Warn("panic in fire-and-forget event publish", "panic", r)
			}
		}()
		publishCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := o.publisher.Publish(publishCtx, event); err != nil {
			o.log.Warn("activity event publish failed", "error", err)
		}
	}()
}
