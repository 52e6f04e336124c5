// Package personalize's Reranker blends fused retrieval score, per-user
// LoRA personalization score, and a quality boost into a single
// relevance_score, then runs a greedy diversity pass before the
// orchestrator paginates.
package personalize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hybridcore/core/internal/model"
)

// Config carries the tunable reranker parameters, sourced from
// config.PersonalizationConfig.
type Config struct {
	Rank               int
	InputDim           int
	OutputDim          int
	ColdStartThreshold int
	BlendAlpha         float64
	BlendBeta          float64
	BlendGamma         float64
	DiversityThreshold float64
	FreshnessDecay     bool
}

// coldStartBeta is the collapsed personalization weight used while an
// adapter is still below ColdStartThreshold training iterations.
const coldStartBeta = 0.05

// coldStartDiversityFactor tightens the diversity threshold during
// cold-start so a still-uncertain personalization signal doesn't produce a
// narrow, repetitive result set.
const coldStartDiversityFactor = 0.5

// Reranker implements PersonalizationReranker.
type Reranker struct {
	adapters *AdapterStore
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
}

// NewReranker builds a Reranker. now defaults to time.Now; tests pass a
// fixed clock for deterministic freshness-decay assertions.
func NewReranker(adapters *AdapterStore, cfg Config, now func() time.Time, log *slog.Logger) *Reranker {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reranker{adapters: adapters, cfg: cfg, now: now, log: log}
}

// Rerank applies personalization, quality boost, and diversity to fused
// hits, returning an ordered []model.SearchResult of the same length as
// candidates present in contentByID (hits with no resolvable content are
// dropped — the catalog is the source of truth). userID empty skips
// personalization entirely, matching the absent-user-id contract.
func (r *Reranker) Rerank(ctx context.Context, fused []model.FusedHit, userID, adapterName string, contentByID map[string]*model.ContentItem, preferenceVec []float32) ([]model.SearchResult, error) {
	minScore, maxScore := fusedScoreRange(fused)
	if adapterName == "" {
		adapterName = model.DefaultAdapterName
	}

	personalize := false
	var adapter model.LoRAAdapter
	var userVec []float32
	coldStart := false

	if userID != "" && r.adapters != nil {
		loaded, found, err := r.adapters.LoadOrDefault(ctx, userID, adapterName, r.cfg.Rank, r.cfg.InputDim, r.cfg.OutputDim)
		if err != nil {
			r.log.Warn("adapter_load_failed", slog.String("user_id", userID), slog.Any("error", err))
		} else if found && loaded.TrainingIterations > 0 {
			adapter = loaded
			personalize = true
			coldStart = loaded.TrainingIterations < r.cfg.ColdStartThreshold
			userVec = Forward(adapter, preferenceVec)
		}
		// found==false or TrainingIterations==0: a random-init adapter
		// would only inject noise, so skip personalization entirely and
		// let diversity compensate.
	}

	beta := r.cfg.BlendBeta
	alpha := r.cfg.BlendAlpha
	gamma := r.cfg.BlendGamma
	if !personalize {
		// Without a usable adapter the contract is the plain normalized
		// fused ordering: no personalization term and no quality term.
		alpha, beta, gamma = 1, 0, 0
	} else if coldStart {
		beta = coldStartBeta
		alpha = r.cfg.BlendAlpha + (r.cfg.BlendBeta - coldStartBeta)
		gamma = r.cfg.BlendGamma
	}

	now := r.now()
	results := make([]model.SearchResult, 0, len(fused))
	for _, hit := range fused {
		item := contentByID[hit.ContentID]
		if item == nil {
			continue
		}

		normFused := normalize(hit.FusedScore, minScore, maxScore)
		quality := QualityBoost(item, r.cfg.FreshnessDecay, now)

		var personalScore float64
		if personalize {
			personalScore = CosineSimilarity(userVec, item.Embedding)
			// cosine is in [-1,1]; rescale to [0,1] so the blend stays
			// within the documented relevance_score range.
			personalScore = (personalScore + 1) / 2
		}

		relevance := alpha*normFused + beta*personalScore + gamma*quality
		if relevance < 0 {
			relevance = 0
		}
		if relevance > 1 {
			relevance = 1
		}

		reasons := matchReasons(hit, item, personalize, quality)

		result := model.SearchResult{
			Content:        item,
			RelevanceScore: relevance,
			MatchReasons:   reasons,
		}
		if hit.VectorSimilarity != nil {
			v := *hit.VectorSimilarity
			result.VectorSimilarity = &v
		}
		if hit.KeywordScore != nil {
			s := *hit.KeywordScore
			result.KeywordScore = &s
		}
		results = append(results, result)
	}

	threshold := r.cfg.DiversityThreshold
	if coldStart {
		threshold *= coldStartDiversityFactor
	}
	return diversify(results, threshold), nil
}

func fusedScoreRange(fused []model.FusedHit) (min, max float64) {
	if len(fused) == 0 {
		return 0, 1
	}
	min, max = fused[0].FusedScore, fused[0].FusedScore
	for _, h := range fused[1:] {
		if h.FusedScore < min {
			min = h.FusedScore
		}
		if h.FusedScore > max {
			max = h.FusedScore
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 1
	}
	return (v - min) / (max - min)
}

func matchReasons(hit model.FusedHit, item *model.ContentItem, personalized bool, quality float64) []string {
	reasons := make([]string, 0, 4)
	if hit.VectorRank != nil {
		if len(item.Genres) > 0 {
			reasons = append(reasons, fmt.Sprintf("vector:%s", item.Genres[0]))
		} else {
			reasons = append(reasons, "vector:match")
		}
	}
	if hit.KeywordRank != nil {
		reasons = append(reasons, "keyword:title")
	}
	if personalized {
		reasons = append(reasons, "personalized")
	}
	if item.AverageRating != nil && *item.AverageRating >= 8.0 {
		reasons = append(reasons, "high_rating")
	}
	if quality > 0.75 {
		reasons = append(reasons, "popular")
	}
	return reasons
}

// diversify greedily orders results by descending relevance_score,
// skipping a candidate whose max genre-Jaccard similarity against any
// already-selected result exceeds threshold. Suppressed candidates are not
// dropped; they are appended, in their original relative order, after the
// diversified head, so total_count and pagination still cover every
// candidate exactly once while the page a caller actually reads favors
// variety.
func diversify(results []model.SearchResult, threshold float64) []model.SearchResult {
	if threshold <= 0 || threshold >= 1 || len(results) < 2 {
		return stableSortByRelevance(results)
	}

	ordered := stableSortByRelevance(results)
	selected := make([]model.SearchResult, 0, len(ordered))
	suppressed := make([]model.SearchResult, 0)
	selectedGenreSets := make([]map[string]struct{}, 0, len(ordered))

	for _, res := range ordered {
		if res.Content == nil {
			selected = append(selected, res)
			continue
		}
		genres := res.Content.GenreSet()
		tooSimilar := false
		for _, other := range selectedGenreSets {
			if jaccard(genres, other) > threshold {
				tooSimilar = true
				break
			}
		}
		if tooSimilar {
			suppressed = append(suppressed, res)
			continue
		}
		selected = append(selected, res)
		selectedGenreSets = append(selectedGenreSets, genres)
	}

	return append(selected, suppressed...)
}

func stableSortByRelevance(results []model.SearchResult) []model.SearchResult {
	out := make([]model.SearchResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
