// Package fusion combines independently ranked vector and keyword hit lists
// into a single ordered candidate pool using Reciprocal Rank Fusion. RRF
// needs no score calibration between the two incommensurable scales and
// exposes a single tunable constant.
package fusion

import (
	"sort"

	"github.com/hybridcore/core/internal/model"
)

// DefaultK is the RRF rank-damping constant.
const DefaultK = 60

// Weights scales each source's contribution before summing.
type Weights struct {
	Vector  float64
	Keyword float64
}

// DefaultWeights gives vector and keyword hits equal weight.
var DefaultWeights = Weights{Vector: 1, Keyword: 1}

// VectorHit is one row of a VectorSearch result: a content id ordered by
// descending cosine similarity.
type VectorHit struct {
	ContentID  string
	Similarity float64
}

// KeywordHit is one row of a KeywordSearch result: a content id ordered by
// descending BM25-style score.
type KeywordHit struct {
	ContentID string
	Score     float64
}

// RankFuser fuses independently ranked hit lists via RRF.
type RankFuser struct {
	k       int
	weights Weights
}

// New builds a RankFuser. k<=0 falls back to DefaultK.
func New(k int, weights Weights) *RankFuser {
	if k <= 0 {
		k = DefaultK
	}
	return &RankFuser{k: k, weights: weights}
}

// NewDefault builds a RankFuser with DefaultK and DefaultWeights.
func NewDefault() *RankFuser {
	return New(DefaultK, DefaultWeights)
}

type accumulator struct {
	contentID        string
	score            float64
	vectorRank       *int
	keywordRank      *int
	vectorSimilarity *float64
	keywordScore     *float64
}

// Fuse merges vector and keyword hits into a single descending-ordered
// list of FusedHit, tie-broken by (vector_similarity desc, keyword_score
// desc, content_id asc) to keep ordering deterministic when fused scores
// collide.
func (f *RankFuser) Fuse(vectorHits []VectorHit, keywordHits []KeywordHit) []model.FusedHit {
	acc := make(map[string]*accumulator)
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	get := func(id string) *accumulator {
		a, ok := acc[id]
		if !ok {
			a = &accumulator{contentID: id}
			acc[id] = a
			order = append(order, id)
		}
		return a
	}

	for i, hit := range vectorHits {
		rank := i + 1
		a := get(hit.ContentID)
		a.score += f.weights.Vector * (1.0 / float64(f.k+rank))
		r := rank
		a.vectorRank = &r
		sim := hit.Similarity
		a.vectorSimilarity = &sim
	}

	for i, hit := range keywordHits {
		rank := i + 1
		a := get(hit.ContentID)
		a.score += f.weights.Keyword * (1.0 / float64(f.k+rank))
		r := rank
		a.keywordRank = &r
		sc := hit.Score
		a.keywordScore = &sc
	}

	out := make([]model.FusedHit, 0, len(order))
	for _, id := range order {
		a := acc[id]
		out = append(out, model.FusedHit{
			ContentID:        a.contentID,
			FusedScore:       a.score,
			VectorRank:       a.vectorRank,
			KeywordRank:      a.keywordRank,
			VectorSimilarity: a.vectorSimilarity,
			KeywordScore:     a.keywordScore,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if av, bv := floatOrZero(a.VectorSimilarity), floatOrZero(b.VectorSimilarity); av != bv {
			return av > bv
		}
		if ak, bk := floatOrZero(a.KeywordScore), floatOrZero(b.KeywordScore); ak != bk {
			return ak > bk
		}
		return a.ContentID < b.ContentID
	})

	return out
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
