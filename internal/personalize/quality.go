package personalize

import (
	"math"
	"time"

	"github.com/hybridcore/core/internal/model"
)

// qualityReferencePopularity caps the popularity term's influence: the
// term is log1p(score)/log1p(this), capped at 1, so a score at or above
// this reference gives the full popularity term.
const qualityReferencePopularity = 1000.0

// freshnessHalfLifeDays controls how quickly the optional freshness decay
// term fades; the decay factor is 0.5 for a title this many days old.
const freshnessHalfLifeDays = 365.0

// QualityBoost returns a monotone [0,1] function of an item's popularity
// and average rating, optionally discounted by content age when
// freshnessDecay is enabled (off by default).
func QualityBoost(item *model.ContentItem, freshnessDecay bool, now time.Time) float64 {
	if item == nil {
		return 0
	}

	popularity := math.Log1p(item.PopularityScore) / math.Log1p(qualityReferencePopularity)
	if popularity > 1 {
		popularity = 1
	}
	if popularity < 0 {
		popularity = 0
	}

	rating := item.Rating() / 10.0
	if rating < 0 {
		rating = 0
	}

	boost := 0.5*popularity + 0.5*rating

	if freshnessDecay && item.ReleaseYear > 0 {
		ageDays := float64(now.Year()-item.ReleaseYear) * 365.0
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Exp(-math.Ln2 * ageDays / freshnessHalfLifeDays)
		boost *= (0.5 + 0.5*decay)
	}

	return boost
}
