// Package filter evaluates content filter predicates. The same predicates
// are pushed into the vector and keyword stores as hard constraints and
// reapplied locally so that post-fusion results never violate a filter
// that a store implementation only partially enforces.
package filter

import (
	"time"

	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/model"
)

// Predicate reports whether a content item satisfies one filter dimension.
type Predicate func(item *model.ContentItem, at time.Time) bool

// Evaluator compiles a model.Filters into a set of predicates and applies
// them with AND logic, mirroring the store push-down semantics so local
// post-filtering and store-side filtering never disagree.
type Evaluator struct {
	filters model.Filters
	now     func() time.Time
}

// New compiles an Evaluator for the given filters. now defaults to
// time.Now when nil; tests pass a fixed clock.
func New(filters model.Filters, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{filters: filters, now: now}
}

// Validate checks the filter range invariants: min<=max on both
// year_range and rating_range, and 0<=rating min/max<=10.
func Validate(filters model.Filters) error {
	if filters.YearRange != nil && filters.YearRange.Min > filters.YearRange.Max {
		return coreerrors.InvalidRequest("filters.year_range: min must be <= max", nil)
	}
	if r := filters.RatingRange; r != nil {
		if r.Min > r.Max {
			return coreerrors.InvalidRequest("filters.rating_range: min must be <= max", nil)
		}
		if r.Min < 0 || r.Max > 10 {
			return coreerrors.InvalidRequest("filters.rating_range: must lie within [0,10]", nil)
		}
	}
	return nil
}

// Matches reports whether item satisfies every configured filter
// dimension, evaluated with AND logic.
func (e *Evaluator) Matches(item *model.ContentItem) bool {
	if item == nil {
		return false
	}
	if !e.matchesGenres(item) {
		return false
	}
	if !e.matchesPlatforms(item) {
		return false
	}
	if !e.matchesYearRange(item) {
		return false
	}
	if !e.matchesRatingRange(item) {
		return false
	}
	return true
}

// Filter applies Matches over a slice, preserving order.
func (e *Evaluator) Filter(items []*model.ContentItem) []*model.ContentItem {
	if len(e.filters.Genres) == 0 && len(e.filters.Platforms) == 0 &&
		e.filters.YearRange == nil && e.filters.RatingRange == nil {
		return items
	}
	out := make([]*model.ContentItem, 0, len(items))
	for _, it := range items {
		if e.Matches(it) {
			out = append(out, it)
		}
	}
	return out
}

// matchesGenres requires the item's genre set to be a superset of the
// requested genre set (conjunctive). An empty requested set is no
// constraint.
func (e *Evaluator) matchesGenres(item *model.ContentItem) bool {
	if len(e.filters.Genres) == 0 {
		return true
	}
	have := item.GenreSet()
	for _, g := range e.filters.Genres {
		if _, ok := have[g]; !ok {
			return false
		}
	}
	return true
}

// matchesPlatforms requires at least one availability entry on a
// requested platform that is active at evaluation time.
func (e *Evaluator) matchesPlatforms(item *model.ContentItem) bool {
	if len(e.filters.Platforms) == 0 {
		return true
	}
	wanted := make(map[string]struct{}, len(e.filters.Platforms))
	for _, p := range e.filters.Platforms {
		wanted[p] = struct{}{}
	}
	at := e.now()
	for _, avail := range item.Platforms {
		if _, ok := wanted[avail.PlatformID]; ok && avail.Active(at) {
			return true
		}
	}
	return false
}

func (e *Evaluator) matchesYearRange(item *model.ContentItem) bool {
	r := e.filters.YearRange
	if r == nil {
		return true
	}
	return item.ReleaseYear >= r.Min && item.ReleaseYear <= r.Max
}

// matchesRatingRange excludes unrated items iff min>0; absent rating is
// treated as 0 otherwise.
func (e *Evaluator) matchesRatingRange(item *model.ContentItem) bool {
	r := e.filters.RatingRange
	if r == nil {
		return true
	}
	if item.AverageRating == nil && r.Min > 0 {
		return false
	}
	rating := item.Rating()
	return rating >= r.Min && rating <= r.Max
}
