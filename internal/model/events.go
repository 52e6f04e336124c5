package model

import (
	"errors"
	"time"
)

var errActivityMissingContentID = errors.New("content-kind activity event missing content_id")

// ActivityKind enumerates the activity event kinds the core consumes to
// schedule adapter updates.
type ActivityKind string

const (
	ActivitySearchQuery       ActivityKind = "SearchQuery"
	ActivitySearchResultClick ActivityKind = "SearchResultClick"
	ActivityContentView       ActivityKind = "ContentView"
	ActivityContentRating     ActivityKind = "ContentRating"
	ActivityPlaybackStart     ActivityKind = "PlaybackStart"
	ActivityPlaybackComplete  ActivityKind = "PlaybackComplete"
	ActivityPlaybackAbandon   ActivityKind = "PlaybackAbandon"
)

// contentKinds carries a content_id and must validate one is present.
var contentKinds = map[ActivityKind]bool{
	ActivityContentView:      true,
	ActivityContentRating:    true,
	ActivityPlaybackStart:    true,
	ActivityPlaybackComplete: true,
	ActivityPlaybackAbandon:  true,
}

// RequiresContentID reports whether this activity kind must carry a
// content_id.
func (k ActivityKind) RequiresContentID() bool {
	return contentKinds[k]
}

// ActivityEvent is consumed (never produced) by the core via an out-of-band
// consumer that feeds the adapter training scheduler.
type ActivityEvent struct {
	EventID   string         `json:"event_id"`
	UserID    string         `json:"user_id"`
	Kind      ActivityKind   `json:"kind"`
	ContentID string         `json:"content_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate rejects content-kind events that arrive without a content_id.
func (e ActivityEvent) Validate() error {
	if e.Kind.RequiresContentID() && e.ContentID == "" {
		return errActivityMissingContentID
	}
	return nil
}

// SearchQueryEvent is the event the orchestrator emits on every search,
// fire-and-forget. EventID is the consumer-side dedup key, same as
// ActivityEvent's.
type SearchQueryEvent struct {
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id,omitempty"`
	Query          string    `json:"query"`
	ResultsCount   int       `json:"results_count"`
	TopKContentIDs []string  `json:"top_k_content_ids"`
	LatencyMs      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}
