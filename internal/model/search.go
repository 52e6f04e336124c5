package model

// SearchRequest is the in-process API's single request type.
type SearchRequest struct {
	Query    string  `json:"query"`
	Filters  Filters `json:"filters,omitempty"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	UserID   string  `json:"user_id,omitempty"`
}

// Reference is a named work mentioned in a query, used for "more like X"
// style intents.
type Reference struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// ParsedIntent is the structured representation of a natural-language query.
type ParsedIntent struct {
	Moods         []string    `json:"moods"`
	Themes        []string    `json:"themes"`
	References    []Reference `json:"references"`
	Filters       Filters     `json:"filters"`
	FallbackQuery string      `json:"fallback_query"`
	Confidence    float64     `json:"confidence"`
}

// EffectiveQuery returns the query text fed to both retrieval paths. Per the
// default open-question resolution, this is the fallback query alone; moods
// and themes are not concatenated in.
func (p ParsedIntent) EffectiveQuery() string {
	return p.FallbackQuery
}

// Degenerate builds the fallback intent used when parsing fails entirely.
func Degenerate(text string) ParsedIntent {
	return ParsedIntent{
		Moods:         []string{},
		Themes:        []string{},
		References:    []Reference{},
		Filters:       Filters{},
		FallbackQuery: text,
		Confidence:    0.0,
	}
}

// SearchResult is a single ranked, personalized item in a SearchResponse.
type SearchResult struct {
	Content          *ContentItem `json:"content"`
	RelevanceScore   float64      `json:"relevance_score"`
	MatchReasons     []string     `json:"match_reasons"`
	VectorSimilarity *float64     `json:"vector_similarity,omitempty"`
	KeywordScore     *float64     `json:"keyword_score,omitempty"`
}

// SearchResponse is the in-process API's single response type.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalCount   int            `json:"total_count"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	QueryParsed  ParsedIntent   `json:"query_parsed"`
	SearchTimeMs int64          `json:"search_time_ms"`
}

// FusedHit is RankFuser's output: a content ID carrying its fused score and
// per-source provenance, before personalization.
type FusedHit struct {
	ContentID        string
	FusedScore       float64
	VectorRank       *int
	KeywordRank      *int
	VectorSimilarity *float64
	KeywordScore     *float64
}
