package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/hybridcore/core/internal/model"
)

// moodLexicon and themeLexicon are small, hand-built keyword sets covering
// the common ways mood and theme show up in a media-discovery query.
// Deliberately conservative: a false negative just means the query falls
// through to plain keyword search, never a crash.
var moodLexicon = []string{
	"feel-good", "feel good", "uplifting", "heartwarming", "dark", "gritty",
	"intense", "tense", "scary", "creepy", "funny", "hilarious", "relaxing",
	"lighthearted", "emotional", "sad", "bittersweet", "wholesome", "cozy",
}

var themeLexicon = []string{
	"heist", "revenge", "coming of age", "coming-of-age", "redemption",
	"survival", "friendship", "betrayal", "war", "family", "romance",
	"underdog", "road trip", "mystery", "conspiracy", "rivalry",
}

// quotedReferencePattern finds quoted titles, used for "more like X" style
// intents: find me something like "The Italian Job".
var quotedReferencePattern = regexp.MustCompile(`["“]([^"”]{2,80})["”]`)

// PatternProvider extracts moods, themes, and quoted references via
// lexicon/regex matching. It never errors: an unmatched query simply
// yields a lower-confidence intent, never an exception.
type PatternProvider struct{}

// NewPatternProvider builds a PatternProvider.
func NewPatternProvider() *PatternProvider {
	return &PatternProvider{}
}

// Parse never returns an error.
func (p *PatternProvider) Parse(_ context.Context, text string) (model.ParsedIntent, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	moods := matchLexicon(normalized, moodLexicon)
	themes := matchLexicon(normalized, themeLexicon)
	references := extractReferences(text)

	matched := len(moods) + len(themes) + len(references)
	confidence := confidenceFor(matched)

	return model.ParsedIntent{
		Moods:         moods,
		Themes:        themes,
		References:    references,
		Filters:       model.Filters{},
		FallbackQuery: text,
		Confidence:    confidence,
	}, nil
}

func matchLexicon(normalized string, lexicon []string) []string {
	var matches []string
	for _, term := range lexicon {
		if strings.Contains(normalized, term) {
			matches = append(matches, term)
		}
	}
	if matches == nil {
		matches = []string{}
	}
	return matches
}

func extractReferences(text string) []model.Reference {
	found := quotedReferencePattern.FindAllStringSubmatch(text, -1)
	refs := make([]model.Reference, 0, len(found))
	for _, m := range found {
		refs = append(refs, model.Reference{Title: m[1], Type: "unknown"})
	}
	return refs
}

// confidenceFor maps the count of matched signals to a bounded [0,1]
// confidence score; more corroborating signals raise confidence but it
// never saturates at 1.0 for a purely lexicon-matched result, since no
// model actually reasoned about the query.
func confidenceFor(matched int) float64 {
	switch {
	case matched == 0:
		return 0.1
	case matched == 1:
		return 0.4
	case matched == 2:
		return 0.6
	default:
		return 0.75
	}
}
