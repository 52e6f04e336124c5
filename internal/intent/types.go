// Package intent turns a natural-language query into a model.ParsedIntent:
// moods, themes, references, and a fallback keyword query, with a
// model-backed provider tried first and a deterministic pattern-based
// provider as the fallback that can never itself fail. Neither provider
// derives filters; the returned Filters is always empty.
package intent

import (
	"context"

	"github.com/hybridcore/core/internal/model"
)

// ParserVersion is pinned into the cache key so a prompt or lexicon change
// invalidates previously cached intents rather than serving stale parses.
const ParserVersion = "intent-v1"

// Provider parses free text into a structured intent. Implementations may
// fail (timeout, malformed provider response); IntentParser handles
// provider failure by falling through to the next provider, and ultimately
// to a degenerate intent.
type Provider interface {
	Parse(ctx context.Context, text string) (model.ParsedIntent, error)
}
