package intent

import (
	"context"
	"log/slog"

	"github.com/hybridcore/core/internal/cache"
	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/model"
)

// cacheKeyInputs is canonicalized and fingerprinted to form the 10-minute
// intent cache key: sha256 over {parser-version, utf8(text)}.
type cacheKeyInputs struct {
	ParserVersion string `json:"parser_version"`
	Text          string `json:"text"`
}

// Parser implements the IntentParser contract: parse(text)->ParsedIntent,
// trying a model-backed provider first, falling through to a pattern
// provider that cannot itself fail, and finally to a degenerate intent.
// Parse therefore always returns a nil error; a panic inside a provider is
// not recovered. ParseOrFail wraps any Parse error as IntentParseFailed.
type Parser struct {
	primary  Provider
	fallback Provider
	cache    *cache.ResultCache
	log      *slog.Logger
}

// New builds a Parser. primary may be nil to skip straight to the pattern
// fallback (used in tests and in static-only deployments).
func New(primary Provider, resultCache *cache.ResultCache, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		primary:  primary,
		fallback: NewPatternProvider(),
		cache:    resultCache,
		log:      log,
	}
}

// Parse resolves a structured intent for text, consulting the cache first.
func (p *Parser) Parse(ctx context.Context, text string) (model.ParsedIntent, error) {
	fingerprint, fpErr := cache.Fingerprint(cacheKeyInputs{ParserVersion: ParserVersion, Text: text})
	if fpErr == nil && p.cache != nil {
		if cached, ok := p.cache.GetIntent(fingerprint); ok {
			return cached, nil
		}
	}

	intent, degraded := p.parseUncached(ctx, text)

	if fpErr == nil && p.cache != nil {
		p.cache.SetIntent(fingerprint, intent)
	}

	if degraded {
		p.log.Debug("intent_parse_degraded", slog.Int("text_len", len(text)))
	}

	return intent, nil
}

// parseUncached tries the primary provider, falling through to the
// pattern provider on any error (including context deadline exceeded),
// and reports whether the result came from a degraded path for logging.
func (p *Parser) parseUncached(ctx context.Context, text string) (model.ParsedIntent, bool) {
	if p.primary != nil {
		if intent, err := p.primary.Parse(ctx, text); err == nil {
			return intent, false
		}
	}

	if intent, err := p.fallback.Parse(ctx, text); err == nil {
		return intent, p.primary != nil
	}

	return model.Degenerate(text), true
}

// ParseOrFail is Parse, but surfaces IntentParseFailed explicitly instead
// of silently degenerating, for callers (e.g. a CLI smoke test) that want
// to distinguish a degenerate-but-successful parse from total failure.
// Under the current provider chain this never actually returns an error,
// since the pattern provider cannot fail and model.Degenerate cannot
// either; it exists to keep the IntentParseFailed kind reachable if a
// future provider chain introduces a genuinely unrecoverable path.
func (p *Parser) ParseOrFail(ctx context.Context, text string) (model.ParsedIntent, error) {
	intent, err := p.Parse(ctx, text)
	if err != nil {
		return model.ParsedIntent{}, coreerrors.New(coreerrors.KindIntentParseFailed, "intent parsing failed on every path", err)
	}
	return intent, nil
}

