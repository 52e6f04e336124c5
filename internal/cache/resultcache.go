// Package cache implements the result cache: three TTL'd namespaces over
// a shared deterministic fingerprinting scheme. Get/Set are both
// non-blocking with respect to request success — a get error is a miss, a
// set error is logged and swallowed — so a cache outage degrades latency,
// never correctness.
package cache

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hybridcore/core/internal/config"
	"github.com/hybridcore/core/internal/model"
)

// ResultCache holds the three namespaces the orchestrator reads and writes:
// fused+personalized search responses, embeddings, and parsed intents.
type ResultCache struct {
	search *expirable.LRU[string, model.SearchResponse]
	embed  *expirable.LRU[string, []float32]
	intent *expirable.LRU[string, model.ParsedIntent]

	log *slog.Logger
}

// New builds a ResultCache from a config.CacheConfig, applying its
// per-namespace sizes and TTLs.
func New(cfg config.CacheConfig, log *slog.Logger) *ResultCache {
	if log == nil {
		log = slog.Default()
	}
	return &ResultCache{
		search: expirable.NewLRU[string, model.SearchResponse](sizeOrDefault(cfg.SearchSize, 2000), nil, ttlOrDefault(cfg.SearchTTL, 1800*time.Second)),
		embed:  expirable.NewLRU[string, []float32](sizeOrDefault(cfg.EmbedSize, 10000), nil, ttlOrDefault(cfg.EmbedTTL, 86400*time.Second)),
		intent: expirable.NewLRU[string, model.ParsedIntent](sizeOrDefault(cfg.IntentSize, 2000), nil, ttlOrDefault(cfg.IntentTTL, 600*time.Second)),
		log:    log,
	}
}

func sizeOrDefault(size, def int) int {
	if size <= 0 {
		return def
	}
	return size
}

func ttlOrDefault(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		return def
	}
	return ttl
}

// GetSearch looks up a cached SearchResponse by fingerprint.
func (c *ResultCache) GetSearch(fingerprint string) (model.SearchResponse, bool) {
	return c.search.Get(Namespaced(NamespaceSearch, fingerprint))
}

// SetSearch caches a SearchResponse under fingerprint. Errors have no
// surface here by construction (expirable.LRU.Add cannot fail); this
// mirrors the contract's "set errors are logged and swallowed" language
// for a backend that could fail, e.g. if swapped for a remote cache later.
func (c *ResultCache) SetSearch(fingerprint string, resp model.SearchResponse) {
	c.search.Add(Namespaced(NamespaceSearch, fingerprint), resp)
}

// GetEmbedding looks up a cached embedding vector by fingerprint.
func (c *ResultCache) GetEmbedding(fingerprint string) ([]float32, bool) {
	return c.embed.Get(Namespaced(NamespaceEmbed, fingerprint))
}

// SetEmbedding caches an embedding vector under fingerprint.
func (c *ResultCache) SetEmbedding(fingerprint string, vec []float32) {
	c.embed.Add(Namespaced(NamespaceEmbed, fingerprint), vec)
}

// GetIntent looks up a cached ParsedIntent by fingerprint.
func (c *ResultCache) GetIntent(fingerprint string) (model.ParsedIntent, bool) {
	return c.intent.Get(Namespaced(NamespaceIntent, fingerprint))
}

// SetIntent caches a ParsedIntent under fingerprint.
func (c *ResultCache) SetIntent(fingerprint string, intent model.ParsedIntent) {
	c.intent.Add(Namespaced(NamespaceIntent, fingerprint), intent)
}

// Len reports the current entry counts per namespace, for metrics.
func (c *ResultCache) Len() (search, embed, intent int) {
	return c.search.Len(), c.embed.Len(), c.intent.Len()
}
