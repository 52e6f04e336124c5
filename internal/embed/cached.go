package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hybridcore/core/internal/cache"
)

// Cache configuration constants.
const (
	// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
	DefaultEmbeddingCacheSize = 10000

	// DefaultEmbeddingCacheTTL is the default time an embedding stays cached.
	// Embeddings are a pure function of (provider, model, dimensions, text), so
	// a long TTL is safe.
	DefaultEmbeddingCacheTTL = 24 * time.Hour
)

// CachedEmbedder wraps an Embedder with TTL'd LRU caching to avoid redundant
// embedding computations for repeated text.
type CachedEmbedder struct {
	inner    Embedder
	provider string
	cache    *expirable.LRU[string, []float32]
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
// cacheSize bounds the number of unique entries kept in memory; ttl bounds
// how long an entry survives before recomputation.
func NewCachedEmbedder(inner Embedder, cacheSize int, ttl time.Duration) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultEmbeddingCacheTTL
	}
	provider := string(ProviderStatic)
	if _, ok := inner.(*RemoteEmbedder); ok {
		provider = string(ProviderRemote)
	}
	return &CachedEmbedder{
		inner:    inner,
		provider: provider,
		cache:    expirable.NewLRU[string, []float32](cacheSize, nil, ttl),
	}
}

// NewCachedEmbedderWithDefaults creates a cached embedder with default settings.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize, DefaultEmbeddingCacheTTL)
}

// embedKeyInputs is canonicalized and fingerprinted to form the cache key:
// sha256 over {provider, model, dim, text}, the same construction the
// result cache's embed namespace uses, so two providers or dimensions
// sharing a model name can never collide on one entry.
type embedKeyInputs struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Dim      int    `json:"dim"`
	Text     string `json:"text"`
}

func (c *CachedEmbedder) cacheKey(text string) string {
	fp, err := cache.Fingerprint(embedKeyInputs{
		Provider: c.provider,
		Model:    c.inner.ModelName(),
		Dim:      c.inner.Dimensions(),
		Text:     text,
	})
	if err != nil {
		// Fingerprinting a struct of strings and ints cannot fail; if it
		// somehow does, a raw text hash keeps the cache functional.
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:])
	}
	return cache.Namespaced(cache.NamespaceEmbed, fp)
}

// Embed returns cached embedding if available, otherwise computes and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, caching each result.
// Individual texts are checked/cached separately for maximum cache reuse.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.cacheKey(text)
		if vec, ok := c.cache.Get(key); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		key := c.cacheKey(texts[idx])
		c.cache.Add(key, newEmbeddings[j])
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
