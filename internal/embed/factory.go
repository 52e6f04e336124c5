package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderRemote calls an external embedding service over HTTP.
	ProviderRemote ProviderType = "remote"

	// ProviderStatic uses hash-based embeddings (fallback, no network dependency).
	ProviderStatic ProviderType = "static"
)

// EmbeddingsConfig mirrors the subset of config.EmbeddingsConfig the factory
// needs, kept here to avoid an import cycle with internal/config.
type EmbeddingsConfig struct {
	Provider   string
	Model      string
	Dimensions int
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int
	CacheTTL   time.Duration
}

// NewEmbedder creates an embedder for the configured provider, always
// wrapped with the TTL'd cache.
func NewEmbedder(ctx context.Context, cfg EmbeddingsConfig) (Embedder, error) {
	var embedder Embedder
	var err error

	switch ParseProvider(cfg.Provider) {
	case ProviderRemote:
		embedder, err = newRemoteFromConfig(ctx, cfg)
	case ProviderStatic:
		embedder, err = NewStaticEmbedder(), nil
	default:
		embedder, err = newRemoteFromConfig(ctx, cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return NewCachedEmbedder(embedder, cfg.CacheSize, cfg.CacheTTL), nil
}

func newRemoteFromConfig(ctx context.Context, cfg EmbeddingsConfig) (Embedder, error) {
	remoteCfg := DefaultRemoteConfig()
	if cfg.Endpoint != "" {
		remoteCfg.Host = cfg.Endpoint
	}
	if cfg.Model != "" {
		remoteCfg.Model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		remoteCfg.Dimensions = cfg.Dimensions
	}
	if cfg.Timeout > 0 {
		remoteCfg.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		remoteCfg.MaxRetries = cfg.MaxRetries
	}

	embedder, err := NewRemoteEmbedder(ctx, remoteCfg)
	if err != nil {
		return nil, fmt.Errorf("remote embedding service unavailable: %w\n\nTo fix:\n  1. Start the embedding service at the configured endpoint\n  2. Or set embeddings.provider: static for an offline fallback", err)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType, defaulting to remote.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return ProviderStatic
	case "remote", "":
		return ProviderRemote
	default:
		return ProviderRemote
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderRemote), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo summarizes the active embedder for diagnostics.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, unwrapping the cache layer.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *RemoteEmbedder:
		info.Provider = ProviderRemote
	default:
		info.Provider = ProviderStatic
	}

	return info
}
