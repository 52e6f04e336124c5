// Package cmd provides the CLI commands for hybridcore.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hybridcore/core/internal/cache"
	"github.com/hybridcore/core/internal/config"
	"github.com/hybridcore/core/internal/embed"
	"github.com/hybridcore/core/internal/fusion"
	"github.com/hybridcore/core/internal/intent"
	"github.com/hybridcore/core/internal/orchestrator"
	"github.com/hybridcore/core/internal/personalize"
	"github.com/hybridcore/core/internal/store"
)

// runtime bundles every store the CLI commands open, so each command can
// defer a single Close without repeating the open sequence.
type runtime struct {
	cfg      *config.Config
	dataDir  string
	vectors  *store.VectorStore
	keyword  *store.KeywordIndex
	metadata *store.MetadataDB
	embedder embed.Embedder
}

func dataDirPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	root, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return filepath.Join(root, ".hybridcore"), nil
}

// openRuntime loads configuration and opens the vector store, keyword
// index, and adapter/metadata database rooted at dataDir, creating the
// directory if it doesn't exist. Embedding provider construction happens
// separately via requireEmbedder since not every command needs one
// (e.g. "adapter list").
func openRuntime(ctx context.Context, configDir, dataDir string) (*runtime, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embed.StaticDimensions
	}

	vectorPath := filepath.Join(dataDir, "vector.bin")
	vs := store.NewVectorStore(store.DefaultVectorStoreConfig(dims))
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vs.Load(vectorPath); err != nil {
			return nil, fmt.Errorf("load vector index: %w", err)
		}
	}

	ks, err := store.NewKeywordIndex(filepath.Join(dataDir, "bm25"))
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	metaPath := filepath.Join(dataDir, "metadata.db")
	meta, err := store.OpenMetadataDB(metaPath)
	if err != nil {
		ks.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	return &runtime{cfg: cfg, dataDir: dataDir, vectors: vs, keyword: ks, metadata: meta}, nil
}

// requireEmbedder lazily constructs the embedding provider; commands that
// never call it never pay for a provider dial.
func (rt *runtime) requireEmbedder(ctx context.Context) (embed.Embedder, error) {
	if rt.embedder != nil {
		return rt.embedder, nil
	}
	embedder, err := embed.NewEmbedder(ctx, embed.EmbeddingsConfig{
		Provider:   rt.cfg.Embeddings.Provider,
		Model:      rt.cfg.Embeddings.Model,
		Dimensions: rt.cfg.Embeddings.Dimensions,
		Endpoint:   rt.cfg.Embeddings.Endpoint,
		Timeout:    rt.cfg.Embeddings.Timeout,
		MaxRetries: rt.cfg.Embeddings.MaxRetries,
		CacheSize:  rt.cfg.Cache.EmbedSize,
		CacheTTL:   rt.cfg.Cache.EmbedTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("construct embedder: %w", err)
	}
	rt.embedder = embedder
	return embedder, nil
}

func (rt *runtime) close() {
	if rt.embedder != nil {
		rt.embedder.Close()
	}
	rt.keyword.Close()
	rt.metadata.Close()
	rt.vectors.Close()
}

// buildOrchestrator wires every capability the HybridSearchOrchestrator
// needs out of an open runtime, following the same embedder/parser/store
// assembly the orchestrator package's own tests exercise with fakes.
func (rt *runtime) buildOrchestrator(ctx context.Context, log *slog.Logger) (*orchestrator.Orchestrator, *personalize.AdapterStore, error) {
	embedder, err := rt.requireEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}

	resultCache := cache.New(rt.cfg.Cache, log)
	parser := intent.New(nil, resultCache, log)

	adapterStore := personalize.NewAdapterStore(rt.metadata, 256)
	reranker := personalize.NewReranker(adapterStore, personalize.Config{
		Rank:               rt.cfg.Personalization.Rank,
		InputDim:           embedder.Dimensions(),
		OutputDim:          embedder.Dimensions(),
		ColdStartThreshold: rt.cfg.Personalization.ColdStartThreshold,
		BlendAlpha:         rt.cfg.Personalization.BlendAlpha,
		BlendBeta:          rt.cfg.Personalization.BlendBeta,
		BlendGamma:         rt.cfg.Personalization.BlendGamma,
		DiversityThreshold: rt.cfg.Personalization.DiversityThreshold,
		FreshnessDecay:     rt.cfg.Personalization.FreshnessDecay,
	}, time.Now, log)

	fuser := fusion.New(rt.cfg.Search.RRFConstant, fusion.Weights{
		Vector:  rt.cfg.Search.SemanticWeight,
		Keyword: rt.cfg.Search.BM25Weight,
	})

	orch := orchestrator.New(
		embedder,
		parser,
		rt.vectors,
		rt.keyword,
		fuser,
		reranker,
		rt.vectors,
		resultCache,
		nil, // no out-of-band event bus wired for the CLI/smoke-test harness
		orchestrator.Config{
			VectorCandidates:  rt.cfg.Search.VectorCandidates,
			KeywordCandidates: rt.cfg.Search.KeywordCandidates,
			RetrievalTimeout:  250 * time.Millisecond,
			RequestTimeout:    rt.cfg.Search.Timeout,
			MaxConcurrent:     int64(rt.cfg.Server.MaxConcurrentSearches),
		},
		log,
	)

	return orch, adapterStore, nil
}
