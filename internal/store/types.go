// Package store holds the retrieval-layer persistence adapters: an HNSW
// vector index, a Bleve-backed fielded inverted index, and a sqlite-backed
// store for content metadata and LoRA adapters.
package store

import "fmt"

// ErrDimensionMismatch indicates a query or insert vector's dimension does
// not match the store's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex required)", e.Expected, e.Got)
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" (only metric exercised by this domain)
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for a vector store of
// the given dimensionality.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       64,
	}
}
