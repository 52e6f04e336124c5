// Package personalize implements the per-user LoRA adapter math and the
// reranking/diversity/cold-start pipeline that sits between rank fusion and
// pagination.
package personalize

import (
	"math"
	"math/rand"

	"github.com/hybridcore/core/internal/model"
)

// initScale bounds the small-random initialization of a fresh adapter's
// matrices so the earliest forward passes stay close to a no-op rather than
// injecting large noise into relevance_score before any training has
// happened.
const initScale = 0.02

// NewAdapter builds an empty adapter for userID/name with the given rank
// and dimensions, small-random initialized, zero training iterations.
func NewAdapter(userID, name string, rank, inputDim, outputDim int) model.LoRAAdapter {
	if name == "" {
		name = model.DefaultAdapterName
	}
	return model.LoRAAdapter{
		UserID:             userID,
		AdapterName:        name,
		Version:            0,
		BaseLayer:          randomMatrix(rank, inputDim),
		UserLayer:          randomMatrix(outputDim, rank),
		TrainingIterations: 0,
		Rank:               rank,
		InputDim:           inputDim,
		OutputDim:          outputDim,
	}
}

func randomMatrix(rows, cols int) [][]float32 {
	m := make([][]float32, rows)
	for i := range m {
		row := make([]float32, cols)
		for j := range row {
			row[j] = float32((rand.Float64()*2 - 1) * initScale)
		}
		m[i] = row
	}
	return m
}

// Forward computes user_layer . base_layer . x. x must have length
// adapter.InputDim; the result has length adapter.OutputDim.
func Forward(a model.LoRAAdapter, x []float32) []float32 {
	hidden := make([]float32, a.Rank)
	for r := 0; r < a.Rank; r++ {
		var sum float64
		row := a.BaseLayer[r]
		for i := 0; i < a.InputDim && i < len(x); i++ {
			sum += float64(row[i]) * float64(x[i])
		}
		hidden[r] = float32(sum)
	}

	out := make([]float32, a.OutputDim)
	for o := 0; o < a.OutputDim; o++ {
		var sum float64
		row := a.UserLayer[o]
		for r := 0; r < a.Rank; r++ {
			sum += float64(row[r]) * float64(hidden[r])
		}
		out[o] = float32(sum)
	}
	return out
}

// SizeBytes estimates the serialized size of the adapter's two matrices:
// each element as a 4-byte float32, no compression. At rank=8 and
// dimension 768 this stays under 256KB.
func SizeBytes(a model.LoRAAdapter) int {
	elems := a.Rank*a.InputDim + a.OutputDim*a.Rank
	return elems * 4
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors, or 0 if either is the zero vector.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
