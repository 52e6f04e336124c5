package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankFuser_Fuse_CombinesBothLists(t *testing.T) {
	f := NewDefault()
	vec := []VectorHit{{ContentID: "a", Similarity: 0.9}, {ContentID: "b", Similarity: 0.8}}
	kw := []KeywordHit{{ContentID: "b", Score: 5.0}, {ContentID: "c", Score: 4.0}}

	out := f.Fuse(vec, kw)
	require.Len(t, out, 3)

	byID := make(map[string]float64)
	for _, h := range out {
		byID[h.ContentID] = h.FusedScore
	}
	// b appears in both lists so should have the highest fused score.
	assert.True(t, byID["b"] > byID["a"])
	assert.True(t, byID["b"] > byID["c"])
	assert.Equal(t, "b", out[0].ContentID)
}

func TestRankFuser_Fuse_PreservesPerSourceProvenance(t *testing.T) {
	f := NewDefault()
	vec := []VectorHit{{ContentID: "a", Similarity: 0.9}}
	kw := []KeywordHit{{ContentID: "a", Score: 3.5}}

	out := f.Fuse(vec, kw)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].VectorRank)
	require.NotNil(t, out[0].KeywordRank)
	assert.Equal(t, 1, *out[0].VectorRank)
	assert.Equal(t, 1, *out[0].KeywordRank)
	assert.Equal(t, 0.9, *out[0].VectorSimilarity)
	assert.Equal(t, 3.5, *out[0].KeywordScore)
}

func TestRankFuser_Fuse_OnlyVectorHits(t *testing.T) {
	f := NewDefault()
	vec := []VectorHit{{ContentID: "a", Similarity: 0.5}}
	out := f.Fuse(vec, nil)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].KeywordRank)
	assert.Nil(t, out[0].KeywordScore)
}

func TestRankFuser_Fuse_OnlyKeywordHits(t *testing.T) {
	f := NewDefault()
	kw := []KeywordHit{{ContentID: "a", Score: 1.0}}
	out := f.Fuse(nil, kw)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].VectorRank)
	assert.Nil(t, out[0].VectorSimilarity)
}

func TestRankFuser_Fuse_TieBreakOrder(t *testing.T) {
	// Distinct ranks give distinct fused scores, so ordering follows rank
	// and the content_id tie break is never reached.
	f := NewDefault()
	vec := []VectorHit{{ContentID: "z", Similarity: 0.5}, {ContentID: "y", Similarity: 0.4}}
	out := f.Fuse(vec, nil)
	// z has rank 1 (higher fused score) so should sort first regardless of id.
	assert.Equal(t, "z", out[0].ContentID)
}

func TestRankFuser_Fuse_TieBreakBySimilarityThenContentID(t *testing.T) {
	f := New(60, Weights{Vector: 1, Keyword: 1})

	// "b" is rank 1 in the vector list and "a" is rank 1 in the keyword
	// list, so their fused scores tie; b's vector similarity puts it first.
	out := f.Fuse([]VectorHit{{ContentID: "b", Similarity: 0.5}}, []KeywordHit{{ContentID: "a", Score: 2.0}})
	require.Len(t, out, 2)
	assert.Equal(t, out[0].FusedScore, out[1].FusedScore)
	assert.Equal(t, "b", out[0].ContentID)

	// With similarity and keyword score both zero, content_id ascending
	// decides.
	out = f.Fuse([]VectorHit{{ContentID: "d", Similarity: 0}}, []KeywordHit{{ContentID: "c", Score: 0}})
	require.Len(t, out, 2)
	assert.Equal(t, out[0].FusedScore, out[1].FusedScore)
	assert.Equal(t, "c", out[0].ContentID)
}

func TestRankFuser_Fuse_CustomK(t *testing.T) {
	f := New(1, DefaultWeights)
	vec := []VectorHit{{ContentID: "a", Similarity: 1.0}}
	out := f.Fuse(vec, nil)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0/2.0, out[0].FusedScore, 1e-9)
}

func TestRankFuser_Fuse_EmptyInputs(t *testing.T) {
	f := NewDefault()
	out := f.Fuse(nil, nil)
	assert.Empty(t, out)
}

func TestRankFuser_Fuse_MonotoneInRank(t *testing.T) {
	f := NewDefault()
	vec := []VectorHit{
		{ContentID: "first", Similarity: 0.99},
		{ContentID: "second", Similarity: 0.5},
		{ContentID: "third", Similarity: 0.1},
	}
	out := f.Fuse(vec, nil)
	require.Len(t, out, 3)
	for i := 0; i < len(out)-1; i++ {
		assert.GreaterOrEqual(t, out[i].FusedScore, out[i+1].FusedScore)
	}
}
