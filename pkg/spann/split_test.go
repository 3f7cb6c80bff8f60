package spann

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/kmeans"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// alternatingKMeans is a deterministic stand-in for the real k-means
// routine: it labels entries by position parity and centers each cluster
// on the mean of its assigned embeddings, so split tests don't depend on
// math/rand's seeding.
func alternatingKMeans(in kmeans.Input, rng *rand.Rand) (kmeans.Output, error) {
	dim := 0
	if len(in.Indices) > 0 {
		dim = in.Embeddings[in.Indices[0]].Dim()
	}
	labels := make([]int, len(in.Indices))
	sums := [2][]float64{make([]float64, dim), make([]float64, dim)}
	counts := [2]int{}
	for pos, idx := range in.Indices {
		c := pos % 2
		labels[pos] = c
		counts[c]++
		for d, v := range in.Embeddings[idx] {
			sums[c][d] += float64(v)
		}
	}
	centers := make([]types.Embedding, 2)
	for c := 0; c < 2; c++ {
		mean := make(types.Embedding, dim)
		if counts[c] > 0 {
			for d := 0; d < dim; d++ {
				mean[d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
		centers[c] = mean
	}
	numClusters := 0
	for _, n := range counts {
		if n > 0 {
			numClusters++
		}
	}
	return kmeans.Output{Labels: labels, Centers: centers, Counts: counts[:], NumClusters: numClusters}, nil
}

// countLiveEntries sums, across every staged head, the posting-list
// entries whose recorded version still matches the writer's version map
// (i.e. excludes entries left stale by a reassignment that appended
// elsewhere without yet pruning the old copy).
func countLiveEntries(w *Writer) int {
	total := 0
	w.heads.Range(func(_ types.HeadID, h *types.HeadData) bool {
		for i, id := range h.Posting.IDs {
			if cur, ok := w.versions.Get(id); ok && !cur.IsDeleted() && cur == h.Posting.Versions[i] {
				total++
			}
		}
		return true
	})
	return total
}

func TestSplitTriggersAboveThresholdAndConservesLivePoints(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, alternatingKMeans)

	points := []types.Embedding{
		{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0.5, 0.5},
	}
	for i, p := range points {
		require.NoError(t, w.Add(ctx, types.PointID(i+1), p))
	}

	assert.Equal(t, 2, w.heads.Len(), "exceeding split_threshold should leave exactly two heads")
	assert.Equal(t, 5, countLiveEntries(w), "every added point should still be reachable after the split")
	assert.Equal(t, 2, w.deps.Graph.Len(), "the centroid graph should carry exactly the two post-split heads")
}

func TestSplitCollapseToSingleClusterRestoresHead(t *testing.T) {
	ctx := context.Background()
	collapsing := func(in kmeans.Input, rng *rand.Rand) (kmeans.Output, error) {
		labels := make([]int, len(in.Indices))
		return kmeans.Output{
			Labels:      labels,
			Centers:     []types.Embedding{{0, 0}, {0, 0}},
			Counts:      []int{len(in.Indices), 0},
			NumClusters: 1,
		}, nil
	}
	w, _ := newTestWriter(t, 2, nil, collapsing)

	points := []types.Embedding{
		{0, 0}, {1, 0}, {0, 1}, {1, 1}, {0.5, 0.5},
	}
	for i, p := range points {
		require.NoError(t, w.Add(ctx, types.PointID(i+1), p))
	}

	assert.Equal(t, 1, w.heads.Len(), "a single-cluster clustering result must restore the original head unchanged")
	assert.Equal(t, 5, countLiveEntries(w))
}
