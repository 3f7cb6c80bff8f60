package spann

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/config"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// insertTestHead installs a head directly into the writer's staged state
// and centroid graph, bypassing Add's RNG placement so merge tests can
// control exactly which heads exist and how close together they are.
func insertTestHead(t *testing.T, w *Writer, id types.HeadID, centroid types.Embedding, entries []types.Entry) {
	t.Helper()
	require.NoError(t, w.graphAdd(context.Background(), id, centroid))
	hd := &types.HeadData{Centroid: centroid, Length: uint32(len(entries))}
	for _, e := range entries {
		hd.Posting.Append(e.ID, e.Version, e.Embedding)
		w.versions.Set(e.ID, e.Version)
	}
	w.heads.Insert(id, hd)
}

func isTombstoned(w *Writer, id types.HeadID) bool {
	_, ok := w.deletedHeads.Load(id)
	return ok
}

func TestTryMergeAbsorbsUndersizedHeadIntoNeighbor(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	insertTestHead(t, w, 1, types.Embedding{0, 0}, []types.Entry{
		{ID: 100, Version: 1, Embedding: types.Embedding{0, 1}},
	})
	insertTestHead(t, w, 2, types.Embedding{0, 1}, []types.Entry{
		{ID: 200, Version: 1, Embedding: types.Embedding{0, 1}},
	})

	err := w.tryMergePostingList(ctx, 1, types.Embedding{0, 0})
	require.NoError(t, err)

	assert.Equal(t, 1, w.heads.Len(), "the source head should have been absorbed")
	target, ok := w.heads.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), target.Length)
	assert.ElementsMatch(t, []types.PointID{100, 200}, target.Posting.IDs)

	assert.True(t, isTombstoned(w, 1))
	assert.Equal(t, 1, w.deps.Graph.Len())
	assert.Equal(t, 2, w.deps.Graph.LenWithDeleted())
}

func TestTryMergeLeavesHeadInPlaceWhenNoCandidateFits(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, func(c *config.Config) {
		c.SplitThreshold = 2
	}, nil)

	insertTestHead(t, w, 1, types.Embedding{0, 0}, []types.Entry{
		{ID: 100, Version: 1, Embedding: types.Embedding{0, 1}},
	})
	insertTestHead(t, w, 2, types.Embedding{0, 1}, []types.Entry{
		{ID: 200, Version: 1, Embedding: types.Embedding{0, 1}},
		{ID: 201, Version: 1, Embedding: types.Embedding{0, 1}},
	})

	err := w.tryMergePostingList(ctx, 1, types.Embedding{0, 0})
	require.NoError(t, err)

	assert.Equal(t, 2, w.heads.Len(), "with no candidate under split_threshold, the source head stays put")
	assert.False(t, isTombstoned(w, 1))
	assert.Equal(t, 2, w.deps.Graph.Len())
	assert.Equal(t, 2, w.deps.Graph.LenWithDeleted())
}
