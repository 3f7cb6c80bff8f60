package spann

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/config"
	"github.com/chroma-core/spannsegment/pkg/types"
)

func TestNewRejectsMissingDependencies(t *testing.T) {
	deps, _ := newTestDeps(t, 2, nil)

	_, err := New(context.Background(), Dependencies{Graph: deps.Graph, KMeans: deps.KMeans}, testConfig(), 0)
	assert.Error(t, err)

	_, err = New(context.Background(), Dependencies{Provider: deps.Provider, KMeans: deps.KMeans}, testConfig(), 0)
	assert.Error(t, err)

	_, err = New(context.Background(), Dependencies{Provider: deps.Provider, Graph: deps.Graph}, testConfig(), 0)
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	deps, _ := newTestDeps(t, 2, nil)
	cfg := testConfig()
	cfg.SplitThreshold = cfg.MergeThreshold
	_, err := New(context.Background(), deps, cfg, 0)
	assert.Error(t, err)
}

func TestAddCreatesAHeadForTheFirstPoint(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	require.NoError(t, w.Add(ctx, 1, types.Embedding{0, 0}))

	v, ok := w.versions.Get(1)
	require.True(t, ok)
	assert.Equal(t, types.Version(1), v)
	assert.Equal(t, 1, w.heads.Len())
	assert.Equal(t, 1, w.deps.Graph.Len())
}

func TestAddMultiAssignsUpToReplicaCount(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, func(c *config.Config) {
		c.NReplicaCount = 2
		c.WriteRNGEpsilon = 10 // wide enough to admit both existing heads into the band
	}, nil)

	// Two well-separated heads, installed directly: Add creates a head
	// only when the index is empty, so a second Add would join the first
	// head rather than start its own.
	insertTestHead(t, w, 1, types.Embedding{0, 0}, []types.Entry{
		{ID: 1, Version: 1, Embedding: types.Embedding{0, 0}},
	})
	insertTestHead(t, w, 2, types.Embedding{100, 100}, []types.Entry{
		{ID: 2, Version: 1, Embedding: types.Embedding{100, 100}},
	})
	require.Equal(t, 2, w.heads.Len())

	// A third point halfway between them is in both heads' epsilon band
	// and passes the RNG test against each, so it is appended to both.
	require.NoError(t, w.Add(ctx, 3, types.Embedding{50, 50}))

	total := 0
	w.heads.Range(func(_ types.HeadID, h *types.HeadData) bool {
		total += h.Posting.Len()
		return true
	})
	assert.Equal(t, 4, total, "one entry each for points 1 and 2, plus point 3 in both heads")
}

func TestUpdateRequiresAPriorAdd(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	err := w.Update(ctx, 99, types.Embedding{1, 1})
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestUpdatePanicsOnNeverAddedPoint(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	assert.PanicsWithValue(t,
		"spann: invariant violation: update of unknown or deleted point 7",
		func() { _ = w.Update(ctx, 7, types.Embedding{1, 1}) },
	)
}

func TestUpdatePanicsOnDeletedPoint(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	require.NoError(t, w.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, w.Delete(ctx, 1))

	assert.Panics(t, func() { _ = w.Update(ctx, 1, types.Embedding{1, 1}) })
}

func TestUpdateBumpsVersionAndRestages(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	require.NoError(t, w.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, w.Update(ctx, 1, types.Embedding{1, 1}))

	v, ok := w.versions.Get(1)
	require.True(t, ok)
	assert.Equal(t, types.Version(2), v)

	emb, ok := w.embeddings.Get(1)
	require.True(t, ok)
	assert.Equal(t, types.Embedding{1, 1}, emb)
}

func TestDeleteMarksVersionZeroAndDropsEmbedding(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)

	require.NoError(t, w.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, w.Delete(ctx, 1))

	v, ok := w.versions.Get(1)
	require.True(t, ok)
	assert.True(t, v.IsDeleted())

	_, ok = w.embeddings.Get(1)
	assert.False(t, ok)
}

func TestOperationsFailAfterCommit(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, nil, nil)
	require.NoError(t, w.Add(ctx, 1, types.Embedding{0, 0}))

	_, err := w.Commit(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Add(ctx, 2, types.Embedding{1, 1}), ErrWriterClosed)
	assert.ErrorIs(t, w.Delete(ctx, 1), ErrWriterClosed)
	_, err = w.Commit(ctx)
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestCosineSpaceNormalizesOnAdd(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t, 2, func(c *config.Config) {
		c.Space = types.SpaceCosine
	}, nil)

	require.NoError(t, w.Add(ctx, 1, types.Embedding{3, 4}))

	emb, ok := w.embeddings.Get(1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, float64(emb[0]*emb[0]+emb[1]*emb[1]), 1e-5, "normalized vector should have unit squared length")
}
