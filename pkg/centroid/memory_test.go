package centroid

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/types"
)

func openTestGraph(t *testing.T) (*MemoryGraph, *blockstore.Provider) {
	t.Helper()
	p, err := blockstore.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	g, err := Create(p, "graph", Params{Dim: 2, Distance: types.SpaceL2}, 4)
	require.NoError(t, err)
	return g, p
}

func TestMemoryGraphQueryReturnsNearest(t *testing.T) {
	ctx := context.Background()
	g, _ := openTestGraph(t)

	require.NoError(t, g.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, g.Add(ctx, 2, types.Embedding{10, 10}))
	require.NoError(t, g.Add(ctx, 3, types.Embedding{0.1, 0.1}))

	ids, dists, err := g.Query(ctx, types.Embedding{0, 0}, 2, nil, nil)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, types.HeadID(1), ids[0])
	assert.Equal(t, types.HeadID(3), ids[1])
	assert.Less(t, dists[0], dists[1])
}

func TestMemoryGraphQueryHonorsAllowedAndDisallowed(t *testing.T) {
	ctx := context.Background()
	g, _ := openTestGraph(t)
	require.NoError(t, g.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, g.Add(ctx, 2, types.Embedding{1, 1}))
	require.NoError(t, g.Add(ctx, 3, types.Embedding{2, 2}))

	ids, _, err := g.Query(ctx, types.Embedding{0, 0}, 3, map[types.HeadID]struct{}{2: {}, 3: {}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.HeadID{2, 3}, ids)

	ids, _, err = g.Query(ctx, types.Embedding{0, 0}, 3, nil, map[types.HeadID]struct{}{1: {}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.HeadID{2, 3}, ids)
}

func TestMemoryGraphAddRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	g, err := Create(nil, "graph", Params{Dim: 1, Distance: types.SpaceL2}, 1)
	require.NoError(t, err)
	require.NoError(t, g.Add(ctx, 1, types.Embedding{0}))
	err = g.Add(ctx, 2, types.Embedding{1})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, g.Resize(ctx, 2))
	require.NoError(t, g.Add(ctx, 2, types.Embedding{1}))
	assert.Equal(t, 2, g.Len())
}

func TestMemoryGraphDeleteTombstonesUntilRebuild(t *testing.T) {
	ctx := context.Background()
	g, _ := openTestGraph(t)
	require.NoError(t, g.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, g.Add(ctx, 2, types.Embedding{1, 1}))

	require.NoError(t, g.Delete(ctx, 1))
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 2, g.LenWithDeleted())

	_, ok, err := g.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	g.Rebuild()
	assert.Equal(t, 1, g.LenWithDeleted())
}

func TestMemoryGraphCommitAndFork(t *testing.T) {
	ctx := context.Background()
	g, p := openTestGraph(t)
	require.NoError(t, g.Add(ctx, 1, types.Embedding{1, 2}))
	require.NoError(t, g.Add(ctx, 2, types.Embedding{3, 4}))
	require.NoError(t, g.Delete(ctx, 2))
	require.NoError(t, g.Commit(ctx))

	gen, err := p.OpenReader("graph", "")
	require.NoError(t, err)
	forked, err := Fork(ctx, p, "graph", gen.GenerationID(), Params{Dim: 2, Distance: types.SpaceL2})
	require.NoError(t, err)

	assert.Equal(t, 1, forked.Len())
	assert.Equal(t, 2, forked.LenWithDeleted())
	v, ok, err := forked.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Embedding{1, 2}, v)
}

func TestMemoryGraphGetAllIDsSorted(t *testing.T) {
	ctx := context.Background()
	g, _ := openTestGraph(t)
	require.NoError(t, g.Add(ctx, 3, types.Embedding{0, 0}))
	require.NoError(t, g.Add(ctx, 1, types.Embedding{0, 0}))
	require.NoError(t, g.Delete(ctx, 2))

	live, deleted, err := g.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.HeadID{1, 3}, live)
	assert.Equal(t, []types.HeadID{2}, deleted)
}
