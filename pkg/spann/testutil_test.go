package spann

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/centroid"
	"github.com/chroma-core/spannsegment/pkg/config"
	"github.com/chroma-core/spannsegment/pkg/kmeans"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// testConfig returns a Config with small, test-friendly thresholds: real
// segments use config.Default's much larger split/merge bounds, but a test
// that wants to exercise splitting or merging needs to reach them in a
// handful of operations.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Space = types.SpaceL2
	cfg.WriteNprobe = 10
	cfg.NReplicaCount = 1
	cfg.WriteRNGEpsilon = 1.0
	cfg.WriteRNGFactor = 1.0
	cfg.SplitThreshold = 4
	cfg.MergeThreshold = 1
	cfg.ReassignNeighborCount = 4
	cfg.NumCentersToMergeTo = 4
	cfg.NumSamplesKMeans = 4
	cfg.InitialLambda = 0
	cfg.GC = config.GCConfig{}
	return cfg
}

func openTestProvider(t *testing.T) *blockstore.Provider {
	t.Helper()
	p, err := blockstore.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testGraphParams(dim int) centroid.Params {
	return centroid.Params{
		Collection:     "test",
		Dim:            dim,
		Distance:       types.SpaceL2,
		MaxNeighbors:   16,
		EfConstruction: 50,
		EfSearch:       50,
		PrefixPath:     "graph",
	}
}

// newTestDeps wires a fresh bbolt-backed provider and in-memory centroid
// graph together, with real kmeans.Cluster as the clustering dependency
// unless km is non-nil.
func newTestDeps(t *testing.T, dim int, km kmeans.Func) (Dependencies, *blockstore.Provider) {
	t.Helper()
	p := openTestProvider(t)
	params := testGraphParams(dim)
	graph, err := centroid.Create(p, "graph", params, 16)
	require.NoError(t, err)
	if km == nil {
		km = kmeans.Cluster
	}
	return Dependencies{
		Provider: p,
		Graph:    graph,
		KMeans:   km,
		NewGraph: func(ctx context.Context, capacity int) (centroid.Graph, error) {
			return centroid.Create(p, "graph", params, capacity)
		},
	}, p
}

// newTestWriter builds a ready-to-use Writer over fresh dependencies,
// optionally mutating the base testConfig before New is called.
func newTestWriter(t *testing.T, dim int, mutate func(*config.Config), km kmeans.Func) (*Writer, *blockstore.Provider) {
	t.Helper()
	deps, p := newTestDeps(t, dim, km)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := New(context.Background(), deps, cfg, 0)
	require.NoError(t, err)
	return w, p
}
