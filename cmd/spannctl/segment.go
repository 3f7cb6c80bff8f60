package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/centroid"
	"github.com/chroma-core/spannsegment/pkg/config"
	"github.com/chroma-core/spannsegment/pkg/kmeans"
	"github.com/chroma-core/spannsegment/pkg/spann"
)

const graphBlockfileName = "graph"

// loadConfig reads the --config flag's YAML file if set, otherwise
// returns config.Default().
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openProvider opens (creating if necessary) the bbolt database backing
// a segment under dataDir.
func openProvider(dataDir string) (*blockstore.Provider, error) {
	return blockstore.Open(filepath.Join(dataDir, "segment.bolt"))
}

// openGraph forks the committed centroid graph if one exists, or
// creates a fresh one sized to dim. dim may be a placeholder (1) for
// commands that only read or garbage-collect an existing segment: the
// graph never consults Params.Dim after construction.
func openGraph(ctx context.Context, provider *blockstore.Provider, cfg config.Config, dim int) (*centroid.MemoryGraph, error) {
	params := centroid.Params{
		Collection:     "default",
		Dim:            dim,
		Distance:       cfg.Space,
		MaxNeighbors:   cfg.MaxNeighbors,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		PrefixPath:     graphBlockfileName,
	}

	reader, err := provider.OpenReader(graphBlockfileName, "")
	if errors.Is(err, blockstore.ErrNoSuchName) {
		return centroid.Create(provider, graphBlockfileName, params, 1024)
	}
	if err != nil {
		return nil, fmt.Errorf("open centroid graph: %w", err)
	}
	return centroid.Fork(ctx, provider, graphBlockfileName, reader.GenerationID(), params)
}

// newGraphFactory returns the Dependencies.NewGraph callback the writer
// uses to build a fresh graph during a GC full-rebuild/delete-percentage
// cycle.
func newGraphFactory(provider *blockstore.Provider, cfg config.Config) func(ctx context.Context, capacity int) (centroid.Graph, error) {
	return func(ctx context.Context, capacity int) (centroid.Graph, error) {
		params := centroid.Params{
			Collection:     "default",
			Dim:            1,
			Distance:       cfg.Space,
			MaxNeighbors:   cfg.MaxNeighbors,
			EfConstruction: cfg.EfConstruction,
			EfSearch:       cfg.EfSearch,
			PrefixPath:     graphBlockfileName,
		}
		return centroid.Create(provider, graphBlockfileName, params, capacity)
	}
}

// openSegment opens the provider, forks (or creates) the centroid
// graph, and opens a spann.Writer on top of both, ready for mutation.
// dim is only load-bearing the first time a segment is created.
func openSegment(ctx context.Context, dataDir string, cfg config.Config, dim int) (*spann.Writer, *blockstore.Provider, error) {
	provider, err := openProvider(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open segment: %w", err)
	}
	graph, err := openGraph(ctx, provider, cfg, dim)
	if err != nil {
		provider.Close()
		return nil, nil, fmt.Errorf("open segment: %w", err)
	}
	deps := spann.Dependencies{
		Provider: provider,
		Graph:    graph,
		KMeans:   kmeans.Cluster,
		NewGraph: newGraphFactory(provider, cfg),
	}
	w, err := spann.Open(ctx, deps, cfg)
	if err != nil {
		provider.Close()
		return nil, nil, fmt.Errorf("open segment: %w", err)
	}
	return w, provider, nil
}
