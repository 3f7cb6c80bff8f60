// Package config holds the typed, validated configuration for a SPANN
// writer instance: every tunable named by the writer's external
// interface, loadable from YAML the way Warren resources are.
package config

import (
	"fmt"
	"os"

	"github.com/chroma-core/spannsegment/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config bundles every configuration parameter the writer and its
// collaborators consult.
type Config struct {
	// Space selects the distance function (cosine / l2 / ip).
	Space types.Space `yaml:"space"`

	// WriteNprobe is the RNG candidate count requested from the
	// centroid graph's query (its k).
	WriteNprobe int `yaml:"write_nprobe"`

	// NReplicaCount is the max number of heads a point may be
	// assigned to simultaneously.
	NReplicaCount int `yaml:"nreplica_count"`

	// WriteRNGEpsilon is epsilon in the RNG ε-nearness filter.
	WriteRNGEpsilon float64 `yaml:"write_rng_epsilon"`

	// WriteRNGFactor is the factor in the RNG acceptance test.
	WriteRNGFactor float64 `yaml:"write_rng_factor"`

	// SplitThreshold is the upper posting-list length bound that
	// triggers a split.
	SplitThreshold int `yaml:"split_threshold"`

	// MergeThreshold is the lower posting-list length bound that
	// triggers a merge attempt.
	MergeThreshold int `yaml:"merge_threshold"`

	// ReassignNeighborCount is how many nearby heads are considered
	// after a split for neighbor reassignment.
	ReassignNeighborCount int `yaml:"reassign_neighbor_count"`

	// NumCentersToMergeTo is the candidate count considered for a
	// merge target.
	NumCentersToMergeTo int `yaml:"num_centers_to_merge_to"`

	// NumSamplesKMeans is the sample size used by 2-means during
	// split.
	NumSamplesKMeans int `yaml:"num_samples_kmeans"`

	// InitialLambda is the k-means regularization parameter.
	InitialLambda float64 `yaml:"initial_lambda"`

	// MaxNeighbors, EfConstruction, and EfSearch are centroid-graph
	// construction/search parameters, passed through to pkg/centroid.
	MaxNeighbors   int `yaml:"max_neighbors"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`

	// GC holds the garbage-collection policy configuration.
	GC GCConfig `yaml:"gc"`
}

// GCConfig configures the two independently toggleable GC policies.
type GCConfig struct {
	// PostingListSampleFraction is the fraction (0, 1] of live heads
	// sampled for scrub on each posting-list GC pass. Zero disables
	// posting-list GC.
	PostingListSampleFraction float64 `yaml:"posting_list_sample_fraction"`

	// CentroidGraphPolicy selects "full_rebuild", "delete_percentage",
	// or "" (disabled).
	CentroidGraphPolicy string `yaml:"centroid_graph_policy"`

	// DeletePercentageThreshold is the threshold percent used by the
	// delete_percentage policy: rebuild when len_with_deleted >=
	// (1 + threshold/100) * live_len.
	DeletePercentageThreshold float64 `yaml:"delete_percentage_threshold"`

	// IntervalSeconds is a GC cycle interval in seconds for the
	// periodic runner in pkg/gc. gc.NewRunner takes its interval as an
	// argument and does not read this field.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Default returns the built-in configuration: what spannctl uses when no
// config file is given, and the base the writer's tests start from before
// overriding the space, thresholds and GC settings. A reasonable starting
// point for small collections.
func Default() Config {
	return Config{
		Space:                 types.SpaceCosine,
		WriteNprobe:           64,
		NReplicaCount:         8,
		WriteRNGEpsilon:       0.1,
		WriteRNGFactor:        1.0,
		SplitThreshold:        100,
		MergeThreshold:        50,
		ReassignNeighborCount: 8,
		NumCentersToMergeTo:   8,
		NumSamplesKMeans:      1000,
		InitialLambda:         100,
		MaxNeighbors:          16,
		EfConstruction:        100,
		EfSearch:              100,
		GC: GCConfig{
			PostingListSampleFraction: 0.1,
			CentroidGraphPolicy:       "delete_percentage",
			DeletePercentageThreshold: 10,
			IntervalSeconds:           300,
		},
	}
}

// Load reads and validates a YAML configuration file, filling unset
// fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internally-inconsistent
// tunables that would otherwise surface as confusing runtime failures.
func (c Config) Validate() error {
	if c.WriteNprobe <= 0 {
		return fmt.Errorf("write_nprobe must be > 0")
	}
	if c.NReplicaCount <= 0 {
		return fmt.Errorf("nreplica_count must be > 0")
	}
	if c.SplitThreshold <= c.MergeThreshold {
		return fmt.Errorf("split_threshold (%d) must be greater than merge_threshold (%d)",
			c.SplitThreshold, c.MergeThreshold)
	}
	if c.MergeThreshold < 0 {
		return fmt.Errorf("merge_threshold must be >= 0")
	}
	if c.NumSamplesKMeans <= 0 {
		return fmt.Errorf("num_samples_kmeans must be > 0")
	}
	if c.GC.PostingListSampleFraction < 0 || c.GC.PostingListSampleFraction > 1 {
		return fmt.Errorf("gc.posting_list_sample_fraction must be in [0, 1]")
	}
	switch c.GC.CentroidGraphPolicy {
	case "", "full_rebuild", "delete_percentage":
	default:
		return fmt.Errorf("gc.centroid_graph_policy %q is not one of full_rebuild, delete_percentage, \"\"", c.GC.CentroidGraphPolicy)
	}
	return nil
}
