// Package kmeans is a pure-function clustering routine the SPANN writer
// calls during posting-list splits. It deliberately carries no knowledge
// of heads, posting lists, or the writer's staged state: Cluster takes a
// slice of indices into a caller-owned embedding slice and returns
// per-index labels, the resulting centers, and per-cluster counts,
// mirroring the external `cluster(KMeansAlgorithmInput) -> ClusteringOutput`
// contract the writer treats as an effect boundary. The writer owns
// shuffling its input and rolling back staged state on failure; this
// package only clusters what it is given.
package kmeans

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/chroma-core/spannsegment/pkg/types"
)

// Errors surfaced by Cluster. pkg/spann wraps these into its own
// KMeansClusteringError.
var (
	ErrZeroPointsInCluster = errors.New("kmeans: zero points in cluster")
	ErrEmptyInput          = errors.New("kmeans: no indices to cluster")
	ErrK                   = errors.New("kmeans: k must be positive and no greater than the number of indices")
)

// Input bundles a clustering request. Indices names which rows of
// Embeddings participate; K is the number of clusters (always 2 for the
// writer's split path, but the routine is general). SampleSize bounds
// how many of Indices are used to seed the initial centers, 0 meaning
// "use all of them"; every index takes part in the refinement
// iterations. Lambda is the regularization term added to
// the k-means++ style center update, following the source's
// "initial_lambda" knob.
type Input struct {
	Indices    []int
	Embeddings []types.Embedding
	K          int
	SampleSize int
	Distance   types.DistanceFunc
	Lambda     float32
}

// Output is the result of a successful Cluster call. Labels maps each
// entry of Input.Indices (by position) to a cluster in [0, NumClusters).
// Centers and Counts are both indexed by cluster number.
type Output struct {
	Labels      []int
	Centers     []types.Embedding
	Counts      []int
	NumClusters int
}

const maxIterations = 25

// Func is the shape Cluster satisfies, used by pkg/spann as an
// injectable dependency so tests can substitute a deterministic or
// failing stand-in without pulling in the real iterative routine.
type Func func(in Input, rng *rand.Rand) (Output, error)

// Cluster runs a k-means (Lloyd's algorithm, k-means++ seeding) over
// in.Embeddings[i] for i in in.Indices, with a caller-supplied *rand.Rand
// so callers that need determinism (tests) can pass a seeded source.
// in.Indices is clustered in the order given; Cluster never shuffles it
// — per the external contract, that is the caller's job.
func Cluster(in Input, rng *rand.Rand) (Output, error) {
	n := len(in.Indices)
	if n == 0 {
		return Output{}, ErrEmptyInput
	}
	if in.K <= 0 || in.K > n {
		return Output{}, ErrK
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	sampleIdx := in.Indices
	if in.SampleSize > 0 && in.SampleSize < n {
		sampleIdx = sampleIndices(in.Indices, in.SampleSize, rng)
	}

	centers := seedPlusPlus(sampleIdx, in.Embeddings, in.K, in.Distance, rng)

	labels := make([]int, n)
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for pos, idx := range in.Indices {
			best, bestD := 0, float32(0)
			for c, center := range centers {
				d := in.Distance(in.Embeddings[idx], center)
				if c == 0 || d < bestD {
					best, bestD = c, d
				}
			}
			if labels[pos] != best {
				labels[pos] = best
				changed = true
			}
		}

		newCenters := updateCenters(in.Indices, in.Embeddings, labels, in.K, in.Lambda, centers)
		centers = newCenters
		if !changed && iter > 0 {
			break
		}
	}

	counts := make([]int, in.K)
	for _, l := range labels {
		counts[l]++
	}

	numClusters := 0
	for _, c := range counts {
		if c > 0 {
			numClusters++
		}
	}

	return Output{Labels: labels, Centers: centers, Counts: counts, NumClusters: numClusters}, nil
}

func sampleIndices(indices []int, sampleSize int, rng *rand.Rand) []int {
	perm := rng.Perm(len(indices))
	out := make([]int, sampleSize)
	for i := 0; i < sampleSize; i++ {
		out[i] = indices[perm[i]]
	}
	return out
}

// seedPlusPlus picks K initial centers using the k-means++ weighted
// selection: the first center is uniform-random, each subsequent center
// is chosen with probability proportional to its squared distance from
// the nearest already-chosen center.
func seedPlusPlus(indices []int, embeddings []types.Embedding, k int, dist types.DistanceFunc, rng *rand.Rand) []types.Embedding {
	centers := make([]types.Embedding, 0, k)
	first := indices[rng.Intn(len(indices))]
	centers = append(centers, embeddings[first].Clone())

	for len(centers) < k {
		weights := make([]float64, len(indices))
		var total float64
		for i, idx := range indices {
			best := float32(0)
			for c, center := range centers {
				d := dist(embeddings[idx], center)
				if c == 0 || d < best {
					best = d
				}
			}
			w := float64(best) * float64(best)
			if w < 0 {
				w = 0
			}
			weights[i] = w
			total += w
		}
		if total == 0 {
			// Degenerate: every remaining point coincides with a chosen
			// center. Fall back to uniform pick so we still reach k.
			pick := indices[rng.Intn(len(indices))]
			centers = append(centers, embeddings[pick].Clone())
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := indices[len(indices)-1]
		for i, idx := range indices {
			cum += weights[i]
			if cum >= target {
				chosen = idx
				break
			}
		}
		centers = append(centers, embeddings[chosen].Clone())
	}
	return centers
}

// updateCenters recomputes each cluster's centroid as the mean of its
// assigned embeddings, shrunk toward the previous center by lambda — the
// routine's regularization term guarding against a single outlier
// dragging a small cluster's center too far in one step.
func updateCenters(indices []int, embeddings []types.Embedding, labels []int, k int, lambda float32, prev []types.Embedding) []types.Embedding {
	dim := embeddings[indices[0]].Dim()
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for pos, idx := range indices {
		c := labels[pos]
		counts[c]++
		v := embeddings[idx]
		for d := 0; d < dim; d++ {
			sums[c][d] += float64(v[d])
		}
	}

	out := make([]types.Embedding, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			out[c] = prev[c].Clone()
			continue
		}
		mean := make(types.Embedding, dim)
		for d := 0; d < dim; d++ {
			mean[d] = float32(sums[c][d] / float64(counts[c]))
		}
		if lambda > 0 && c < len(prev) {
			for d := 0; d < dim; d++ {
				mean[d] = mean[d] + lambda*(prev[c][d]-mean[d])
			}
		}
		out[c] = mean
	}
	return out
}

// Validate returns ErrZeroPointsInCluster if any cluster in out received
// no points, matching the writer's "zero-count cluster is a clustering
// failure" rule for k == len(out.Counts).
func Validate(out Output) error {
	for c, n := range out.Counts {
		if n == 0 {
			return fmt.Errorf("%w: cluster %d", ErrZeroPointsInCluster, c)
		}
	}
	return nil
}
