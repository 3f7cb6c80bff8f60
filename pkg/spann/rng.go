package spann

import (
	"context"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// withinEpsilon implements spec.md's ε-nearness test. Inner-product
// distances may be negative, so the comparison direction flips when
// both distances are negative (the only case where "closer" means a
// more negative number on both sides).
func withinEpsilon(d, d0 float32, epsilon float32) bool {
	if d0 < 0 && d < 0 {
		return d >= (1+epsilon)*d0
	}
	return d <= (1+epsilon)*d0
}

// rngAccept implements spec.md's RNG acceptance test used while greedily
// pruning candidates down to at most replica_count heads.
func rngAccept(d, distToNeighbor float32, factor float32) bool {
	if distToNeighbor < 0 && d < 0 {
		return factor*distToNeighbor < d
	}
	return factor*distToNeighbor > d
}

// rngQuery runs the Relative Neighborhood Graph multi-assignment
// selection: nprobe nearest heads from the centroid graph, restricted to
// the ε-nearest band, then greedily pruned to at most nreplica_count
// heads such that no accepted head is "shadowed" by another already
// accepted one.
func (w *Writer) rngQuery(ctx context.Context, embedding types.Embedding, allowed, disallowed map[types.HeadID]struct{}) ([]types.HeadID, error) {
	metrics.RNGCalls.Inc()
	ids, dists, err := w.deps.Graph.Query(ctx, embedding, w.cfg.WriteNprobe, allowed, disallowed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
	}
	metrics.RNGCentersFetched.Add(float64(len(ids)))
	if len(ids) == 0 {
		return nil, nil
	}

	best := dists[0]
	type cand struct {
		id types.HeadID
		d  float32
	}
	var band []cand
	for i, id := range ids {
		if !withinEpsilon(dists[i], best, float32(w.cfg.WriteRNGEpsilon)) {
			continue
		}
		if _, ok := w.heads.Get(id); !ok {
			continue // concurrently absent from the Head map
		}
		band = append(band, cand{id: id, d: dists[i]})
	}

	var accepted []cand
	for _, c := range band {
		if len(accepted) >= w.cfg.NReplicaCount {
			break
		}
		ok := true
		for _, acc := range accepted {
			distToAccepted := w.dist()(headEmbedding(w, acc.id), headEmbedding(w, c.id))
			if !rngAccept(c.d, distToAccepted, float32(w.cfg.WriteRNGFactor)) {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, c)
		}
	}

	out := make([]types.HeadID, len(accepted))
	for i, c := range accepted {
		out[i] = c.id
	}
	return out, nil
}

// headEmbedding returns a head's current centroid, or a nil embedding if
// it has vanished (the distance computed against it will simply not
// matter since the candidate is filtered out at its own lookup).
func headEmbedding(w *Writer, id types.HeadID) types.Embedding {
	if h, ok := w.heads.Get(id); ok {
		return h.Centroid
	}
	return nil
}

func (w *Writer) dist() types.DistanceFunc {
	return types.ForSpace(w.cfg.Space)
}
