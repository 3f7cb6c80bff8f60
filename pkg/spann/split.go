package spann

import (
	"context"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/kmeans"
	"github.com/chroma-core/spannsegment/pkg/log"
	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// sameHeadThreshold is the distance below which a new cluster centroid
// is considered close enough to the old head centroid to reuse its
// HeadID rather than allocate a new one.
const sameHeadThreshold = 1e-6

// splitPostingList partitions an over-sized head's posting list into two
// via 2-means, per spec.md §4.3. oldCentroid is the head's centroid as
// observed by the caller before taking ownership; the authoritative
// value used throughout is whatever was stored on the removed head, in
// case the two differ due to a race.
func (w *Writer) splitPostingList(ctx context.Context, headID types.HeadID, oldCentroid types.Embedding) error {
	h, ok := w.heads.Remove(headID)
	if !ok {
		return nil // concurrently split, merged, or scrubbed away already
	}
	oldCentroid = h.Centroid
	n := h.Posting.Len()

	rng := newSeededRand()
	indices := rng.Perm(n)

	var out kmeans.Output
	err := w.pool.run(ctx, func() error {
		var cerr error
		out, cerr = w.deps.KMeans(kmeans.Input{
			Indices:    indices,
			Embeddings: h.Posting.Embeddings,
			K:          2,
			SampleSize: w.cfg.NumSamplesKMeans,
			Distance:   w.dist(),
			Lambda:     float32(w.cfg.InitialLambda),
		}, rng)
		return cerr
	})
	if err != nil {
		w.heads.Insert(headID, h)
		return fmt.Errorf("%w: %v", ErrKMeansClusteringError, err)
	}

	if out.NumClusters <= 1 {
		// Clustering collapsed onto a single center (or the head held a
		// single surviving point): restore it as a singleton/unchanged
		// posting list. Spec.md treats this as a warning, not an error.
		headLog := log.WithHeadID(uint32(headID))
		headLog.Warn().
			Int("num_clusters", out.NumClusters).
			Msg("split collapsed to a single cluster; restoring head")
		w.heads.Insert(headID, h)
		return nil
	}

	// Partition entries by cluster label, in the shuffled order passed to
	// clustering.
	type cluster struct {
		ids        []types.PointID
		versions   []types.Version
		embeddings []types.Embedding
	}
	clusters := [2]cluster{}
	for pos, idx := range indices {
		c := out.Labels[pos]
		clusters[c].ids = append(clusters[c].ids, h.Posting.IDs[idx])
		clusters[c].versions = append(clusters[c].versions, h.Posting.Versions[idx])
		clusters[c].embeddings = append(clusters[c].embeddings, h.Posting.Embeddings[idx])
	}

	// Same-head optimization: reuse headID for whichever cluster's new
	// centroid lands within sameHeadThreshold of the old one.
	newHeadIDs := [2]types.HeadID{}
	reused := false
	for c := 0; c < 2; c++ {
		if w.dist()(out.Centers[c], oldCentroid) < sameHeadThreshold {
			newHeadIDs[c] = headID
			reused = true
		} else {
			newHeadIDs[c] = w.allocHeadID()
		}
	}
	// If both clusters happen to qualify (degenerate centers), only the
	// first keeps the old id; the second still gets a fresh one.
	if newHeadIDs[0] == headID && newHeadIDs[1] == headID {
		newHeadIDs[1] = w.allocHeadID()
	}

	for c := 0; c < 2; c++ {
		hd := &types.HeadData{
			Centroid: out.Centers[c],
			Length:   uint32(len(clusters[c].ids)),
		}
		hd.Posting.IDs = clusters[c].ids
		hd.Posting.Versions = clusters[c].versions
		hd.Posting.Embeddings = clusters[c].embeddings
		w.heads.Insert(newHeadIDs[c], hd)
		if newHeadIDs[c] != headID {
			if err := w.graphAdd(ctx, newHeadIDs[c], out.Centers[c]); err != nil {
				return err
			}
			metrics.HeadsCreated.Inc()
		}
	}

	if !reused {
		if err := w.deps.Graph.Delete(ctx, headID); err != nil {
			return fmt.Errorf("%w: head %d: %v", ErrHnswIndexMutateError, headID, err)
		}
		w.deletedHeads.Store(headID, struct{}{})
		metrics.HeadsDeleted.Inc()
	}
	metrics.Splits.Inc()

	return w.collectAndReassign(ctx, newHeadIDs, [2]types.Embedding{out.Centers[0], out.Centers[1]}, entriesOf(clusters[0].ids, clusters[0].versions, clusters[0].embeddings), entriesOf(clusters[1].ids, clusters[1].versions, clusters[1].embeddings), oldCentroid)
}

func entriesOf(ids []types.PointID, versions []types.Version, embeddings []types.Embedding) []types.Entry {
	out := make([]types.Entry, len(ids))
	for i := range ids {
		out[i] = types.Entry{ID: ids[i], Version: versions[i], Embedding: embeddings[i]}
	}
	return out
}
