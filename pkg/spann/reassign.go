package spann

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// collectAndReassign re-applies NPA after a split: every point in the
// two new clusters that is now farther from its own cluster's centroid
// than it was from the old head centroid gets reassigned (split-point
// phase), and every point in a handful of neighboring heads that is
// closer to one of the two new centroids than to both its own neighbor
// centroid and the old centroid is pulled over too (neighbor-head
// phase). See spec.md §4.3 collect_and_reassign.
func (w *Writer) collectAndReassign(ctx context.Context, newHeadIDs [2]types.HeadID, centers [2]types.Embedding, cluster0, cluster1 []types.Entry, oldCentroid types.Embedding) error {
	dist := w.dist()
	reassigned := make(map[types.PointID]struct{})
	clusters := [2][]types.Entry{cluster0, cluster1}

	for c := 0; c < 2; c++ {
		skip := map[types.HeadID]struct{}{newHeadIDs[c]: {}}
		remaining := 0
		for _, e := range clusters[c] {
			if _, done := reassigned[e.ID]; done {
				continue
			}
			distNew := dist(e.Embedding, centers[c])
			distOld := dist(e.Embedding, oldCentroid)
			if distNew <= distOld {
				remaining++
				continue
			}
			did, err := w.reassignPoint(ctx, e.ID, e.Version, e.Embedding, skip, metrics.ReassignsSplitPoint)
			if err != nil {
				return err
			}
			if did {
				reassigned[e.ID] = struct{}{}
			} else {
				remaining++
			}
		}
		// A cluster every one of whose points got reassigned elsewhere
		// leaves its new head with nothing live; tear it down eagerly
		// instead of waiting for the next scrub/GC to notice.
		if remaining == 0 && len(clusters[c]) > 0 {
			if err := w.deleteEmptyHead(ctx, newHeadIDs[c]); err != nil {
				return err
			}
		}
	}

	return w.reassignNeighborHeads(ctx, newHeadIDs, centers, oldCentroid, reassigned)
}

// reassignNeighborHeads is collect_and_reassign's second phase: nearby
// heads (by distance to the old centroid) are swept for points that now
// belong closer to one of the two split centroids than to their current
// neighbor head and the old centroid both. A neighbor head left with no
// live points after the sweep is torn down.
func (w *Writer) reassignNeighborHeads(ctx context.Context, newHeadIDs [2]types.HeadID, centers [2]types.Embedding, oldCentroid types.Embedding, reassigned map[types.PointID]struct{}) error {
	dist := w.dist()
	ids, dists, err := w.deps.Graph.Query(ctx, oldCentroid, w.cfg.ReassignNeighborCount, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
	}
	if len(ids) == 0 {
		return nil
	}
	best := dists[0]

	for i, nid := range ids {
		if nid == newHeadIDs[0] || nid == newHeadIDs[1] {
			continue
		}
		if dists[i] > 2*best {
			continue
		}
		if err := w.reconcilePostingList(ctx, nid); err != nil {
			return err
		}
		nh, ok := w.heads.Get(nid)
		if !ok {
			continue
		}

		neighborCentroid := nh.Centroid
		entries := make([]types.Entry, nh.Posting.Len())
		for i := range entries {
			entries[i] = types.Entry{ID: nh.Posting.IDs[i], Version: nh.Posting.Versions[i], Embedding: nh.Posting.Embeddings[i]}
		}

		remaining := 0
		skip := map[types.HeadID]struct{}{nid: {}}
		for _, e := range entries {
			cur, ok := w.versions.Get(e.ID)
			if !ok {
				return fmt.Errorf("%w: point %d", ErrVersionNotFound, e.ID)
			}
			if cur.IsDeleted() || cur != e.Version {
				continue // already stale; doesn't keep the neighbor head alive
			}
			if _, done := reassigned[e.ID]; done {
				continue
			}

			distNeighbor := dist(e.Embedding, neighborCentroid)
			distOld := dist(e.Embedding, oldCentroid)
			moved := false
			for c := 0; c < 2; c++ {
				distC := dist(e.Embedding, centers[c])
				if distNeighbor > distC && distOld > distC {
					did, err := w.reassignPoint(ctx, e.ID, e.Version, e.Embedding, skip, metrics.ReassignsNeighbors)
					if err != nil {
						return err
					}
					if did {
						reassigned[e.ID] = struct{}{}
						moved = true
					}
					break
				}
			}
			if !moved {
				remaining++
			}
		}

		if remaining == 0 {
			if err := w.deleteEmptyHead(ctx, nid); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteEmptyHead tears down a staged head left with no live points: it
// claims the head from the staged map, removes its centroid from the
// graph, and tombstones it for the next commit. A no-op if the head is
// already gone (concurrently split, merged, or scrubbed away).
func (w *Writer) deleteEmptyHead(ctx context.Context, id types.HeadID) error {
	if _, ok := w.heads.Remove(id); !ok {
		return nil
	}
	if err := w.deps.Graph.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: head %d: %v", ErrHnswIndexMutateError, id, err)
	}
	w.deletedHeads.Store(id, struct{}{})
	metrics.HeadsDeleted.Inc()
	return nil
}

// reassignPoint re-multi-assigns id via a fresh RNG query. If any
// selected head is in skip (typically the head the point is currently
// housed in), the point stays where it is. Otherwise its staged version
// is bumped and it is appended to every selected head, leaving its old
// entries stale. Returns false without mutating anything if the point
// stays put or its version no longer matches expected (superseded or
// deleted under us since the caller last read it).
func (w *Writer) reassignPoint(ctx context.Context, id types.PointID, expected types.Version, embedding types.Embedding, skip map[types.HeadID]struct{}, counter prometheus.Counter) (bool, error) {
	cur, ok := w.versions.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: point %d", ErrVersionNotFound, id)
	}
	if cur.IsDeleted() || cur != expected {
		return false, nil
	}
	heads, err := w.rngQuery(ctx, embedding, nil, nil)
	if err != nil {
		return false, err
	}
	for _, h := range heads {
		if _, skipped := skip[h]; skipped {
			return false, nil
		}
	}
	v, err := w.versions.Bump(id)
	if err != nil {
		return false, fmt.Errorf("%w: point %d", ErrVersionNotFound, id)
	}

	for _, h := range heads {
		if _, ok := w.heads.Get(h); !ok {
			continue
		}
		if err := w.appendToHead(ctx, h, id, v, embedding); err != nil {
			return false, err
		}
	}
	metrics.Reassigns.Inc()
	counter.Inc()
	return true, nil
}
