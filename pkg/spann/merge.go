package spann

import (
	"context"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// tryMergePostingList absorbs an under-sized head's posting list into a
// nearby head, per spec.md §4.3 try_merge_posting_list. sourceCentroid is
// the head's centroid as read by the caller before taking ownership; the
// value stored on the claimed head is authoritative.
func (w *Writer) tryMergePostingList(ctx context.Context, headID types.HeadID, sourceCentroid types.Embedding) error {
	source, ok := w.heads.Remove(headID)
	if !ok {
		return nil
	}
	sourceCentroid = source.Centroid

	candidates, _, err := w.deps.Graph.Query(ctx, sourceCentroid, w.cfg.NumCentersToMergeTo, nil, nil)
	if err != nil {
		w.heads.Insert(headID, source)
		return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
	}

	var target types.HeadID
	found := false
	for _, cand := range candidates {
		if cand == headID {
			continue
		}
		if err := w.reconcilePostingList(ctx, cand); err != nil {
			w.heads.Insert(headID, source)
			return err
		}
		td, ok := w.heads.Get(cand)
		if !ok {
			continue
		}
		if td.Length+source.Length > uint32(w.cfg.SplitThreshold) {
			continue
		}
		target = cand
		found = true
		break
	}

	if !found {
		w.heads.Insert(headID, source)
		return nil
	}

	var targetCentroid types.Embedding
	merged := w.heads.WithMut(target, func(t *types.HeadData) {
		t.Posting.IDs = append(t.Posting.IDs, source.Posting.IDs...)
		t.Posting.Versions = append(t.Posting.Versions, source.Posting.Versions...)
		t.Posting.Embeddings = append(t.Posting.Embeddings, source.Posting.Embeddings...)
		t.Length += source.Length
		targetCentroid = t.Centroid
	})
	if !merged {
		// Target vanished between the candidate scan and the merge
		// itself: put the source back and let the next scrub retry.
		w.heads.Insert(headID, source)
		return nil
	}

	if err := w.deps.Graph.Delete(ctx, headID); err != nil {
		return fmt.Errorf("%w: head %d: %v", ErrHnswIndexMutateError, headID, err)
	}
	w.deletedHeads.Store(headID, struct{}{})
	metrics.HeadsDeleted.Inc()
	metrics.Merges.Inc()

	return w.reassignMergedPoints(ctx, target, targetCentroid, sourceCentroid, source)
}

// reassignMergedPoints re-applies NPA to every point that moved from
// source into target: a point whose distance to the target centroid
// exceeds its distance to the source's former centroid is reassigned.
func (w *Writer) reassignMergedPoints(ctx context.Context, target types.HeadID, targetCentroid, sourceCentroid types.Embedding, source *types.HeadData) error {
	dist := w.dist()
	skip := map[types.HeadID]struct{}{target: {}}
	for i := range source.Posting.IDs {
		id := source.Posting.IDs[i]
		v := source.Posting.Versions[i]
		emb := source.Posting.Embeddings[i]

		distTarget := dist(emb, targetCentroid)
		distSource := dist(emb, sourceCentroid)
		if distTarget <= distSource {
			continue
		}
		if _, err := w.reassignPoint(ctx, id, v, emb, skip, metrics.ReassignsMergedPoint); err != nil {
			return err
		}
	}
	return nil
}
