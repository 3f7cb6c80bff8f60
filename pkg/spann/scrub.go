package spann

import (
	"context"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// scrubPostingList reconciles, then compacts a head's staged posting
// list in place, keeping only entries whose version matches the current
// VersionMap entry (and is non-zero). Returns the post-compaction
// length and, per spec.md §4.3, triggers split or merge as appropriate.
func (w *Writer) scrubPostingList(ctx context.Context, headID types.HeadID) (int, error) {
	if err := w.reconcilePostingList(ctx, headID); err != nil {
		return 0, err
	}

	var newLength int
	found := w.heads.WithMut(headID, func(h *types.HeadData) {
		keep := 0
		for i := range h.Posting.IDs {
			id := h.Posting.IDs[i]
			v := h.Posting.Versions[i]
			cur, ok := w.versions.Get(id)
			if !ok {
				panic(fmt.Sprintf("spann: invariant violation: posting list entry for unknown point %d", id))
			}
			if cur.IsDeleted() || cur != v {
				continue
			}
			if v == 0 {
				panic("spann: invariant violation: posting list entry carries version 0")
			}
			h.Posting.IDs[keep] = h.Posting.IDs[i]
			h.Posting.Versions[keep] = h.Posting.Versions[i]
			h.Posting.Embeddings[keep] = h.Posting.Embeddings[i]
			keep++
		}
		h.Posting.IDs = h.Posting.IDs[:keep]
		h.Posting.Versions = h.Posting.Versions[:keep]
		h.Posting.Embeddings = h.Posting.Embeddings[:keep]
		h.Length = uint32(keep)
		newLength = keep
	})
	if !found {
		return 0, nil
	}

	switch {
	case newLength == 0:
		// A head emptied entirely by scrubbing is removed outright rather
		// than left as a standing zero-length entry — spec.md §4.4's "any
		// head that becomes empty is removed as a normal scrub side-effect".
		if _, ok := w.heads.Remove(headID); ok {
			if err := w.deps.Graph.Delete(ctx, headID); err != nil {
				return newLength, fmt.Errorf("%w: head %d: %v", ErrHnswIndexMutateError, headID, err)
			}
			w.deletedHeads.Store(headID, struct{}{})
			metrics.HeadsDeleted.Inc()
		}
	case newLength > w.cfg.SplitThreshold:
		h, ok := w.heads.Get(headID)
		if !ok {
			return newLength, nil
		}
		if err := w.splitPostingList(ctx, headID, h.Centroid); err != nil {
			return newLength, err
		}
	case newLength < w.cfg.MergeThreshold:
		h, ok := w.heads.Get(headID)
		if !ok {
			return newLength, nil
		}
		if err := w.tryMergePostingList(ctx, headID, h.Centroid); err != nil {
			return newLength, err
		}
	}
	return newLength, nil
}
