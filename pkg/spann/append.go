package spann

import (
	"context"

	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// appendToHead inserts (id, v, embedding) into head's staged posting
// list under the head's per-key guard, returning early (no error, no
// reassignment) if the head was concurrently split or merged away — the
// spec's documented fail-soft behavior: the point's version was not
// bumped by this path, so the next operation touching it re-discovers
// correct placement.
func (w *Writer) appendToHead(ctx context.Context, headID types.HeadID, id types.PointID, v types.Version, embedding types.Embedding) error {
	var newLength uint32
	found := w.heads.WithMut(headID, func(h *types.HeadData) {
		h.Posting.Append(id, v, embedding)
		h.Length++
		newLength = h.Length
	})
	if !found {
		return nil
	}
	metrics.PostingListsModified.Inc()

	if int(newLength) <= w.cfg.SplitThreshold {
		return nil
	}

	// scrubPostingList owns the split/merge decision once a head crosses
	// split_threshold; it calls splitPostingList itself if the compacted
	// length still exceeds the threshold, so appendToHead must not split
	// again on top of it.
	_, err := w.scrubPostingList(ctx, headID)
	return err
}
