package spann

import (
	"context"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/types"
)

// reconcilePostingList brings a staged head's posting list up to its
// authoritative Length by reading the missing suffix from the committed
// posting-list reader, reconstructing any embeddings not already in the
// writer's cache. A no-op once staged.Posting.Len() == Length.
//
// The head's guard is taken twice rather than held across the reader
// call: once to decide whether anything is missing, released for the
// (suspending) blockfile read, then re-acquired to extend and re-check
// — the source's "release, await, re-acquire, re-check" rule for
// suspension points inside a critical section.
func (w *Writer) reconcilePostingList(ctx context.Context, headID types.HeadID) error {
	h, ok := w.heads.Get(headID)
	if !ok {
		return fmt.Errorf("%w: head %d", ErrHeadNotFound, headID)
	}
	if uint32(h.Posting.Len()) >= h.Length {
		return nil
	}

	reader, err := w.deps.Provider.OpenReader(postingListBlockfileName, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingListGetError, err)
	}
	raw, found, err := reader.Get("", headKeyBytes(headID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingListGetError, err)
	}
	if !found {
		// Nothing committed yet for this head; Length must have been
		// inflated by a concurrent bookkeeping bug upstream, but per the
		// fail-soft policy we simply stop trying to reconcile further.
		return nil
	}
	ids, versions, embeddings, err := decodePostingList(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingListGetError, err)
	}

	w.heads.WithMut(headID, func(hd *types.HeadData) {
		have := make(map[types.PointID]struct{}, hd.Posting.Len())
		for _, id := range hd.Posting.IDs {
			have[id] = struct{}{}
		}
		for i, id := range ids {
			if _, dup := have[id]; dup {
				continue
			}
			emb := embeddings[i]
			if cached, ok := w.embeddings.Get(id); ok {
				emb = cached
			}
			hd.Posting.Append(id, versions[i], emb)
		}
		if uint32(hd.Posting.Len()) > hd.Length {
			hd.Length = uint32(hd.Posting.Len())
		}
	})
	return nil
}
