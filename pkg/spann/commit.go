package spann

import (
	"context"
	"fmt"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// CommitResult is the merged flush output of everything a Commit writes:
// the posting-list blockfile, the versions blockfile (version map plus
// per-head lengths), and the max-head-id blockfile. The centroid graph is
// committed through Graph.Commit, which reports no generation, so it has
// no entry here. Each key is a blockfile name; each value lists the UUIDs of the
// generations committed under it (normally one, per name).
type CommitResult struct {
	Flushed map[string][]string
}

// Commit is the writer's Flusher: it drains every staged head's posting
// list, the deleted-heads tombstones, the version map, the per-head
// length table, the next-head-id counter, and the centroid graph (the
// rebuilt one if GC staged a replacement) into the backing store as one
// logical generation, then renders the writer unusable. Any error
// leaves the writer closed; the caller should treat the segment's
// on-disk state as unchanged and not retry the same Writer.
func (w *Writer) Commit(ctx context.Context) (*CommitResult, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	w.closed.Store(true)
	w.quiesce.Lock()
	defer w.quiesce.Unlock()

	result := &CommitResult{Flushed: make(map[string][]string)}

	if err := w.commitPostingLists(ctx, result); err != nil {
		return nil, err
	}
	if err := w.commitVersionsAndLengths(ctx, result); err != nil {
		return nil, err
	}
	if err := w.commitMaxHeadID(ctx, result); err != nil {
		return nil, err
	}
	if err := w.commitCentroidGraph(ctx); err != nil {
		return nil, err
	}

	return result, nil
}

// commitPostingLists flattens every staged head's posting list into the
// "pl" blockfile and issues deletes for every tombstoned head, fully
// reconciling each head first so the flattened record matches its
// authoritative Length.
func (w *Writer) commitPostingLists(ctx context.Context, result *CommitResult) error {
	timer := metrics.NewTimer()

	var headIDs []types.HeadID
	w.heads.Range(func(id types.HeadID, _ *types.HeadData) bool {
		headIDs = append(headIDs, id)
		return true
	})

	plWriter, err := w.deps.Provider.CreateWriter(ctx, blockstore.WriterOptions{Name: postingListBlockfileName})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingsListWriterCreateError, err)
	}

	var entriesFlushed int
	for _, id := range headIDs {
		if err := w.reconcilePostingList(ctx, id); err != nil {
			return err
		}
		h, ok := w.heads.Get(id)
		if !ok || h.Posting.Len() == 0 {
			continue
		}
		raw := encodePostingList(h.Posting.IDs, h.Posting.Versions, h.Posting.Embeddings)
		if err := plWriter.Set("", headKeyBytes(id), raw); err != nil {
			return fmt.Errorf("%w: %v", ErrPostingListSetError, err)
		}
		entriesFlushed += h.Posting.Len()
	}

	var deleteErr error
	w.deletedHeads.Range(func(k, _ any) bool {
		id, ok := k.(types.HeadID)
		if !ok {
			return true
		}
		if err := plWriter.Delete("", headKeyBytes(id)); err != nil {
			deleteErr = fmt.Errorf("%w: %v", ErrPostingListSetError, err)
			return false
		}
		return true
	})
	if deleteErr != nil {
		return deleteErr
	}

	flusher, err := plWriter.Commit(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingListCommitError, err)
	}
	flushed, err := flusher.Flush(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingListCommitError, err)
	}
	mergeFlush(result.Flushed, flushed)

	timer.ObserveDuration(metrics.PostingListCommitLatency)
	metrics.PostingListEntriesFlushed.Add(float64(entriesFlushed))
	return nil
}

// commitVersionsAndLengths writes the full PointID->Version map under
// the empty prefix and the HeadID->Length table under headLengthPrefix
// into a single blockfile generation, giving readers atomic visibility
// of both together.
func (w *Writer) commitVersionsAndLengths(ctx context.Context, result *CommitResult) error {
	timer := metrics.NewTimer()

	vWriter, err := w.deps.Provider.CreateWriter(ctx, blockstore.WriterOptions{Name: versionsBlockfileName})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionsMapWriterCreateError, err)
	}

	var versionErr error
	var versionsFlushed int
	w.versions.Range(func(id types.PointID, v types.Version) {
		if versionErr != nil {
			return
		}
		if err := vWriter.Set("", pointKeyBytes(id), encodeUint32(uint32(v))); err != nil {
			versionErr = fmt.Errorf("%w: %v", ErrVersionsMapSetError, err)
			return
		}
		versionsFlushed++
	})
	if versionErr != nil {
		return versionErr
	}

	var headIDs []types.HeadID
	w.heads.Range(func(id types.HeadID, _ *types.HeadData) bool {
		headIDs = append(headIDs, id)
		return true
	})
	for _, id := range headIDs {
		h, ok := w.heads.Get(id)
		if !ok {
			continue
		}
		if err := vWriter.Set(headLengthPrefix, headKeyBytes(id), encodeUint32(h.Length)); err != nil {
			return fmt.Errorf("%w: %v", ErrVersionsMapSetError, err)
		}
	}

	flusher, err := vWriter.Commit(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionsMapCommitError, err)
	}
	flushed, err := flusher.Flush(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionsMapCommitError, err)
	}
	mergeFlush(result.Flushed, flushed)

	timer.ObserveDuration(metrics.VersionsMapCommitLatency)
	metrics.VersionsMapEntriesFlushed.Add(float64(versionsFlushed))
	return nil
}

// commitMaxHeadID persists the next-HeadID counter under its well-known
// key so a future Open picks up where this writer left off.
func (w *Writer) commitMaxHeadID(ctx context.Context, result *CommitResult) error {
	mhWriter, err := w.deps.Provider.CreateWriter(ctx, blockstore.WriterOptions{Name: maxHeadBlockfileName})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMaxHeadIDWriterCreateError, err)
	}
	if err := mhWriter.Set("", maxHeadOffsetIDKey, encodeUint32(w.nextHeadID.Load())); err != nil {
		return fmt.Errorf("%w: %v", ErrMaxHeadIDSetError, err)
	}
	flusher, err := mhWriter.Commit(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMaxHeadIDCommitError, err)
	}
	flushed, err := flusher.Flush(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMaxHeadIDCommitError, err)
	}
	mergeFlush(result.Flushed, flushed)
	return nil
}

// commitCentroidGraph commits the rebuilt graph staged by a prior
// GarbageCollect cycle if one exists, otherwise the live graph, and
// swaps the rebuilt graph into deps.Graph so later calls (there are
// none, since the writer is now closed, but future Open/New callers
// sharing deps.Graph) see it.
func (w *Writer) commitCentroidGraph(ctx context.Context) error {
	timer := metrics.NewTimer()

	w.rebuiltGraphMu.Lock()
	rebuilt := w.rebuiltGraph
	w.rebuiltGraphMu.Unlock()

	target := w.deps.Graph
	if rebuilt != nil {
		target = rebuilt
	}
	if err := target.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrHnswIndexCommitError, err)
	}
	if rebuilt != nil {
		w.deps.Graph = rebuilt
	}

	timer.ObserveDuration(metrics.CentroidGraphCommitLatency)
	return nil
}

func mergeFlush(dst, src map[string][]string) {
	for k, v := range src {
		dst[k] = append(dst[k], v...)
	}
}
