package spann

import (
	"context"
	"fmt"
	"math"

	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// GarbageCollect runs both configured GC policies (posting-list
// RandomSample scrubbing and centroid-graph FullRebuild/DeletePercentage
// rebuild), per spec.md §4.4. It is not safe to call concurrently with
// Add/Update/Delete: it takes the exclusive side of the writer's
// quiesce gate, which those methods take for read, so a GC cycle waits
// for in-flight mutations to finish and blocks new ones from starting
// until it completes.
func (w *Writer) GarbageCollect(ctx context.Context) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.quiesce.Lock()
	defer w.quiesce.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.GCDuration)
		metrics.GCCyclesTotal.Inc()
	}()

	if w.cfg.GC.PostingListSampleFraction > 0 {
		if err := w.gcPostingLists(ctx); err != nil {
			return err
		}
	}

	switch w.cfg.GC.CentroidGraphPolicy {
	case "full_rebuild":
		return w.rebuildCentroidGraph(ctx)
	case "delete_percentage":
		live := w.deps.Graph.Len()
		total := w.deps.Graph.LenWithDeleted()
		if live > 0 && float64(total) >= (1+w.cfg.GC.DeletePercentageThreshold/100)*float64(live) {
			return w.rebuildCentroidGraph(ctx)
		}
	}
	return nil
}

// gcPostingLists implements the RandomSample policy: scrub a
// floor(sample_fraction * live_head_count) random sample of currently
// staged heads.
func (w *Writer) gcPostingLists(ctx context.Context) error {
	var ids []types.HeadID
	w.heads.Range(func(id types.HeadID, _ *types.HeadData) bool {
		ids = append(ids, id)
		return true
	})
	n := int(math.Floor(w.cfg.GC.PostingListSampleFraction * float64(len(ids))))
	if n <= 0 {
		return nil
	}

	rng := newSeededRand()
	perm := rng.Perm(len(ids))
	for i := 0; i < n; i++ {
		id := ids[perm[i]]
		if _, ok, err := w.deps.Graph.Get(ctx, id); err != nil {
			return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
		} else if !ok {
			continue // concurrently split, merged, or emptied away
		}
		if _, err := w.scrubPostingList(ctx, id); err != nil {
			return err
		}
		metrics.GCHeadsScrubbed.Inc()
	}
	return nil
}

// rebuildCentroidGraph allocates a fresh graph sized to the live head
// count and re-inserts every live centroid, staging it as
// w.rebuiltGraph: the old graph keeps serving reads until the next
// Commit swaps it in, per spec.md §4.4.
func (w *Writer) rebuildCentroidGraph(ctx context.Context) error {
	if w.deps.NewGraph == nil {
		return fmt.Errorf("spann: GC centroid-graph policy %q requires Dependencies.NewGraph", w.cfg.GC.CentroidGraphPolicy)
	}
	live, _, err := w.deps.Graph.GetAllIDs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
	}
	capacity := len(live)
	if capacity < 1 {
		capacity = 1
	}
	fresh, err := w.deps.NewGraph(ctx, capacity)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHnswIndexCreateError, err)
	}
	for _, id := range live {
		vec, ok, err := w.deps.Graph.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHnswIndexSearchError, err)
		}
		if !ok {
			continue
		}
		if err := fresh.Add(ctx, id, vec); err != nil {
			return fmt.Errorf("%w: head %d: %v", ErrHnswIndexMutateError, id, err)
		}
	}

	w.rebuiltGraphMu.Lock()
	w.rebuiltGraph = fresh
	w.rebuiltGraphMu.Unlock()
	metrics.GCCentroidRebuilds.Inc()
	return nil
}
