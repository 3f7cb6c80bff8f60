package spann

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/centroid"
	"github.com/chroma-core/spannsegment/pkg/config"
	"github.com/chroma-core/spannsegment/pkg/kmeans"
	"github.com/chroma-core/spannsegment/pkg/log"
	"github.com/chroma-core/spannsegment/pkg/metrics"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// Dependencies bundles the writer's external collaborators, each of
// which spec.md treats as outside the core: the blockfile provider, the
// centroid graph, and the k-means clustering function.
type Dependencies struct {
	Provider *blockstore.Provider
	Graph    centroid.Graph
	KMeans   kmeans.Func

	// NewGraph constructs a fresh, empty graph of the caller's chosen
	// concrete type and capacity. Only required when the configured GC
	// centroid-graph policy ("full_rebuild" or "delete_percentage")
	// actually fires — the writer cannot synthesize a same-shape empty
	// graph from the Graph interface alone.
	NewGraph func(ctx context.Context, capacity int) (centroid.Graph, error)
}

// Writer owns the staged, in-memory state of one SPANN vector index: a
// centroid graph handle, a per-head map of staged posting lists, a
// per-point version counter, an embedding cache, and a deleted-heads
// tombstone set. It is the concurrent mutation surface; Commit drains it
// into the backing store and renders it unusable.
type Writer struct {
	cfg  config.Config
	deps Dependencies

	heads        *headStore
	versions     *types.VersionMap
	embeddings   *embeddingCache
	deletedHeads sync.Map // types.HeadID -> struct{}

	nextHeadID atomic.Uint32

	// rebuiltGraph, when non-nil, replaces deps.Graph at the next
	// Commit — the centroid-graph GC's "old graph keeps serving reads
	// until commit" rule.
	rebuiltGraphMu sync.Mutex
	rebuiltGraph   centroid.Graph

	// quiesce is the writer-wide gate resolving the GC-vs-mutator Open
	// Question: mutating operations take the read side, GarbageCollect
	// takes the write side.
	quiesce sync.RWMutex

	pool *clusterPool

	closed atomic.Bool
}

// New constructs a Writer bound to deps, starting its next-head-id
// counter at startingNextHeadID (the value persisted under
// max_head_offset_id, or 0 for a fresh index).
func New(ctx context.Context, deps Dependencies, cfg config.Config, startingNextHeadID uint32) (*Writer, error) {
	if deps.Provider == nil || deps.Graph == nil || deps.KMeans == nil {
		return nil, fmt.Errorf("spann: Dependencies.Provider, Graph, and KMeans are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("spann: invalid config: %w", err)
	}
	w := &Writer{
		cfg:        cfg,
		deps:       deps,
		heads:      newHeadStore(),
		versions:   types.NewVersionMap(),
		embeddings: newEmbeddingCache(),
		pool:       newClusterPool(clusterPoolSize),
	}
	w.nextHeadID.Store(startingNextHeadID)
	return w, nil
}

func (w *Writer) allocHeadID() types.HeadID {
	return types.HeadID(w.nextHeadID.Add(1) - 1)
}

func (w *Writer) checkOpen() error {
	if w.closed.Load() {
		return ErrWriterClosed
	}
	return nil
}

// Add assumes id is fresh: it normalizes the embedding if the
// configured space is cosine, sets VersionMap[id] = 1, and multi-assigns
// it to up to nreplica_count heads.
func (w *Writer) Add(ctx context.Context, id types.PointID, embedding types.Embedding) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.quiesce.RLock()
	defer w.quiesce.RUnlock()

	emb := embedding
	if w.cfg.Space == types.SpaceCosine {
		emb = types.Normalize(embedding)
	}
	w.embeddings.Set(id, emb)
	w.versions.Set(id, 1)
	pointLog := log.WithPointID(uint32(id))
	pointLog.Debug().Msg("add")
	return w.addToPostingsList(ctx, id, 1, emb)
}

// Update requires VersionMap[id] >= 1 (panics otherwise — updating a
// point that was never added is a programmer error), bumps the version,
// stores the new embedding, and multi-assigns at the new version.
func (w *Writer) Update(ctx context.Context, id types.PointID, embedding types.Embedding) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.quiesce.RLock()
	defer w.quiesce.RUnlock()

	cur, ok := w.versions.Get(id)
	if !ok || cur.IsDeleted() {
		panic(fmt.Sprintf("spann: invariant violation: update of unknown or deleted point %d", id))
	}
	v, err := w.versions.Bump(id)
	if err != nil {
		return fmt.Errorf("%w: point %d", ErrVersionNotFound, id)
	}

	emb := embedding
	if w.cfg.Space == types.SpaceCosine {
		emb = types.Normalize(embedding)
	}
	w.embeddings.Set(id, emb)
	pointLog := log.WithPointID(uint32(id))
	pointLog.Debug().Uint32("version", uint32(v)).Msg("update")
	return w.addToPostingsList(ctx, id, v, emb)
}

// Delete sets VersionMap[id] = 0 and drops the embedding entry. Posting
// list entries referencing id are not rewritten synchronously; they are
// pruned by the next scrub/split/merge/GC that touches them.
func (w *Writer) Delete(ctx context.Context, id types.PointID) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.quiesce.RLock()
	defer w.quiesce.RUnlock()

	w.versions.Set(id, 0)
	w.embeddings.Delete(id)
	pointLog := log.WithPointID(uint32(id))
	pointLog.Debug().Msg("delete")
	return nil
}

// isOutdated reports whether a posting-list entry recorded at version v
// for id is stale: either id is now deleted, or a newer version exists.
func (w *Writer) isOutdated(id types.PointID, v types.Version) (bool, error) {
	cur, ok := w.versions.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: point %d", ErrVersionNotFound, id)
	}
	return cur.IsDeleted() || cur > v, nil
}

// addToPostingsList is the multi-assignment algorithm: RNG query for up
// to nreplica_count heads, falling back to a brand-new head when the
// index is empty or every candidate was concurrently deleted.
func (w *Writer) addToPostingsList(ctx context.Context, id types.PointID, v types.Version, embedding types.Embedding) error {
	heads, err := w.rngQuery(ctx, embedding, nil, nil)
	if err != nil {
		return err
	}
	if len(heads) == 0 {
		return w.createHeadForPoint(ctx, id, v, embedding)
	}
	for _, h := range heads {
		if _, ok := w.heads.Get(h); !ok {
			continue // raced with a delete of this head; skip per spec
		}
		if err := w.appendToHead(ctx, h, id, v, embedding); err != nil {
			return err
		}
	}
	return nil
}

// createHeadForPoint installs a brand-new single-entry head centered on
// embedding itself, growing the centroid graph's capacity first if it
// is full.
func (w *Writer) createHeadForPoint(ctx context.Context, id types.PointID, v types.Version, embedding types.Embedding) error {
	headID := w.allocHeadID()
	if err := w.graphAdd(ctx, headID, embedding); err != nil {
		return err
	}
	hd := &types.HeadData{
		Centroid: embedding,
		Posting:  types.StagedPostingList{},
		Length:   1,
	}
	hd.Posting.Append(id, v, embedding)
	w.heads.Insert(headID, hd)
	metrics.HeadsCreated.Inc()
	return nil
}

// graphAdd adds a centroid to the graph, doubling capacity and retrying
// once if the graph is full — the "resizing by doubling when full" rule.
func (w *Writer) graphAdd(ctx context.Context, id types.HeadID, embedding types.Embedding) error {
	err := w.deps.Graph.Add(ctx, id, embedding)
	if err == centroid.ErrCapacityExceeded {
		if rerr := w.deps.Graph.Resize(ctx, w.deps.Graph.Capacity()*2+1); rerr != nil {
			return fmt.Errorf("%w: %v", ErrHnswIndexResizeError, rerr)
		}
		err = w.deps.Graph.Add(ctx, id, embedding)
	}
	if err != nil {
		return fmt.Errorf("%w: head %d: %v", ErrHnswIndexMutateError, id, err)
	}
	return nil
}

func newSeededRand() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}
