package centroid

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/chroma-core/spannsegment/pkg/blockstore"
	"github.com/chroma-core/spannsegment/pkg/types"
)

// MemoryGraph is a brute-force-indexed, in-memory reference
// implementation of Graph. Query scans every live centroid rather than
// navigating a layered graph, which is the right trade for head counts
// (low thousands to low millions) relative to point counts — SPEC_FULL.md
// accepts the O(live heads) scan in exchange for a small, auditable
// implementation. Its incremental add/delete bookkeeping is grounded on
// the change-log style kept by the HNSW reference in the example pack,
// generalized here into a live queryable index instead of a replay log:
// deletes tombstone in place rather than appending a log entry, and a
// rebuild (driven by pkg/spann's GC policy) is what actually compacts
// tombstones away.
type MemoryGraph struct {
	mu       sync.RWMutex
	params   Params
	dist     types.DistanceFunc
	vectors  map[types.HeadID]types.Embedding
	deleted  map[types.HeadID]struct{}
	capacity int
	provider *blockstore.Provider
	name     string
}

var _ Graph = (*MemoryGraph)(nil)

// Create builds a fresh, empty graph backed by provider under the
// given blockfile name. initialCapacity is the initial reservation; Resize
// grows it later as the writer adds heads.
func Create(provider *blockstore.Provider, name string, params Params, initialCapacity int) (*MemoryGraph, error) {
	if params.Dim <= 0 {
		return nil, fmt.Errorf("centroid: Dim must be positive")
	}
	if initialCapacity <= 0 {
		initialCapacity = 1024
	}
	return &MemoryGraph{
		params:   params,
		dist:     types.ForSpace(params.Distance),
		vectors:  make(map[types.HeadID]types.Embedding, initialCapacity),
		deleted:  make(map[types.HeadID]struct{}),
		capacity: initialCapacity,
		provider: provider,
		name:     name,
	}, nil
}

// Fork loads a previously committed graph generation as the starting
// point for a new writer epoch, mirroring the `fork()` half of the
// external create/fork contract.
func Fork(ctx context.Context, provider *blockstore.Provider, name, genID string, params Params) (*MemoryGraph, error) {
	g, err := Create(provider, name, params, 1024)
	if err != nil {
		return nil, err
	}
	reader, err := provider.OpenReader(name, genID)
	if err != nil {
		return nil, fmt.Errorf("centroid: fork: %w", err)
	}
	rows, err := reader.GetRange("live", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("centroid: fork: read live heads: %w", err)
	}
	for _, row := range rows {
		id := types.HeadID(binary.BigEndian.Uint32(row.Key))
		vec, err := decodeEmbedding(row.Value)
		if err != nil {
			return nil, fmt.Errorf("centroid: fork: decode head %d: %w", id, err)
		}
		g.vectors[id] = vec
	}
	tomb, err := reader.GetRange("deleted", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("centroid: fork: read tombstones: %w", err)
	}
	for _, row := range tomb {
		id := types.HeadID(binary.BigEndian.Uint32(row.Key))
		g.deleted[id] = struct{}{}
	}
	if n := len(g.vectors) + len(g.deleted); n > g.capacity {
		g.capacity = n
	}
	return g, nil
}

func headKey(id types.HeadID) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(id))
	return k
}

func encodeEmbedding(v types.Embedding) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.BigEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(b []byte) (types.Embedding, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("centroid: malformed embedding bytes (len %d)", len(b))
	}
	out := make(types.Embedding, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// Query performs an exact brute-force nearest-head scan over live heads.
func (g *MemoryGraph) Query(ctx context.Context, vec types.Embedding, k int, allowed, disallowed map[types.HeadID]struct{}) ([]types.HeadID, []float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	type scored struct {
		id types.HeadID
		d  float32
	}
	cands := make([]scored, 0, len(g.vectors))
	for id, c := range g.vectors {
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		if disallowed != nil {
			if _, ok := disallowed[id]; ok {
				continue
			}
		}
		cands = append(cands, scored{id: id, d: g.dist(vec, c)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].d < cands[j].d })
	if k > len(cands) {
		k = len(cands)
	}
	ids := make([]types.HeadID, k)
	dists := make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = cands[i].id
		dists[i] = cands[i].d
	}
	return ids, dists, nil
}

// Add inserts a new live head centroid.
func (g *MemoryGraph) Add(ctx context.Context, id types.HeadID, vec types.Embedding) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, live := g.vectors[id]; !live {
		if _, tomb := g.deleted[id]; !tomb {
			if len(g.vectors)+len(g.deleted) >= g.capacity {
				return ErrCapacityExceeded
			}
		}
	}
	delete(g.deleted, id)
	g.vectors[id] = vec.Clone()
	return nil
}

// Delete tombstones id.
func (g *MemoryGraph) Delete(ctx context.Context, id types.HeadID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.vectors, id)
	g.deleted[id] = struct{}{}
	return nil
}

// Resize grows the graph's reservation. It never shrinks: pkg/spann only
// ever calls it with a larger value, doubling on exhaustion.
func (g *MemoryGraph) Resize(ctx context.Context, newCapacity int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if newCapacity > g.capacity {
		g.capacity = newCapacity
	}
	return nil
}

// Get returns a live head's centroid.
func (g *MemoryGraph) Get(ctx context.Context, id types.HeadID) (types.Embedding, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.vectors[id]
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

// GetAllIDs returns every live and tombstoned head id.
func (g *MemoryGraph) GetAllIDs(ctx context.Context) ([]types.HeadID, []types.HeadID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	live := make([]types.HeadID, 0, len(g.vectors))
	for id := range g.vectors {
		live = append(live, id)
	}
	deleted := make([]types.HeadID, 0, len(g.deleted))
	for id := range g.deleted {
		deleted = append(deleted, id)
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })
	return live, deleted, nil
}

// LenWithDeleted returns live+tombstoned head count.
func (g *MemoryGraph) LenWithDeleted() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vectors) + len(g.deleted)
}

// Len returns the live head count.
func (g *MemoryGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.vectors)
}

// Capacity returns the graph's current reservation.
func (g *MemoryGraph) Capacity() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.capacity
}

// Commit persists every live and tombstoned head into a fresh generation
// of the graph's blockfile.
func (g *MemoryGraph) Commit(ctx context.Context) error {
	g.mu.RLock()
	vectors := make(map[types.HeadID]types.Embedding, len(g.vectors))
	for id, v := range g.vectors {
		vectors[id] = v
	}
	deleted := make(map[types.HeadID]struct{}, len(g.deleted))
	for id := range g.deleted {
		deleted[id] = struct{}{}
	}
	g.mu.RUnlock()

	w, err := g.provider.CreateWriter(ctx, blockstore.WriterOptions{Name: g.name})
	if err != nil {
		return fmt.Errorf("centroid: commit: create writer: %w", err)
	}
	for id, v := range vectors {
		if err := w.Set("live", headKey(id), encodeEmbedding(v)); err != nil {
			return fmt.Errorf("centroid: commit: write head %d: %w", id, err)
		}
	}
	for id := range deleted {
		if err := w.Set("deleted", headKey(id), []byte{1}); err != nil {
			return fmt.Errorf("centroid: commit: write tombstone %d: %w", id, err)
		}
	}
	if _, err := w.Commit(ctx); err != nil {
		return fmt.Errorf("centroid: commit: %w", err)
	}
	return nil
}

// Rebuild drops every tombstone, compacting LenWithDeleted back down to
// Len. pkg/spann does not call it; its GC rebuild policies build a fresh
// graph through Dependencies.NewGraph instead.
func (g *MemoryGraph) Rebuild() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = make(map[types.HeadID]struct{})
}
