package spann

import (
	"sync"

	"github.com/chroma-core/spannsegment/pkg/types"
)

const headShardCount = 64

// headStore is a sharded concurrent map from HeadID to *types.HeadData,
// giving per-key exclusive access without a single global lock — the Go
// shape of the source's per-key-guarded Head map. WithMut models the
// source's "Option<Guard>" return from with_mut: when the head was
// concurrently removed, fn is not called and WithMut returns false, on
// which callers fail-soft.
type headStore struct {
	shards [headShardCount]*headShard
}

type headShard struct {
	mu sync.Mutex
	m  map[types.HeadID]*types.HeadData
}

func newHeadStore() *headStore {
	hs := &headStore{}
	for i := range hs.shards {
		hs.shards[i] = &headShard{m: make(map[types.HeadID]*types.HeadData)}
	}
	return hs
}

func (hs *headStore) shardFor(id types.HeadID) *headShard {
	return hs.shards[uint32(id)%headShardCount]
}

// Get returns a shallow snapshot pointer to the head's current data. The
// returned pointer must not be mutated by the caller; use WithMut for
// mutation.
func (hs *headStore) Get(id types.HeadID) (*types.HeadData, bool) {
	sh := hs.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	h, ok := sh.m[id]
	return h, ok
}

// Insert installs or replaces a head wholesale.
func (hs *headStore) Insert(id types.HeadID, h *types.HeadData) {
	sh := hs.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.m[id] = h
}

// Remove takes ownership of a head by deleting it from the store and
// returning its data, or (nil, false) if it was already gone —
// "concurrently split or merged away".
func (hs *headStore) Remove(id types.HeadID) (*types.HeadData, bool) {
	sh := hs.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	h, ok := sh.m[id]
	if ok {
		delete(sh.m, id)
	}
	return h, ok
}

// WithMut runs fn with exclusive access to the head's current data if it
// is present, returning false if the head was missing. fn must not
// suspend (no blockfile I/O, no channel receive) while holding this —
// only pure in-memory mutation, matching the source's "never hold a
// guard across a suspension point" rule.
func (hs *headStore) WithMut(id types.HeadID, fn func(h *types.HeadData)) bool {
	sh := hs.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	h, ok := sh.m[id]
	if !ok {
		return false
	}
	fn(h)
	return true
}

// Len returns the number of heads currently staged (live or not yet
// reconciled-away).
func (hs *headStore) Len() int {
	n := 0
	for _, sh := range hs.shards {
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// Range calls fn for every staged head. fn must not call back into the
// store (Insert/Remove/Get) for the same shard while ranging; callers
// that need to mutate collect IDs first and act afterward.
func (hs *headStore) Range(fn func(id types.HeadID, h *types.HeadData) bool) {
	for _, sh := range hs.shards {
		sh.mu.Lock()
		for id, h := range sh.m {
			if !fn(id, h) {
				sh.mu.Unlock()
				return
			}
		}
		sh.mu.Unlock()
	}
}
