package spann

import (
	"sync"

	"github.com/chroma-core/spannsegment/pkg/types"
)

const embeddingShardCount = 64

// embeddingCache is the writer's shared store of point embeddings,
// referenced by many posting lists at once. Embedding values are
// immutable once inserted, so reads never copy; only Set/Delete take
// the shard lock for writing.
type embeddingCache struct {
	shards [embeddingShardCount]*embeddingShard
}

type embeddingShard struct {
	mu sync.RWMutex
	m  map[types.PointID]types.Embedding
}

func newEmbeddingCache() *embeddingCache {
	c := &embeddingCache{}
	for i := range c.shards {
		c.shards[i] = &embeddingShard{m: make(map[types.PointID]types.Embedding)}
	}
	return c
}

func (c *embeddingCache) shardFor(id types.PointID) *embeddingShard {
	return c.shards[uint32(id)%embeddingShardCount]
}

func (c *embeddingCache) Get(id types.PointID) (types.Embedding, bool) {
	sh := c.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.m[id]
	return v, ok
}

func (c *embeddingCache) Set(id types.PointID, v types.Embedding) {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.m[id] = v
}

func (c *embeddingCache) Delete(id types.PointID) {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.m, id)
}
