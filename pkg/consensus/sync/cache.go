package sync

import "github.com/cleancoindev2/csnode/pkg/core/block"

// recentCache is a bounded ring of the most recently applied blocks,
// kept so BlockRequests from other lagging peers for sequences just
// behind our own tip can be answered without a full store read.
// Grounded on _examples/original_source/csnode/src/poolcache.cpp's
// PoolCache, reimplemented in memory rather than LMDB-backed since the
// persistent store's on-disk format is out of scope (spec.md §9).
type recentCache struct {
	capacity int
	order    []uint64
	blocks   map[uint64]block.Block
}

func newRecentCache(capacity int) *recentCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentCache{
		capacity: capacity,
		blocks:   make(map[uint64]block.Block, capacity),
	}
}

// insert adds b, evicting the oldest entry once capacity is exceeded
// (the original's PoolStoreType bookkeeping, minus the Synced/Created
// distinction: every block this node appends while catching up or
// following consensus is equally eligible to serve other lagging peers).
func (c *recentCache) insert(b block.Block) {
	if _, exists := c.blocks[b.Sequence]; exists {
		return
	}
	c.blocks[b.Sequence] = b
	c.order = append(c.order, b.Sequence)
	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.blocks, oldest)
	}
}

func (c *recentCache) get(sequence uint64) (block.Block, bool) {
	b, ok := c.blocks[sequence]
	return b, ok
}

func (c *recentCache) size() int {
	return len(c.order)
}
