// Package cache implements a bounded LRU block cache: reads fault in
// through a Fetcher on miss; writes are either synchronous
// (write-through) or marked dirty for async flush.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/dirkpetersen/claudefs/internal/storage/block"
)

// Fetcher retrieves a block's decoded payload from the layer beneath the
// cache (the I/O engine, in production).
type Fetcher interface {
	ReadBlock(ctx context.Context, ref block.BlockRef) ([]byte, error)
}

// Flusher persists a dirty block; invoked synchronously under write-through,
// or asynchronously by a background flusher otherwise.
type Flusher interface {
	WriteBlock(ctx context.Context, ref block.BlockRef, data []byte) error
}

type entry struct {
	ref   block.BlockRef
	data  []byte
	dirty bool
}

// Cache is a bounded LRU of BlockRef -> decoded payload.
type Cache struct {
	mu           sync.Mutex
	capacity     int
	writeThrough bool
	fetcher      Fetcher
	flusher      Flusher

	ll    *list.List
	items map[block.BlockRef]*list.Element

	hits, misses uint64
}

// New constructs a Cache with room for capacity entries.
func New(capacity int, writeThrough bool, fetcher Fetcher, flusher Flusher) *Cache {
	return &Cache{
		capacity:     capacity,
		writeThrough: writeThrough,
		fetcher:      fetcher,
		flusher:      flusher,
		ll:           list.New(),
		items:        make(map[block.BlockRef]*list.Element),
	}
}

// Read returns ref's payload, faulting in through the Fetcher on miss and
// inserting the result.
func (c *Cache) Read(ctx context.Context, ref block.BlockRef) ([]byte, error) {
	c.mu.Lock()
	if el, ok := c.items[ref]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		data := el.Value.(*entry).data
		c.mu.Unlock()
		return data, nil
	}
	c.misses++
	c.mu.Unlock()

	data, err := c.fetcher.ReadBlock(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.insert(ref, data, false)
	return data, nil
}

// Write updates the cache for ref. Under write-through it persists
// synchronously via the Flusher before returning; otherwise it marks the
// entry dirty for an async flusher to pick up later via Dirty().
func (c *Cache) Write(ctx context.Context, ref block.BlockRef, data []byte) error {
	if c.writeThrough {
		if err := c.flusher.WriteBlock(ctx, ref, data); err != nil {
			return err
		}
		c.insert(ref, data, false)
		return nil
	}
	c.insert(ref, data, true)
	return nil
}

func (c *Cache) insert(ref block.BlockRef, data []byte, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[ref]; ok {
		e := el.Value.(*entry)
		e.data = data
		e.dirty = e.dirty || dirty
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&entry{ref: ref, data: data, dirty: dirty})
	c.items[ref] = el
	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	c.ll.Remove(back)
	delete(c.items, back.Value.(*entry).ref)
}

// Dirty returns all currently dirty entries, for an async flusher.
func (c *Cache) Dirty() []block.BlockRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []block.BlockRef
	for e := c.ll.Front(); e != nil; e = e.Next() {
		if e.Value.(*entry).dirty {
			out = append(out, e.Value.(*entry).ref)
		}
	}
	return out
}

// MarkClean clears the dirty flag for ref, after a successful async flush.
func (c *Cache) MarkClean(ref block.BlockRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[ref]; ok {
		el.Value.(*entry).dirty = false
	}
}

// Stats reports cumulative hit/miss counters.
type Stats struct {
	Hits, Misses uint64
}

// HitRate returns hits/(hits+misses), or 0 if no accesses yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the cache's current hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}
