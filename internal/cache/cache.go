package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"jardav/internal/archive"
	"jardav/internal/source"
)

// Entry is a parsed archive along with the stat of the bytes it came from.
type Entry struct {
	Archive  *archive.Archive
	Info     source.Info
	LoadedAt time.Time
}

// LoadFunc reads and parses the archive at a location.
type LoadFunc func(ctx context.Context) (*Entry, error)

// Stats counts cache traffic.
type Stats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// ArchiveCache keeps parsed archives keyed by location, bounded by size and
// expiring after ttl. Concurrent misses for the same location share a single
// load.
type ArchiveCache struct {
	lru   *expirable.LRU[string, *Entry]
	group singleflight.Group

	// gens counts invalidations per location and epoch counts clears. A load
	// only stores its result if neither moved while it ran.
	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
}

// New creates a cache holding at most maxSize archives for ttl each.
func New(ttl time.Duration, maxSize int) *ArchiveCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ArchiveCache{
		lru:  expirable.NewLRU[string, *Entry](maxSize, nil, ttl),
		gens: make(map[string]uint64),
	}
}

// Get returns the cached archive for location, calling load on a miss.
// Failed loads are not cached. The shared load runs detached from any one
// caller's cancellation; a caller whose ctx ends stops waiting and gets
// ctx.Err().
func (c *ArchiveCache) Get(ctx context.Context, location string, load LoadFunc) (*Entry, error) {
	if e, ok := c.lru.Get(location); ok {
		c.hits.Add(1)
		return e, nil
	}
	c.misses.Add(1)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(location, func() (any, error) {
		if e, ok := c.lru.Get(location); ok {
			return e, nil
		}
		gen := c.generation(location)
		c.loads.Add(1)
		e, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if e.LoadedAt.IsZero() {
			e.LoadedAt = time.Now()
		}
		c.store(location, gen, e)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	}
}

type stamp struct {
	epoch, gen uint64
}

func (c *ArchiveCache) generation(location string) stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stamp{epoch: c.epoch, gen: c.gens[location]}
}

// store adds e unless location was invalidated or the cache cleared after
// the stamp was taken.
func (c *ArchiveCache) store(location string, at stamp, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != at.epoch || c.gens[location] != at.gen {
		return
	}
	c.lru.Add(location, e)
}

// Peek returns the cached archive without loading or touching recency.
func (c *ArchiveCache) Peek(location string) (*Entry, bool) {
	return c.lru.Peek(location)
}

// Invalidate drops the archive cached for location.
func (c *ArchiveCache) Invalidate(location string) {
	c.mu.Lock()
	c.gens[location]++
	c.lru.Remove(location)
	c.mu.Unlock()
	c.group.Forget(location)
}

// Size returns the number of cached archives.
func (c *ArchiveCache) Size() int {
	return c.lru.Len()
}

// Clear removes every cached archive. Loads in flight are not stored.
func (c *ArchiveCache) Clear() {
	c.mu.Lock()
	c.epoch++
	c.lru.Purge()
	c.mu.Unlock()
}

// Stats returns a snapshot of the hit/miss counters.
func (c *ArchiveCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Loads: c.loads.Load()}
}

// Close releases the cached archives.
func (c *ArchiveCache) Close() {
	c.lru.Purge()
}
