// Package segcache memoizes segmentation results per image.
//
// Each image has its own bounded LRU. Concurrent requests for the same key
// share one computation. Every shape edit starts a new generation for the
// image: computations from older generations are cancelled and their
// results are never stored.
package segcache

import (
	"container/list"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/starford/segmark/internal/checksum"
	"github.com/starford/segmark/internal/models"
)

// DefaultCapacity is the number of results kept per image.
const DefaultCapacity = 16

// ErrSuperseded is returned for a computation whose image was edited while
// it ran.
var ErrSuperseded = errors.New("segcache: superseded by a newer edit")

// Key identifies a segmentation input. Shape timestamps do not affect it.
func Key(imageID, imageChecksum string, shapes []models.Shape) string {
	return checksum.SumParts([]byte(imageID), []byte(imageChecksum), models.Canonical(shapes))
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Discarded uint64 `json:"discarded"`
	Entries   int    `json:"entries"`
}

type entry[V any] struct {
	key   string
	value V
}

type imageCache[V any] struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	lru    *list.List
	items  map[string]*list.Element
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	capacity int

	mu     sync.Mutex
	epoch  uint64
	images map[string]*imageCache[V]
	group  singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	discarded atomic.Uint64
}

// New creates a cache holding up to capacity results per image.
// capacity <= 0 uses DefaultCapacity.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{capacity: capacity, images: make(map[string]*imageCache[V])}
}

// image returns the per-image state, creating it. Caller holds mu.
func (c *Cache[V]) image(imageID string) *imageCache[V] {
	ic, ok := c.images[imageID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		c.epoch++
		ic = &imageCache[V]{gen: c.epoch, ctx: ctx, cancel: cancel, lru: list.New(), items: make(map[string]*list.Element)}
		c.images[imageID] = ic
	}
	return ic
}

// Get returns the cached value and marks it most recently used.
func (c *Cache[V]) Get(imageID, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ic, ok := c.images[imageID]; ok {
		if el, ok := ic.items[key]; ok {
			ic.lru.MoveToFront(el)
			c.hits.Add(1)
			return el.Value.(*entry[V]).value, true
		}
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Peek returns the cached value without touching recency or counters.
func (c *Cache[V]) Peek(imageID, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ic, ok := c.images[imageID]; ok {
		if el, ok := ic.items[key]; ok {
			return el.Value.(*entry[V]).value, true
		}
	}
	var zero V
	return zero, false
}

// GetOrCompute returns the cached value for key or computes it with fn.
// Concurrent callers with the same key share one call of fn. fn receives a
// context that is cancelled when the image is superseded; a result that
// finishes after that is returned to nobody and not stored.
func (c *Cache[V]) GetOrCompute(ctx context.Context, imageID, key string, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(imageID, key); ok {
		return v, nil
	}

	c.mu.Lock()
	ic := c.image(imageID)
	gen, genCtx := ic.gen, ic.ctx
	c.mu.Unlock()

	flightKey := imageID + "\x00" + strconv.FormatUint(gen, 10) + "\x00" + key
	ch := c.group.DoChan(flightKey, func() (any, error) {
		v, err := fn(genCtx)
		if genCtx.Err() != nil {
			c.discarded.Add(1)
			return nil, ErrSuperseded
		}
		if err != nil {
			return nil, err
		}
		if !c.store(imageID, gen, key, v) {
			c.discarded.Add(1)
			return nil, ErrSuperseded
		}
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// store inserts v if gen is still the image's generation.
func (c *Cache[V]) store(imageID string, gen uint64, key string, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ic, ok := c.images[imageID]
	if !ok || ic.gen != gen {
		return false
	}
	if el, ok := ic.items[key]; ok {
		el.Value.(*entry[V]).value = v
		ic.lru.MoveToFront(el)
		return true
	}
	ic.items[key] = ic.lru.PushFront(&entry[V]{key: key, value: v})
	for ic.lru.Len() > c.capacity {
		oldest := ic.lru.Back()
		ic.lru.Remove(oldest)
		delete(ic.items, oldest.Value.(*entry[V]).key)
		c.evictions.Add(1)
	}
	return true
}

// Supersede starts a new generation for imageID and cancels computations
// of the previous one. Cached results stay available. Generations are
// unique across images and purges.
func (c *Cache[V]) Supersede(imageID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ic := c.image(imageID)
	ic.cancel()
	c.epoch++
	ic.gen = c.epoch
	ic.ctx, ic.cancel = context.WithCancel(context.Background())
	return ic.gen
}

// Generation returns the current generation of imageID.
func (c *Cache[V]) Generation(imageID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ic, ok := c.images[imageID]; ok {
		return ic.gen
	}
	return 0
}

// Keys lists the cached keys of imageID, most recently used first.
func (c *Cache[V]) Keys(imageID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ic, ok := c.images[imageID]
	if !ok {
		return nil
	}
	out := make([]string, 0, ic.lru.Len())
	for el := ic.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[V]).key)
	}
	return out
}

// Purge drops everything cached for imageID and cancels its computations.
func (c *Cache[V]) Purge(imageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ic, ok := c.images[imageID]; ok {
		ic.cancel()
		delete(c.images, imageID)
	}
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	n := 0
	for _, ic := range c.images {
		n += ic.lru.Len()
	}
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Discarded: c.discarded.Load(),
		Entries:   n,
	}
}
