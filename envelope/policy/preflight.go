package policy

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/bottletopbil/agent-network-sub002/envelope"
	"lukechampine.com/blake3"
)

// PreflightCache is a bounded LRU keyed by (sender, kind, thread, payload
// hash). No LRU library appears anywhere in the retrieval pack, so this is
// a small hand-rolled doubly-linked-list + map, in the style of the
// teacher's own hand-rolled sliding-window structures (native/potso/penalty).
type PreflightCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key      string
	decision Decision
}

// NewPreflightCache constructs a cache holding at most capacity entries.
func NewPreflightCache(capacity int) *PreflightCache {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &PreflightCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func cacheKey(e *envelope.Envelope) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%s|%s|%s|%s", e.SenderPKB64, e.Kind, e.ThreadID, e.PayloadHash)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (c *PreflightCache) get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Decision{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).decision, true
}

func (c *PreflightCache) put(key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).decision = d
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, decision: d})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Preflight runs the cheap pre-publish validation: on a
// cache hit it returns the prior decision without re-evaluating rules.
func (g *Gate) Preflight(ctx context.Context, cache *PreflightCache, e *envelope.Envelope) Decision {
	key := cacheKey(e)
	if cached, ok := cache.get(key); ok {
		return cached
	}
	decision := g.Ingress(ctx, e)
	cache.put(key, decision)
	return decision
}
