package trust

import (
	"sync"

	"github.com/wot-technology/wellspring/crypto"
)

// Cache is an invalidate-on-write memo around the pure trust function.
// Correctness never depends on it: Invalidate drops every memoized score,
// and a missed invalidation only widens the documented race window in
// which a concurrently-added endorsement may not yet be reflected.
type Cache struct {
	engine *Engine
	graph  Graph

	mtx  sync.Mutex
	memo map[cacheKey]float64
}

type cacheKey struct {
	observer crypto.Digest
	target   crypto.Digest
	maxHops  int
}

// NewCache wraps engine and graph with memoization.
func NewCache(engine *Engine, graph Graph) *Cache {
	return &Cache{
		engine: engine,
		graph:  graph,
		memo:   make(map[cacheKey]float64),
	}
}

// Trust returns the memoized score, computing it on miss.
func (c *Cache) Trust(observer, target crypto.Digest, maxHops int) (float64, error) {
	key := cacheKey{observer: observer, target: target, maxHops: maxHops}

	c.mtx.Lock()
	score, ok := c.memo[key]
	c.mtx.Unlock()
	if ok {
		return score, nil
	}

	score, err := c.engine.Trust(c.graph, observer, target, maxHops)
	if err != nil {
		return 0, err
	}

	c.mtx.Lock()
	c.memo[key] = score
	c.mtx.Unlock()
	return score, nil
}

// Invalidate drops all memoized scores. Wire it to the store's insert
// hook: any new endorsement may change any transitive score.
func (c *Cache) Invalidate() {
	c.mtx.Lock()
	c.memo = make(map[cacheKey]float64)
	c.mtx.Unlock()
}
