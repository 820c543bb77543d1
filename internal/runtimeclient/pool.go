package runtimeclient

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Pool is the process-wide LRU+TTL cache of Clients keyed by endpoint URL
// (spec §4.3), replacing original_source's hand-rolled AdapterPool
// (OrderedDict + monotonic TTL) with the idiomatic Go equivalent.
// Construction happens outside the pool's own mutex; the mutex guards only
// the map, per spec.md's "each construction is outside the pool mutex".
type Pool struct {
	mu      sync.Mutex
	cache   *lru.LRU[string, Client]
	factory Factory
}

// NewPool builds a pool with the given size cap and per-entry TTL.
func NewPool(maxSize int, ttl time.Duration, factory Factory) *Pool {
	onEvict := func(_ string, c Client) {
		_ = c.Close()
	}
	return &Pool{
		cache:   lru.NewLRU[string, Client](maxSize, onEvict, ttl),
		factory: factory,
	}
}

// GetOrCreate returns the cached client for endpoint, constructing and
// caching a new one on a miss or expiry.
func (p *Pool) GetOrCreate(endpoint string) Client {
	p.mu.Lock()
	if c, ok := p.cache.Get(endpoint); ok {
		p.mu.Unlock()
		return c
	}
	p.mu.Unlock()

	c := p.factory(endpoint)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache.Get(endpoint); ok {
		_ = c.Close()
		return existing
	}
	p.cache.Add(endpoint, c)
	return c
}

// Len reports the current entry count, including not-yet-expired ones.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Purge clears the pool, closing every cached client.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
