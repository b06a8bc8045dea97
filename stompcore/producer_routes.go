package stompcore

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ProducerRoutes is C6: a bounded LRU cache of destination -> Route for one
// connection's outgoing SENDs. Capacity defaults to 10 (§6). Eviction
// always disconnects the evicted route from the router first, so it never
// leaks a subscription there (design notes).
type ProducerRoutes struct {
	router   Router
	producer Producer
	cache    *lru.Cache[string, Route]
}

// NewProducerRoutes builds the cache for one connection's producer
// identity. capacity <= 0 falls back to the spec default of 10.
func NewProducerRoutes(router Router, producer Producer, capacity int) *ProducerRoutes {
	if capacity <= 0 {
		capacity = 10
	}
	cache, _ := lru.NewWithEvict[string, Route](capacity, func(_ string, route Route) {
		router.Disconnect(route)
	})
	return &ProducerRoutes{router: router, producer: producer, cache: cache}
}

// Get returns the cached route for destination, if any, and bumps its
// recency.
func (p *ProducerRoutes) Get(destination string) (Route, bool) {
	return p.cache.Get(destination)
}

// Connect asks the router for a route to destination and caches it once
// established. The caller (ConnectionHandler) is responsible for
// suspending reads while the callback is pending (§4.6): route creation is
// asynchronous and no further SENDs should be processed until it
// completes.
func (p *ProducerRoutes) Connect(destination string, onReady func(route Route, err error)) {
	p.router.Connect(destination, p.producer, func(route Route, err error) {
		if err == nil {
			p.cache.Add(destination, route)
		}
		onReady(route, err)
	})
}

// Len reports the number of cached routes, for tests asserting the
// capacity invariant.
func (p *ProducerRoutes) Len() int {
	return p.cache.Len()
}

// Purge disconnects and forgets every cached route, used on connection
// teardown. The cache's own eviction callback disconnects each entry from
// the router as it is removed.
func (p *ProducerRoutes) Purge() {
	p.cache.Purge()
}
