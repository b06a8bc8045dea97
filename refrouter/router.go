// Package refrouter is a small in-memory implementation of
// stompcore.Router, used by the integration tests and by any standalone
// broker that doesn't need a persistent, clustered routing layer. It is not
// grounded on a single teacher file (the teacher never had a real router:
// stompserver was tested end-to-end against a MockService), so its
// fan-out/round-robin shape follows the collaborator contract in
// stompcore/router.go directly.
package refrouter

import (
	"sync"

	"github.com/brokermq/stomp-core/stompcore"
)

type queueKey struct {
	kind           stompcore.BindingKind
	destination    string
	subscriptionID string
}

// keyFor gives BindingQueue destinations a shared identity across
// subscribers (competing consumers), while BindingDurable destinations get
// one queue per subscription id (a durable subscription is a named,
// per-subscriber entity).
func keyFor(b stompcore.BindingSpec) queueKey {
	if b.Kind == stompcore.BindingQueue {
		return queueKey{kind: b.Kind, destination: b.Destination}
	}
	return queueKey{kind: b.Kind, destination: b.Destination, subscriptionID: b.SubscriptionID}
}

// Router is an in-memory, single-process Router. It never reports a route
// as full. When a bound Consumer's Offer returns false, the route's Offer
// returns false as well and the delivery is not retried; ConnectionHandler
// treats that as an internal error on the publishing connection.
type Router struct {
	mu      sync.Mutex
	directs map[string][]stompcore.Consumer
	queues  map[queueKey]*memQueue
}

func New() *Router {
	return &Router{
		directs: make(map[string][]stompcore.Consumer),
		queues:  make(map[queueKey]*memQueue),
	}
}

func (r *Router) Connect(destination string, producer stompcore.Producer, onReady func(route stompcore.Route, err error)) {
	onReady(&route{router: r, destination: destination}, nil)
}

func (r *Router) Disconnect(route stompcore.Route) {}

func (r *Router) Bind(destination string, consumer stompcore.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directs[destination] = append(r.directs[destination], consumer)
}

func (r *Router) Unbind(destination string, consumer stompcore.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.directs[destination]
	for i, c := range list {
		if c == consumer {
			r.directs[destination] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (r *Router) CreateQueue(binding stompcore.BindingSpec) (stompcore.Queue, bool) {
	key := keyFor(binding)
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, exists := r.queues[key]; exists {
		return q, true
	}
	q := &memQueue{destination: binding.Destination}
	r.queues[key] = q
	return q, true
}

func (r *Router) DestroyQueue(binding stompcore.BindingSpec) bool {
	key := keyFor(binding)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queues[key]; !exists {
		return false
	}
	delete(r.queues, key)
	return true
}

func (r *Router) GetQueue(binding stompcore.BindingSpec) (stompcore.Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[keyFor(binding)]
	return q, ok
}

func (r *Router) hasTargets(destination string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.directs[destination]) > 0 {
		return true
	}
	for _, q := range r.queues {
		if q.destination == destination && q.count() > 0 {
			return true
		}
	}
	return false
}

func (r *Router) deliver(destination string, d stompcore.Delivery) bool {
	r.mu.Lock()
	directs := append([]stompcore.Consumer(nil), r.directs[destination]...)
	var queues []*memQueue
	for _, q := range r.queues {
		if q.destination == destination {
			queues = append(queues, q)
		}
	}
	r.mu.Unlock()

	accepted := true
	for _, c := range directs {
		if !c.Offer(d) {
			accepted = false
		}
	}
	for _, q := range queues {
		if !q.offer(d) {
			accepted = false
		}
	}
	return accepted
}

// route is the stompcore.Route handed back from Connect. This reference
// router never backpressures a producer, so Full always reports false and
// OnRefill's callback is simply never invoked.
type route struct {
	router      *Router
	destination string
}

func (rt *route) Offer(d stompcore.Delivery) bool { return rt.router.deliver(rt.destination, d) }
func (rt *route) Full() bool                      { return false }
func (rt *route) HasTargets() bool                { return rt.router.hasTargets(rt.destination) }
func (rt *route) OnRefill(cb func())              {}

// memQueue fans a destination's deliveries out to one of its bound
// consumers at a time, round-robin, the competing-consumers pattern for
// point-to-point and durable-topic destinations.
type memQueue struct {
	destination string

	mu        sync.Mutex
	consumers []stompcore.Consumer
	next      int
}

func (q *memQueue) Bind(consumers []stompcore.Consumer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers = append(q.consumers, consumers...)
}

func (q *memQueue) Unbind(consumers []stompcore.Consumer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, target := range consumers {
		for i, c := range q.consumers {
			if c == target {
				q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
				break
			}
		}
	}
	if q.next >= len(q.consumers) {
		q.next = 0
	}
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.consumers)
}

func (q *memQueue) offer(d stompcore.Delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.consumers)
	if n == 0 {
		return true
	}
	for i := 0; i < n; i++ {
		idx := (q.next + i) % n
		if q.consumers[idx].Offer(d) {
			q.next = (idx + 1) % n
			return true
		}
	}
	return false
}
