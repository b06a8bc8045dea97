package stompcore

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// SimpleHost is a reference Host: one router, an optional authenticator,
// an optional store, an optional buffer pool, and a monotonic session
// counter for building session ids (§3).
type SimpleHost struct {
	id            string
	router        Router
	authenticator Authenticator
	store         Store
	pool          BufferPool
	counter       uint64
}

// NewSimpleHost builds a host. An empty id generates a random one via
// uuid, the way the teacher's connections mint their own ids.
func NewSimpleHost(id string, router Router, authenticator Authenticator, store Store) *SimpleHost {
	if id == "" {
		id = uuid.NewString()
	}
	return &SimpleHost{id: id, router: router, authenticator: authenticator, store: store}
}

func (h *SimpleHost) ID() string { return h.id }

func (h *SimpleHost) NextSessionCounter() uint64 {
	return atomic.AddUint64(&h.counter, 1)
}

func (h *SimpleHost) Router() Router               { return h.router }
func (h *SimpleHost) Authenticator() Authenticator { return h.authenticator }
func (h *SimpleHost) Store() Store                 { return h.store }
func (h *SimpleHost) DirectBufferPool() BufferPool { return h.pool }

// SetDirectBufferPool attaches a pool after construction, since not every
// host needs one wired up front.
func (h *SimpleHost) SetDirectBufferPool(pool BufferPool) { h.pool = pool }

// StaticRegistry is a fixed name -> Host map, resolved once at startup.
type StaticRegistry struct {
	hosts       map[string]Host
	defaultHost Host
}

// NewStaticRegistry builds a registry. defaultHost may be nil if CONNECT
// frames are always expected to carry a `host` header.
func NewStaticRegistry(defaultHost Host, hosts map[string]Host) *StaticRegistry {
	return &StaticRegistry{hosts: hosts, defaultHost: defaultHost}
}

func (r *StaticRegistry) Lookup(name string) (Host, bool) {
	h, ok := r.hosts[name]
	return h, ok
}

func (r *StaticRegistry) DefaultHost() (Host, bool) {
	if r.defaultHost == nil {
		return nil, false
	}
	return r.defaultHost, true
}
