package stompcore

// This file names the external collaborators spec §6 leaves out of scope:
// the broker router, its queues, the virtual-host registry, and the
// authenticator. ConnectionHandler is written entirely against these
// interfaces; refrouter and refauth provide reference implementations
// used only by the integration tests.

// Producer is an opaque handle a connection registers with the router when
// it connects a route; the router hands it back on Disconnect.
type Producer interface{}

// Consumer is what a router delivers to. ConsumerSession implements it.
type Consumer interface {
	Offer(d Delivery) bool
}

// Route is a router-side fan-out target a producer sends into (§ glossary).
type Route interface {
	Offer(d Delivery) bool
	// Full reports whether the route is currently at capacity: the
	// connection must suspend further SENDs to this destination until the
	// route calls back via OnRefill.
	Full() bool
	// HasTargets reports whether any consumer is currently bound to this
	// route. A route with no targets silently drops offered deliveries.
	HasTargets() bool
	// OnRefill registers a one-shot callback invoked the next time the
	// route transitions from full back to accepting offers.
	OnRefill(cb func())
}

// BindingKind distinguishes the three subscribe outcomes in §4.7.
type BindingKind int

const (
	// BindingDirect is a plain topic subscription: router.Bind, no queue.
	BindingDirect BindingKind = iota
	// BindingDurable is a persistent topic subscription backed by a queue
	// that survives UNSUBSCRIBE unless persistent:true asks to destroy it.
	BindingDurable
	// BindingQueue is a point-to-point subscription, always queue-backed.
	BindingQueue
)

// BindingSpec is the persistent description of how a queue is attached to
// a destination (glossary: Binding).
type BindingSpec struct {
	Kind           BindingKind
	Destination    string
	SubscriptionID string
	SelectorRaw    string
}

// Queue is a router-managed point-to-point or durable-topic queue.
type Queue interface {
	Bind(consumers []Consumer)
	Unbind(consumers []Consumer)
}

// Router mediates all publication and subscription (§1). It is the single
// broker-side collaborator ConnectionHandler talks to for message flow.
type Router interface {
	Connect(destination string, producer Producer, onReady func(route Route, err error))
	Disconnect(route Route)
	Bind(destination string, consumer Consumer)
	Unbind(destination string, consumer Consumer)
	CreateQueue(binding BindingSpec) (Queue, bool)
	DestroyQueue(binding BindingSpec) bool
	GetQueue(binding BindingSpec) (Queue, bool)
}

// SecurityContext is the credential pair carried from CONNECT (§3).
type SecurityContext struct {
	User     string
	Password string
}

// Authenticator is the host's pluggable credential check (§6). It is
// asynchronous like Router.Connect: done is invoked from any goroutine, and
// ConnectionHandler resumes reads only once it fires (§5).
type Authenticator interface {
	Authenticate(ctx SecurityContext, done func(ok bool))
}

// Host is one virtual host (§3, §6): a router, an optional store, an
// optional authenticator, an optional buffer pool, and a session counter
// used to build session ids.
type Host interface {
	ID() string
	NextSessionCounter() uint64
	Router() Router
	Authenticator() Authenticator // nil if none attached
	Store() Store                 // nil if none attached
	DirectBufferPool() BufferPool // nil if none attached
}

// VirtualHostRegistry resolves the CONNECT frame's `host` header to a Host,
// falling back to a configured default when the header is absent.
type VirtualHostRegistry interface {
	Lookup(name string) (Host, bool)
	DefaultHost() (Host, bool)
}
