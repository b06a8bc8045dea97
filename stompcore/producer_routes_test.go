package stompcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoute struct {
	destination  string
	disconnected bool
}

func (r *fakeRoute) Offer(d Delivery) bool { return true }
func (r *fakeRoute) Full() bool            { return false }
func (r *fakeRoute) HasTargets() bool      { return true }
func (r *fakeRoute) OnRefill(cb func())    {}

type fakeRouter struct {
	disconnectedDestinations []string
	failConnect              bool
}

func (r *fakeRouter) Connect(destination string, producer Producer, onReady func(route Route, err error)) {
	if r.failConnect {
		onReady(nil, errors.New("no such destination"))
		return
	}
	onReady(&fakeRoute{destination: destination}, nil)
}

func (r *fakeRouter) Disconnect(route Route) {
	fr := route.(*fakeRoute)
	fr.disconnected = true
	r.disconnectedDestinations = append(r.disconnectedDestinations, fr.destination)
}

func (r *fakeRouter) Bind(destination string, consumer Consumer)   {}
func (r *fakeRouter) Unbind(destination string, consumer Consumer) {}
func (r *fakeRouter) CreateQueue(binding BindingSpec) (Queue, bool) { return nil, false }
func (r *fakeRouter) DestroyQueue(binding BindingSpec) bool         { return false }
func (r *fakeRouter) GetQueue(binding BindingSpec) (Queue, bool)    { return nil, false }

func TestProducerRoutes_CachesAndEvicts(t *testing.T) {
	router := &fakeRouter{}
	routes := NewProducerRoutes(router, "producer-1", 2)

	var got Route
	routes.Connect("/queue/a", func(route Route, err error) {
		require.NoError(t, err)
		got = route
	})
	require.NotNil(t, got)
	assert.Equal(t, 1, routes.Len())

	cached, ok := routes.Get("/queue/a")
	require.True(t, ok)
	assert.Same(t, got, cached)

	routes.Connect("/queue/b", func(route Route, err error) {})
	assert.Equal(t, 2, routes.Len())

	// third distinct destination evicts the least-recently-used entry.
	routes.Connect("/queue/c", func(route Route, err error) {})
	assert.Equal(t, 2, routes.Len())
	assert.Equal(t, []string{"/queue/a"}, router.disconnectedDestinations)

	_, stillCached := routes.Get("/queue/a")
	assert.False(t, stillCached)
}

func TestProducerRoutes_ConnectFailureDoesNotCache(t *testing.T) {
	router := &fakeRouter{failConnect: true}
	routes := NewProducerRoutes(router, "producer-1", 10)

	var callErr error
	routes.Connect("/queue/a", func(route Route, err error) { callErr = err })

	assert.Error(t, callErr)
	assert.Equal(t, 0, routes.Len())
}

func TestProducerRoutes_PurgeDisconnectsEachOnce(t *testing.T) {
	router := &fakeRouter{}
	routes := NewProducerRoutes(router, "producer-1", 10)

	routes.Connect("/queue/a", func(route Route, err error) {})
	routes.Connect("/queue/b", func(route Route, err error) {})

	routes.Purge()

	assert.Equal(t, 0, routes.Len())
	assert.Len(t, router.disconnectedDestinations, 2)
}

func TestNewProducerRoutes_DefaultsCapacity(t *testing.T) {
	routes := NewProducerRoutes(&fakeRouter{}, "p", 0)
	for i := 0; i < 12; i++ {
		dest := string(rune('a' + i))
		routes.Connect(dest, func(route Route, err error) {})
	}
	assert.Equal(t, 10, routes.Len())
}
