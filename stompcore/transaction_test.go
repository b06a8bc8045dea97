package stompcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRegistry_WithoutStore(t *testing.T) {
	r := NewTransactionRegistry(nil)

	require.NoError(t, r.Begin("tx1"))
	assert.ErrorIs(t, r.Begin("tx1"), errDuplicateTransaction)

	var ran []string
	require.NoError(t, r.Enqueue("tx1", func(uow UOW) { ran = append(ran, "a") }))
	require.NoError(t, r.Enqueue("tx1", func(uow UOW) { ran = append(ran, "b") }))

	completed := false
	require.NoError(t, r.Commit("tx1", func() { completed = true }))

	assert.Equal(t, []string{"a", "b"}, ran)
	assert.True(t, completed)

	assert.ErrorIs(t, r.Commit("tx1", func() {}), errUnknownTransaction)
}

func TestTransactionRegistry_Abort(t *testing.T) {
	r := NewTransactionRegistry(nil)
	require.NoError(t, r.Begin("tx1"))

	ran := false
	require.NoError(t, r.Enqueue("tx1", func(uow UOW) { ran = true }))
	require.NoError(t, r.Abort("tx1"))

	assert.False(t, ran)
	assert.ErrorIs(t, r.Abort("tx1"), errUnknownTransaction)
}

func TestTransactionRegistry_EnqueueUnknownCreatesTransaction(t *testing.T) {
	r := NewTransactionRegistry(nil)
	ran := false
	require.NoError(t, r.Enqueue("nope", func(uow UOW) { ran = true }))

	completed := false
	require.NoError(t, r.Commit("nope", func() { completed = true }))

	assert.True(t, ran)
	assert.True(t, completed)
}

type fakeUOW struct {
	callbacks []func()
	released  bool
}

func (u *fakeUOW) OnComplete(cb func()) { u.callbacks = append(u.callbacks, cb) }
func (u *fakeUOW) Release() {
	u.released = true
	for _, cb := range u.callbacks {
		cb()
	}
}

type fakeStore struct {
	uows []*fakeUOW
}

func (s *fakeStore) CreateUOW() UOW {
	u := &fakeUOW{}
	s.uows = append(s.uows, u)
	return u
}

func TestTransactionRegistry_WithStore(t *testing.T) {
	store := &fakeStore{}
	r := NewTransactionRegistry(store)

	require.NoError(t, r.Begin("tx1"))

	var sawUOW UOW
	require.NoError(t, r.Enqueue("tx1", func(uow UOW) { sawUOW = uow }))

	completed := false
	require.NoError(t, r.Commit("tx1", func() { completed = true }))

	require.Len(t, store.uows, 1)
	assert.Same(t, store.uows[0], sawUOW)
	assert.True(t, store.uows[0].released)
	assert.True(t, completed)
}
