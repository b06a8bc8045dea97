// Package refstore is a buntdb-backed stompcore.Store: the reference
// durability collaborator a COMMIT's unit of work flushes against before
// its enqueued SEND/ACK actions are considered complete.
package refstore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/brokermq/stomp-core/stompcore"
)

// Store wraps a buntdb database. Passing ":memory:" keeps everything
// in-process, the mode the integration tests run with.
type Store struct {
	db  *buntdb.DB
	seq uint64
}

func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUOW allocates a new unit of work. Its Release commits a durability
// marker for the batch and then runs every callback registered via
// OnComplete, in registration order.
func (s *Store) CreateUOW() stompcore.UOW {
	return &unitOfWork{store: s, id: atomic.AddUint64(&s.seq, 1)}
}

type unitOfWork struct {
	store *Store
	id    uint64

	mu        sync.Mutex
	callbacks []func()
}

func (u *unitOfWork) OnComplete(cb func()) {
	u.mu.Lock()
	u.callbacks = append(u.callbacks, cb)
	u.mu.Unlock()
}

func (u *unitOfWork) Release() {
	_ = u.store.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(fmt.Sprintf("uow:%d", u.id), time.Now().UTC().Format(time.RFC3339Nano), nil)
		return err
	})

	u.mu.Lock()
	callbacks := u.callbacks
	u.callbacks = nil
	u.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
