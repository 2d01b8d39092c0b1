package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/armon/go-radix"
)

// Verify interface is satisfied
var _ Store = (*InmemStore)(nil)

// ErrPutFailed is returned by the inmem store when put failures are
// injected for testing.
var ErrPutFailed = errors.New("put operation failed in inmem store")

// InmemStore is an in-memory only Store backed by a radix tree. It is
// useful for testing and development situations where the data is not
// expected to be durable. Records are deep-copied on the way in and
// out, so callers never share memory with the store.
type InmemStore struct {
	sync.RWMutex
	root    *radix.Tree
	failPut *uint32
	closed  bool
}

// NewInmemStore constructs an empty in-memory store
func NewInmemStore() *InmemStore {
	return &InmemStore{
		root:    radix.New(),
		failPut: new(uint32),
	}
}

func (s *InmemStore) Init(ctx context.Context) error {
	return nil
}

func (s *InmemStore) Stop() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	s.root = radix.New()
	return nil
}

func (s *InmemStore) Get(ctx context.Context, walletID string) (*Record, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	raw, ok := s.root.Get(walletID)
	if !ok {
		return nil, ErrWalletNotFound
	}

	return raw.(*Record).Clone(), nil
}

func (s *InmemStore) Put(ctx context.Context, record *Record) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if atomic.LoadUint32(s.failPut) != 0 {
		return ErrPutFailed
	}

	var current uint64
	if raw, ok := s.root.Get(record.WalletID); ok {
		current = raw.(*Record).Version
	}
	if record.Version != current {
		return ErrVersionConflict
	}

	record.Version++
	s.root.Insert(record.WalletID, record.Clone())
	return nil
}

func (s *InmemStore) List(ctx context.Context) ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var ids []string
	s.root.Walk(func(key string, _ interface{}) bool {
		ids = append(ids, key)
		return false
	})
	return ids, nil
}

// FailPut toggles injected put failures, for exercising persistence
// error paths in tests
func (s *InmemStore) FailPut(fail bool) {
	var val uint32
	if fail {
		val = 1
	}
	atomic.StoreUint32(s.failPut, val)
}
