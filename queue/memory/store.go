// Package memory provides a process-local queue.Store. Nothing survives a restart,
// so it suits tests and clients that accept losing deferred requests on exit.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/gaborage/alioli/queue"
)

// Store is a mutex-guarded map with a monotonic id counter.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*queue.PendingRequest
}

var _ queue.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{items: make(map[int64]*queue.PendingRequest)}
}

func (s *Store) Insert(_ context.Context, req *queue.PendingRequest) (int64, error) {
	if err := queue.Validate(req); err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, "memory", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := req.Clone()
	stored.ID = s.nextID
	s.items[stored.ID] = stored
	return stored.ID, nil
}

func (s *Store) List(_ context.Context) ([]*queue.PendingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*queue.PendingRequest, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b *queue.PendingRequest) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}
