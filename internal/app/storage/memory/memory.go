// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
	"github.com/quarterdeck-network/crew_layer/internal/app/storage"
)

// Store keeps pending orders in a mutex-guarded map.
type Store struct {
	mu     sync.RWMutex
	orders map[string]roster.Order
}

var _ storage.RosterStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{orders: make(map[string]roster.Order)}
}

func (s *Store) GetOrder(_ context.Context, member string) (roster.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[member]
	return order, ok, nil
}

func (s *Store) PutOrder(_ context.Context, member string, order roster.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[member] = order
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.orders, member)
	return nil
}

func (s *Store) ListOrders(_ context.Context) (map[string]roster.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]roster.Order, len(s.orders))
	for member, order := range s.orders {
		out[member] = order
	}
	return out, nil
}
