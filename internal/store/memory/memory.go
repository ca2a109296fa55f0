// Package memory implements store.Store with an in-process map. It is
// the default collaborator when no durable DSN is configured: every
// write succeeds instantly and nothing survives a restart, which keeps
// local development and tests from needing Postgres at all.
package memory

import (
	"context"
	"sync"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
)

// Store is a non-durable, in-memory reference implementation of
// store.Store.
type Store struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	contracts map[string]*domain.Contract
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		orders:    make(map[string]*domain.Order),
		contracts: make(map[string]*domain.Contract),
	}
}

func (s *Store) SaveOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *Store) SaveContract(_ context.Context, contract *domain.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[contract.ID] = contract.Clone()
	return nil
}

func (s *Store) LoadOpenOrders(_ context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if !o.State.Terminal() {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
