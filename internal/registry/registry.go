// Package registry is the authoritative record of every order's
// identity and state, indexable by id, user and status. It is the
// single owner of Order state; the order book only ever holds a handle
// into it.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
)

// Registry stores every admitted Order not yet evicted, keyed by id.
// Lookups by state and user (List, CountByState) scan the whole map.
type Registry struct {
	mu     sync.RWMutex
	logger *zap.Logger
	orders map[string]*domain.Order
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		orders: make(map[string]*domain.Order),
	}
}

// Create admits a new order as given, keeping whatever state it carries
// (the matching engine admits orders as pending). createdAt must be
// assigned by the caller at the moment it crosses the matching writer's
// boundary, not at request entry, or priority can invert under
// client-side clock skew.
func (r *Registry) Create(order *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	r.logger.Debug("order admitted", zap.String("order_id", order.ID), zap.String("category", string(order.Category)))
}

// Get returns a defensive copy of the order with the given id.
func (r *Registry) Get(id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, engineerrors.Newf(engineerrors.NotFound, "order %q not found", id)
	}
	return o.Clone(), nil
}

// mutate looks up the live order (not a copy) for in-place update by a
// caller already holding the write lock.
func (r *Registry) mutate(id string) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, engineerrors.Newf(engineerrors.NotFound, "order %q not found", id)
	}
	return o, nil
}

// Filter narrows ListOrders. Limit is clamped to 200; zero means "use
// the default of 200".
type Filter struct {
	State  *domain.OrderState
	UserID string
	Limit  int
}

// List returns orders matching filter, newest-first by CreatedAt.
func (r *Registry) List(f Filter) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	matches := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.State != nil && o.State != *f.State {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		matches = append(matches, o.Clone())
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// PendingByCategory returns every pending order in one category, oldest
// first — the order the book would present them in for a given side is
// the book's job, not the registry's; this just narrows the candidate
// set for callers that need to recheck registry state.
func (r *Registry) PendingByCategory(category domain.Category) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if o.Category == category && o.State == domain.OrderPending {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetState transitions an order to newState, stamping UpdatedAt. Callers
// are responsible for enforcing which transitions are legal (the
// matching engine and contract lifecycle own that policy); SetState only
// refuses to mutate a terminal order.
func (r *Registry) SetState(id string, newState domain.OrderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, err := r.mutate(id)
	if err != nil {
		return err
	}
	if o.State.Terminal() {
		return engineerrors.Newf(engineerrors.Conflict, "order %q is terminal (%s), cannot transition to %s", id, o.State, newState)
	}
	o.State = newState
	o.UpdatedAt = time.Now()
	return nil
}

// RecordMatch marks two orders as matched counterparties of each other.
func (r *Registry) RecordMatch(aID, bID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.mutate(aID)
	if err != nil {
		return err
	}
	b, err := r.mutate(bID)
	if err != nil {
		return err
	}

	now := time.Now()
	a.State, a.MatchedWith, a.UpdatedAt = domain.OrderMatched, bID, now
	b.State, b.MatchedWith, b.UpdatedAt = domain.OrderMatched, aID, now
	return nil
}

// RevertToPending undoes a match: both orders return to pending with
// their original createdAt preserved (it's untouched by this call) and
// MatchedWith cleared, so reinsertion keeps their book priority.
func (r *Registry) RevertToPending(aID, bID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.mutate(aID)
	if err != nil {
		return err
	}
	b, err := r.mutate(bID)
	if err != nil {
		return err
	}

	now := time.Now()
	a.State, a.MatchedWith, a.UpdatedAt = domain.OrderPending, "", now
	b.State, b.MatchedWith, b.UpdatedAt = domain.OrderPending, "", now
	return nil
}

// RecordCompletion marks a matched order completed with its contract id
// and measured execution latency.
func (r *Registry) RecordCompletion(id, contractID string, latency time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, err := r.mutate(id)
	if err != nil {
		return err
	}
	o.State = domain.OrderCompleted
	o.ContractID = contractID
	o.ExecutionLatencyNanos = int64(latency)
	o.UpdatedAt = time.Now()
	return nil
}

// EvictOlderThan removes completed/cancelled orders whose UpdatedAt
// predates the cutoff from the registry. Pending and matched orders are
// never evicted. Returns the number of orders evicted.
func (r *Registry) EvictOlderThan(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, o := range r.orders {
		if !o.State.Terminal() {
			continue
		}
		if o.UpdatedAt.Before(cutoff) {
			delete(r.orders, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("retention sweep evicted orders", zap.Int("count", evicted))
	}
	return evicted
}

// Count returns the number of orders the registry currently holds,
// regardless of state; orders removed by EvictOlderThan are not counted.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// CountByState returns how many orders currently sit in the given state.
func (r *Registry) CountByState(state domain.OrderState) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.orders {
		if o.State == state {
			n++
		}
	}
	return n
}

// All returns a snapshot copy of every order, for analytics scans. Not
// meant for request-path use — callers needing a bounded view should use
// List.
func (r *Registry) All() []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o.Clone())
	}
	return out
}
