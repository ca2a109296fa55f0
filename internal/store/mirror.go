package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
)

// Fetcher resolves the ids carried on an event's payload back to the
// full domain objects a Store needs to persist. The matching engine
// implements this directly over its registry and contract lifecycle, so
// store never needs to import either.
type Fetcher interface {
	FetchOrder(id string) (*domain.Order, bool)
	FetchContract(id string) (*domain.Contract, bool)
}

// Mirror is an events.Sink that asynchronously writes order and contract
// state to a Store as a write-behind cache. It never blocks its caller:
// every persist happens on its own goroutine, so a slow or unavailable
// store degrades durability, never matching latency.
type Mirror struct {
	store   Store
	fetch   Fetcher
	logger  *zap.Logger
	timeout time.Duration
}

// NewMirror builds a Mirror over store, resolving full objects through
// fetch.
func NewMirror(s Store, fetch Fetcher, logger *zap.Logger) *Mirror {
	return &Mirror{store: s, fetch: fetch, logger: logger, timeout: 3 * time.Second}
}

// Publish dispatches a best-effort, asynchronous persist keyed by the
// event's type and returns immediately; the matching writer never waits
// on it.
func (m *Mirror) Publish(_ context.Context, evt events.Event) error {
	go m.persist(evt)
	return nil
}

// Close releases the underlying store.
func (m *Mirror) Close() error { return m.store.Close() }

func (m *Mirror) persist(evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	switch evt.Type {
	case events.OrderAdmitted, events.OrderMatched, events.OrderCancelled:
		for _, key := range []string{"order_id", "buyer_order_id", "seller_order_id"} {
			id, ok := evt.Payload[key].(string)
			if !ok || id == "" {
				continue
			}
			order, ok := m.fetch.FetchOrder(id)
			if !ok {
				continue
			}
			if err := m.store.SaveOrder(ctx, order); err != nil {
				m.logger.Warn("mirror failed to persist order", zap.String("order_id", id), zap.Error(err))
			}
		}
	case events.ContractDeployed, events.ContractExecuted, events.ContractVerified, events.ContractFailed:
		id, ok := evt.Payload["contract_id"].(string)
		if !ok || id == "" {
			return
		}
		contract, ok := m.fetch.FetchContract(id)
		if !ok {
			return
		}
		if err := m.store.SaveContract(ctx, contract); err != nil {
			m.logger.Warn("mirror failed to persist contract", zap.String("contract_id", id), zap.Error(err))
		}
	}
}
