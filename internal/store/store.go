// Package store defines the optional durable-persistence boundary for
// orders and contracts. The matching core never depends on a concrete
// store directly — it publishes events, and a Mirror (see mirror.go)
// subscribes to those and writes behind, off the matching writer's
// critical section, so matching logic never touches *sql.DB or
// *gorm.DB.
package store

import (
	"context"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
)

// Store is the durable-persistence collaborator. Implementations must
// not block the caller for longer than a single write; the mirror that
// drives them is best-effort and fire-and-forget.
type Store interface {
	SaveOrder(ctx context.Context, order *domain.Order) error
	SaveContract(ctx context.Context, contract *domain.Contract) error
	LoadOpenOrders(ctx context.Context) ([]*domain.Order, error)
	Close() error
}
