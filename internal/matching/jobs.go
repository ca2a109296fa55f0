package matching

import (
	"github.com/astroleaf/ecoflux-exchange/internal/contracts"
	"github.com/astroleaf/ecoflux-exchange/internal/domain"
)

type jobKind int

const (
	jobSubmit jobKind = iota
	jobCancel
	jobFinalize
)

// job is the unit of work a category's single writer processes. Every
// field outside of "kind" is interpreted according to it; this keeps one
// channel and one goroutine per category instead of three.
type job struct {
	kind jobKind

	// submit fields
	side       domain.Side
	quantity   float64
	limitPrice float64
	userID     string

	// cancel fields
	orderID string

	// finalize fields (posted back by the async deploy/execute goroutine,
	// never by a caller)
	contractID   string
	buyOrderID   string
	sellOrderID  string
	execResult   contracts.ExecuteResult

	resultCh chan jobResult
}

// jobResult is what Submit/Cancel block on. Finalize jobs carry a nil
// resultCh and are fire-and-forget from the posting goroutine's side.
type jobResult struct {
	orderID   string
	matched   bool
	cancelled bool
	err       error
}
