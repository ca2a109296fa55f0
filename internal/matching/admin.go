package matching

import (
	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
)

// DeployContract creates and deploys a contract directly, bypassing
// matching. Administrative pathways (settlement reconciliation, manual
// trade entry) use this; the engine's own matches drive the lifecycle
// internally and never come through here.
func (e *Engine) DeployContract(buyerUserID, sellerUserID string, category domain.Category, quantity, price float64) (*domain.Contract, error) {
	if !category.Valid() {
		return nil, engineerrors.Newf(engineerrors.Validation, "unknown category %q", category)
	}
	if quantity <= 0 || price <= 0 {
		return nil, engineerrors.New(engineerrors.Validation, "quantity and price must be positive")
	}
	if buyerUserID == "" || sellerUserID == "" {
		return nil, engineerrors.New(engineerrors.Validation, "buyer and seller user ids are required")
	}

	c := e.lc.Create(buyerUserID, sellerUserID, category, quantity, price)
	txHash, err := e.lc.Deploy(c.ID)
	if err != nil {
		return nil, err
	}
	e.publish(events.NewContractDeployed(c.ID, txHash))
	if e.metrics != nil {
		e.metrics.RecordDeploy(string(category))
	}
	return e.lc.Get(c.ID)
}

// ExecuteContract runs an active contract's execution synchronously from
// the caller's perspective and returns its final state. Contracts
// produced by matching are finalized through the writer instead; this is
// the administrative companion to DeployContract.
func (e *Engine) ExecuteContract(contractID string) (*domain.Contract, error) {
	c, err := e.lc.Get(contractID)
	if err != nil {
		return nil, err
	}

	res := <-e.lc.ExecuteAsync(contractID, c.Category)
	if res.Err != nil {
		e.publish(events.NewContractFailed(contractID, res.Err.Error()))
		if e.metrics != nil {
			e.metrics.RecordExecute(string(c.Category), 0, true)
		}
		return nil, res.Err
	}

	e.publish(events.NewContractExecuted(contractID, res.Contract.ExecutionDuration().Milliseconds(), res.Contract.GasUsed))
	if e.metrics != nil {
		e.metrics.RecordExecute(string(c.Category), res.Contract.ExecutionDuration(), false)
	}
	return res.Contract.Clone(), nil
}
