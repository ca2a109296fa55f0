package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
)

func TestDeployContractBypassesMatching(t *testing.T) {
	h := newHarness(t)

	c, err := h.engine.DeployContract("buyer", "seller", domain.CategorySolar, 100, 0.11)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractActive, c.State)
	assert.NotNil(t, c.DeployedAt)
	assert.NotEmpty(t, c.TxHash)
	assert.InDelta(t, 11.0, c.TotalValue, 1e-9)

	assert.True(t, h.sink.has(events.ContractDeployed))

	snap, err := h.book.Snapshot(domain.CategorySolar)
	require.NoError(t, err)
	assert.Empty(t, snap.Buy, "administrative contracts never touch the book")
	assert.Empty(t, snap.Sell)
}

func TestDeployContractValidatesInputs(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		buyer, seller string
		category      domain.Category
		qty, price    float64
	}{
		{"b", "s", domain.Category("geothermal"), 10, 0.1},
		{"b", "s", domain.CategorySolar, 0, 0.1},
		{"b", "s", domain.CategorySolar, 10, 0},
		{"", "s", domain.CategorySolar, 10, 0.1},
		{"b", "", domain.CategorySolar, 10, 0.1},
	}
	for _, tc := range cases {
		_, err := h.engine.DeployContract(tc.buyer, tc.seller, tc.category, tc.qty, tc.price)
		require.Error(t, err)
		assert.Equal(t, engineerrors.Validation, engineerrors.GetCode(err))
	}
}

func TestExecuteContractCompletesActiveContract(t *testing.T) {
	h := newHarness(t)

	c, err := h.engine.DeployContract("buyer", "seller", domain.CategoryWind, 50, 0.2)
	require.NoError(t, err)

	executed, err := h.engine.ExecuteContract(c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractCompleted, executed.State)
	assert.NotNil(t, executed.ExecutedAt)
	assert.Greater(t, executed.GasUsed, 0.0)

	assert.True(t, h.sink.has(events.ContractExecuted))
}

func TestExecuteContractUnknownIDFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.ExecuteContract("missing")
	require.Error(t, err)
	assert.Equal(t, engineerrors.NotFound, engineerrors.GetCode(err))
}

func TestVerifyContractEmitsEvent(t *testing.T) {
	h := newHarness(t)

	c, err := h.engine.DeployContract("buyer", "seller", domain.CategoryHydro, 10, 0.1)
	require.NoError(t, err)

	_, _, _ = h.engine.VerifyContract(c.ID, c.TxHash)
	assert.True(t, h.sink.has(events.ContractVerified))
}
