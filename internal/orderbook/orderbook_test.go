package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/engineerrors"
)

func newTestBook() *Book {
	return New(zap.NewNop())
}

func TestInsertUnknownCategoryFails(t *testing.T) {
	b := newTestBook()
	err := b.Insert(domain.Category("geothermal"), domain.SideBuy, "o1", 0.1, time.Now(), 10)
	require.Error(t, err)
	assert.Equal(t, engineerrors.Validation, engineerrors.GetCode(err))
}

func TestPeekBestEmptyBook(t *testing.T) {
	b := newTestBook()
	_, _, _, ok := b.PeekBest(domain.CategorySolar, domain.SideBuy)
	assert.False(t, ok)
}

func TestBuySidePrioritizesHigherPriceThenEarlierTime(t *testing.T) {
	b := newTestBook()
	t0 := time.Now()

	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "low-price", 0.10, t0, 10))
	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "high-price", 0.15, t0.Add(time.Second), 10))

	id, price, _, ok := b.PeekBest(domain.CategorySolar, domain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, "high-price", id)
	assert.Equal(t, 0.15, price)
}

func TestSellSidePrioritizesLowerPriceThenEarlierTime(t *testing.T) {
	b := newTestBook()
	t0 := time.Now()

	require.NoError(t, b.Insert(domain.CategoryWind, domain.SideSell, "high-price", 0.20, t0, 10))
	require.NoError(t, b.Insert(domain.CategoryWind, domain.SideSell, "low-price", 0.12, t0.Add(time.Second), 10))

	id, price, _, ok := b.PeekBest(domain.CategoryWind, domain.SideSell)
	require.True(t, ok)
	assert.Equal(t, "low-price", id)
	assert.Equal(t, 0.12, price)
}

func TestTiedPriceBreaksOnCreatedAt(t *testing.T) {
	b := newTestBook()
	t0 := time.Now()

	require.NoError(t, b.Insert(domain.CategoryBiomass, domain.SideSell, "later", 0.15, t0.Add(time.Second), 50))
	require.NoError(t, b.Insert(domain.CategoryBiomass, domain.SideSell, "earlier", 0.15, t0, 50))

	id, _, _, ok := b.PeekBest(domain.CategoryBiomass, domain.SideSell)
	require.True(t, ok)
	assert.Equal(t, "earlier", id, "earlier createdAt wins a price tie")
}

func TestFullTieBreaksOnID(t *testing.T) {
	b := newTestBook()
	t0 := time.Now()

	require.NoError(t, b.Insert(domain.CategoryHydro, domain.SideBuy, "zzz", 0.10, t0, 10))
	require.NoError(t, b.Insert(domain.CategoryHydro, domain.SideBuy, "aaa", 0.10, t0, 10))

	id, _, _, ok := b.PeekBest(domain.CategoryHydro, domain.SideBuy)
	require.True(t, ok)
	assert.Equal(t, "aaa", id, "identical price and createdAt break on id ascending")
}

func TestRemoveAbsentIDIsNoOp(t *testing.T) {
	b := newTestBook()
	ok := b.Remove(domain.CategorySolar, domain.SideBuy, "never-existed")
	assert.False(t, ok)
}

func TestRemoveUnknownCategoryIsNoOp(t *testing.T) {
	b := newTestBook()
	ok := b.Remove(domain.Category("geothermal"), domain.SideBuy, "x")
	assert.False(t, ok)
}

func TestInsertThenRemoveLeavesBookEmpty(t *testing.T) {
	b := newTestBook()
	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "o1", 0.1, time.Now(), 10))

	assert.True(t, b.Remove(domain.CategorySolar, domain.SideBuy, "o1"))
	_, _, _, ok := b.PeekBest(domain.CategorySolar, domain.SideBuy)
	assert.False(t, ok)
	assert.Equal(t, float64(0), b.TotalVolume(domain.CategorySolar, domain.SideBuy))
}

func TestSnapshotOrdersByPriorityAndComputesSpread(t *testing.T) {
	b := newTestBook()
	t0 := time.Now()

	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "b1", 0.12, t0, 100))
	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "b2", 0.13, t0.Add(time.Second), 50))
	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideSell, "s1", 0.16, t0, 20))

	snap, err := b.Snapshot(domain.CategorySolar)
	require.NoError(t, err)

	require.Len(t, snap.Buy, 2)
	assert.Equal(t, "b2", snap.Buy[0].ID, "higher buy price sorts first")
	assert.Equal(t, "b1", snap.Buy[1].ID)

	require.NotNil(t, snap.BestBid)
	require.NotNil(t, snap.BestAsk)
	assert.InDelta(t, 0.13, *snap.BestBid, 1e-9)
	assert.InDelta(t, 0.16, *snap.BestAsk, 1e-9)
	require.NotNil(t, snap.Spread)
	assert.InDelta(t, 0.03, *snap.Spread, 1e-9)

	assert.Equal(t, float64(150), snap.TotalBuyVolume)
	assert.Equal(t, float64(20), snap.TotalSellVolume)
}

func TestBestBidAsk(t *testing.T) {
	b := newTestBook()
	t0 := time.Now()

	bid, ask := b.BestBidAsk(domain.CategorySolar)
	assert.Nil(t, bid)
	assert.Nil(t, ask)

	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "b1", 0.12, t0, 100))
	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideSell, "s1", 0.16, t0, 100))

	bid, ask = b.BestBidAsk(domain.CategorySolar)
	require.NotNil(t, bid)
	require.NotNil(t, ask)
	assert.InDelta(t, 0.12, *bid, 1e-9)
	assert.InDelta(t, 0.16, *ask, 1e-9)
}

func TestSnapshotUnknownCategoryFails(t *testing.T) {
	b := newTestBook()
	_, err := b.Snapshot(domain.Category("geothermal"))
	require.Error(t, err)
	assert.Equal(t, engineerrors.Validation, engineerrors.GetCode(err))
}

func TestCategoriesAreIsolated(t *testing.T) {
	b := newTestBook()
	require.NoError(t, b.Insert(domain.CategorySolar, domain.SideBuy, "solar-order", 0.10, time.Now(), 10))

	_, _, _, ok := b.PeekBest(domain.CategoryWind, domain.SideBuy)
	assert.False(t, ok, "an order resting in solar must not be visible from wind's book")
}
