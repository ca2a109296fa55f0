package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStateTerminal(t *testing.T) {
	assert.True(t, OrderCompleted.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.False(t, OrderPending.Terminal())
	assert.False(t, OrderMatched.Terminal())
}

func TestOrderCanCancel(t *testing.T) {
	for _, st := range []OrderState{OrderPending, OrderMatched} {
		o := &Order{State: st}
		assert.True(t, o.CanCancel(), "state %s should be cancellable", st)
	}
	for _, st := range []OrderState{OrderCompleted, OrderCancelled} {
		o := &Order{State: st}
		assert.False(t, o.CanCancel(), "state %s should not be cancellable", st)
	}
}

func TestOrderCloneIsIndependent(t *testing.T) {
	o := &Order{ID: "o1", State: OrderPending, CreatedAt: time.Now()}
	cp := o.Clone()
	cp.State = OrderMatched
	cp.ID = "mutated"

	assert.Equal(t, OrderPending, o.State)
	assert.Equal(t, "o1", o.ID)
	assert.NotSame(t, o, cp)
}

func TestOrderWireRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &Order{
		ID: "o1", Side: SideBuy, Category: CategorySolar,
		Quantity: 100, LimitPrice: 0.12, UserID: "u1",
		CreatedAt: now, UpdatedAt: now, State: OrderCompleted,
		MatchedWith: "o2", ContractID: "c1",
		ExecutionLatencyNanos: int64(150 * time.Millisecond),
	}

	raw, err := json.Marshal(o)
	require.NoError(t, err)
	var back Order
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, *o, back)
}

func TestOrderExecutionLatency(t *testing.T) {
	o := &Order{ExecutionLatencyNanos: int64(250 * time.Millisecond)}
	assert.Equal(t, 250*time.Millisecond, o.ExecutionLatency())
}
