package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrderMatchedPayload(t *testing.T) {
	evt := NewOrderMatched("buy1", "sell1", "contract1", 0.11, 100)
	assert.Equal(t, OrderMatched, evt.Type)
	assert.Equal(t, "buy1", evt.Payload["buyer_order_id"])
	assert.Equal(t, "sell1", evt.Payload["seller_order_id"])
	assert.Equal(t, "contract1", evt.Payload["contract_id"])
	assert.Equal(t, 0.11, evt.Payload["price"])
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNewContractFailedPayload(t *testing.T) {
	evt := NewContractFailed("contract1", "timeout")
	assert.Equal(t, ContractFailed, evt.Type)
	assert.Equal(t, "timeout", evt.Payload["reason"])
}

func TestEventIDsAreUnique(t *testing.T) {
	a := NewOrderAdmitted("o1", "solar", "buy")
	b := NewOrderAdmitted("o1", "solar", "buy")
	assert.NotEqual(t, a.ID, b.ID)
}
