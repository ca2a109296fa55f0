package events

import (
	"time"

	"github.com/segmentio/ksuid"
)

func newEvent(typ Type, payload map[string]interface{}) Event {
	return Event{ID: typ.String() + "-" + ksuid.New().String(), Type: typ, Timestamp: time.Now(), Payload: payload}
}

// String returns the event type as a plain string, for use in ids/logs.
func (t Type) String() string { return string(t) }

// NewOrderAdmitted reports that a submission was admitted to the
// registry and rested in the book (no counterparty found).
func NewOrderAdmitted(orderID string, category string, side string) Event {
	return newEvent(OrderAdmitted, map[string]interface{}{
		"order_id": orderID,
		"category": category,
		"side":     side,
	})
}

// NewOrderMatched reports that two orders were matched and their
// contract created; the contract's settlement is reported separately.
func NewOrderMatched(buyerOrderID, sellerOrderID, contractID string, price, quantity float64) Event {
	return newEvent(OrderMatched, map[string]interface{}{
		"buyer_order_id":  buyerOrderID,
		"seller_order_id": sellerOrderID,
		"contract_id":     contractID,
		"price":           price,
		"quantity":        quantity,
	})
}

// NewOrderCancelled reports a successful cancellation.
func NewOrderCancelled(orderID string) Event {
	return newEvent(OrderCancelled, map[string]interface{}{"order_id": orderID})
}

// NewContractDeployed reports a contract's pending -> active transition.
func NewContractDeployed(contractID, txHash string) Event {
	return newEvent(ContractDeployed, map[string]interface{}{"contract_id": contractID, "tx_hash": txHash})
}

// NewContractExecuted reports a contract's active -> completed
// transition.
func NewContractExecuted(contractID string, durationMs int64, gasUsed float64) Event {
	return newEvent(ContractExecuted, map[string]interface{}{
		"contract_id": contractID,
		"duration_ms": durationMs,
		"gas_used":    gasUsed,
	})
}

// NewContractVerified reports the outcome of a verify call.
func NewContractVerified(contractID string, verified bool) Event {
	return newEvent(ContractVerified, map[string]interface{}{"contract_id": contractID, "verified": verified})
}

// NewContractFailed reports a contract's transition to failed, carrying
// the captured reason.
func NewContractFailed(contractID, reason string) Event {
	return newEvent(ContractFailed, map[string]interface{}{"contract_id": contractID, "reason": reason})
}
