package hashutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
)

func TestTxHashDeterministic(t *testing.T) {
	now := time.Now()
	h1 := TxHash("buyer", "seller", domain.CategorySolar, 100, 0.11, now)
	h2 := TxHash("buyer", "seller", domain.CategorySolar, 100, 0.11, now)
	assert.Equal(t, h1, h2, "recomputing txHash from the same inputs must be stable")
	assert.Len(t, h1, 64, "sha256 hex digest is 64 characters")
}

func TestTxHashChangesWithInputs(t *testing.T) {
	now := time.Now()
	base := TxHash("buyer", "seller", domain.CategorySolar, 100, 0.11, now)

	variants := []string{
		TxHash("other-buyer", "seller", domain.CategorySolar, 100, 0.11, now),
		TxHash("buyer", "other-seller", domain.CategorySolar, 100, 0.11, now),
		TxHash("buyer", "seller", domain.CategoryWind, 100, 0.11, now),
		TxHash("buyer", "seller", domain.CategorySolar, 200, 0.11, now),
		TxHash("buyer", "seller", domain.CategorySolar, 100, 0.12, now),
		TxHash("buyer", "seller", domain.CategorySolar, 100, 0.11, now.Add(time.Nanosecond)),
	}
	for _, v := range variants {
		assert.NotEqual(t, base, v)
	}
}

func TestVerifyHashRoundTrip(t *testing.T) {
	prefix := ExpectedVerificationPrefix("contract-123")
	txHash := prefix + "deadbeefdeadbeefdeadbeef"
	assert.True(t, VerifyHash("contract-123", txHash))
	assert.False(t, VerifyHash("contract-123", "0000"+"deadbeefdeadbeefdeadbeef"))
}

func TestVerifyHashRejectsShortInput(t *testing.T) {
	assert.False(t, VerifyHash("contract-123", "ab"))
}

func TestVerifyHashIdempotent(t *testing.T) {
	prefix := ExpectedVerificationPrefix("contract-xyz")
	txHash := prefix + "cafebabecafebabecafebabe"
	first := VerifyHash("contract-xyz", txHash)
	second := VerifyHash("contract-xyz", txHash)
	assert.Equal(t, first, second)
}
