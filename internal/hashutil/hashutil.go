// Package hashutil computes the content-addressed digests the contract
// lifecycle uses to identify and later verify a trade.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/astroleaf/ecoflux-exchange/internal/domain"
)

// TxHash computes the deterministic 256-bit digest over a contract's
// defining, immutable fields. Recomputing it from the same inputs always
// yields the same hex string.
func TxHash(buyerUserID, sellerUserID string, category domain.Category, quantity, executionPrice float64, createdAt time.Time) string {
	data := fmt.Sprintf("%s|%s|%s|%g|%g|%d", buyerUserID, sellerUserID, category, quantity, executionPrice, createdAt.UnixNano())
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ExpectedVerificationPrefix returns the first 4 hex characters verify
// compares a supplied txHash against, derived from the contract id alone.
func ExpectedVerificationPrefix(contractID string) string {
	sum := sha256.Sum256([]byte(contractID))
	return hex.EncodeToString(sum[:])[:4]
}

// VerifyHash reports whether txHash authenticates contractID: its first
// four hex characters must match the expected prefix for that id.
func VerifyHash(contractID, txHash string) bool {
	if len(txHash) < 4 {
		return false
	}
	return txHash[:4] == ExpectedVerificationPrefix(contractID)
}
