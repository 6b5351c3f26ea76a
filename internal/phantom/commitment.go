package phantom

import (
	"crypto/sha256"

	"github.com/shopspring/decimal"
)

// commitmentHash computes sha256(bidder_id ∥ price ∥ quantity ∥ nonce),
// using each decimal's canonical string form so the hash is stable
// regardless of trailing-zero formatting differences between callers.
func commitmentHash(bidderID string, price, quantity decimal.Decimal, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte(bidderID))
	h.Write([]byte(price.String()))
	h.Write([]byte(quantity.String()))
	h.Write(nonce)
	return h.Sum(nil)
}
