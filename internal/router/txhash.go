package router

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// deterministicTxHash derives a pseudo transaction hash from the trade
// parameters and wall-clock time, good enough for the in-memory mock
// bridge's bookkeeping; it is never used for anything cryptographic.
func deterministicTxHash(tokenIn, tokenOut string, amountIn decimal.Decimal) string {
	h := sha256.New()
	h.Write([]byte(tokenIn))
	h.Write([]byte(tokenOut))
	h.Write([]byte(amountIn.String()))
	h.Write([]byte(time.Now().String()))
	return "0x" + hex.EncodeToString(h.Sum(nil))[:40]
}
