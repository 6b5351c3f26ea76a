// Package router defines the Router Bridge capability the core depends
// on and two swappable implementations, adapted from a named-backend
// runtime dispatch table originally built for ad-serving hooks, repurposed here
// for CFMM routing backends.
package router

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Route is a quoted path through one or more pools.
type Route struct {
	Price       decimal.Decimal
	AmountOut   decimal.Decimal
	Path        []string
	PriceImpact decimal.Decimal
	GasEstimate uint64
}

// Execution is the settled outcome of running a route.
type Execution struct {
	Price     decimal.Decimal
	AmountOut decimal.Decimal
	GasUsed   uint64
	TxHash    string
}

// Bridge is the capability interface the core depends on. Reserves are
// updated inside Execute synchronously. HTTPRuntime keeps a short-lived
// price cache (DefaultCacheTTL); LocalRuntime and BreakerBridge do not
// cache.
type Bridge interface {
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Route, error)
	Execute(ctx context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Execution, error)
	SpotPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error)
}

// DefaultCacheTTL is the default price-cache lifetime.
const DefaultCacheTTL = time.Second
