package router

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/internal/breaker"
	"github.com/sambacha/julia-auction/internal/metrics"
)

// BreakerBridge wraps a Bridge with a per-method circuit breaker and
// records every call's outcome and latency, so a misbehaving quote or
// execution backend trips independently of the others.
type BreakerBridge struct {
	inner Bridge

	quote   *breaker.Breaker
	execute *breaker.Breaker
	spot    *breaker.Breaker

	metrics *metrics.Metrics
	name    string
}

// NewBreakerBridge wraps inner, naming the bridge for metric labels. m may
// be nil, in which case metrics recording is skipped.
func NewBreakerBridge(name string, inner Bridge, cfg breaker.Config, m *metrics.Metrics) *BreakerBridge {
	return &BreakerBridge{
		inner:   inner,
		quote:   breaker.New(cfg),
		execute: breaker.New(cfg),
		spot:    breaker.New(cfg),
		metrics: m,
		name:    name,
	}
}

func (b *BreakerBridge) call(ctx context.Context, method string, br *breaker.Breaker, f func(context.Context) error) error {
	changedBefore := br.Stats().LastStateChange
	start := time.Now()
	err := br.Execute(ctx, f, nil)
	latency := time.Since(start)

	if b.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		b.metrics.RecordBridgeCall(method, result, latency)
		// Report the state only when this call moved the breaker, so a
		// call short-circuited by an already-open breaker is not counted
		// as another trip.
		if stats := br.Stats(); !stats.LastStateChange.Equal(changedBefore) {
			b.metrics.SetBreakerState(b.name+"."+method, string(stats.State))
		}
	}
	return err
}

// Quote implements Bridge.
func (b *BreakerBridge) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Route, error) {
	var route *Route
	err := b.call(ctx, "quote", b.quote, func(ctx context.Context) error {
		var qerr error
		route, qerr = b.inner.Quote(ctx, tokenIn, tokenOut, amountIn, slippage)
		return qerr
	})
	return route, err
}

// Execute implements Bridge.
func (b *BreakerBridge) Execute(ctx context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Execution, error) {
	var exec *Execution
	err := b.call(ctx, "execute", b.execute, func(ctx context.Context) error {
		var eerr error
		exec, eerr = b.inner.Execute(ctx, tokenIn, tokenOut, amountIn, slippage)
		return eerr
	})
	return exec, err
}

// SpotPrice implements Bridge.
func (b *BreakerBridge) SpotPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := b.call(ctx, "spot_price", b.spot, func(ctx context.Context) error {
		var perr error
		price, perr = b.inner.SpotPrice(ctx, tokenIn, tokenOut)
		return perr
	})
	return price, err
}
