package router

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// pairKey is an unordered token pair, order-independent for reserve lookup.
type pairKey struct {
	a, b string
}

func newPairKey(tokenIn, tokenOut string) pairKey {
	if tokenIn < tokenOut {
		return pairKey{tokenIn, tokenOut}
	}
	return pairKey{tokenOut, tokenIn}
}

// pool holds constant-product reserves for one token pair.
type pool struct {
	reserveIn  decimal.Decimal // reserve of the lexicographically-first token
	reserveOut decimal.Decimal
}

// LocalRuntime is a deterministic constant-product AMM, adapted from the
// teacher's container.LocalRuntime pass-through: there it was a no-op
// stand-in for a container hook, here it is a real in-memory pricing
// engine used by tests and the CLI demo so the system is runnable without
// any external router service.
type LocalRuntime struct {
	mu    sync.Mutex
	pools map[pairKey]*pool
	feeBp decimal.Decimal // fee in basis points, deducted from amount_in
}

// NewLocalRuntime seeds a deterministic AMM with a flat 30bps fee.
func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{
		pools: make(map[pairKey]*pool),
		feeBp: decimal.NewFromInt(30),
	}
}

// Seed sets the reserves for a token pair. reserveA is tokenA's reserve
// and reserveB is tokenB's, whichever of the two sorts first.
func (r *LocalRuntime) Seed(tokenA, tokenB string, reserveA, reserveB decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := newPairKey(tokenA, tokenB)
	if tokenA <= tokenB {
		r.pools[key] = &pool{reserveIn: reserveA, reserveOut: reserveB}
	} else {
		r.pools[key] = &pool{reserveIn: reserveB, reserveOut: reserveA}
	}
}

func (r *LocalRuntime) poolFor(tokenIn, tokenOut string) (*pool, bool, *errs.Error) {
	key := newPairKey(tokenIn, tokenOut)
	p, ok := r.pools[key]
	if !ok {
		return nil, false, errs.New(errs.NotFound, "router.no_pool", "no pool seeded for this pair")
	}
	// reversed reports whether tokenIn is the pool's "out" side.
	reversed := tokenIn > tokenOut
	return p, reversed, nil
}

func (r *LocalRuntime) quoteLocked(tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, decimal.Decimal, *errs.Error) {
	p, reversed, err := r.poolFor(tokenIn, tokenOut)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	reserveIn, reserveOut := p.reserveIn, p.reserveOut
	if reversed {
		reserveIn, reserveOut = p.reserveOut, p.reserveIn
	}

	feeFactor := decimal.NewFromInt(10_000).Sub(r.feeBp).Div(decimal.NewFromInt(10_000))
	amountInAfterFee := amountIn.Mul(feeFactor)

	// Constant product: amountOut = reserveOut * amountInAfterFee / (reserveIn + amountInAfterFee)
	denom := reserveIn.Add(amountInAfterFee)
	if denom.IsZero() {
		return decimal.Zero, decimal.Zero, errs.New(errs.InvalidInput, "router.empty_pool", "pool has no reserves")
	}
	amountOut := reserveOut.Mul(amountInAfterFee).Div(denom)

	price := decimal.Zero
	if !amountIn.IsZero() {
		price = amountOut.Div(amountIn)
	}
	return price, amountOut, nil
}

// Quote implements Bridge.
func (r *LocalRuntime) Quote(_ context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	price, amountOut, err := r.quoteLocked(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	p, reversedDir, _ := r.poolFor(tokenIn, tokenOut)
	spot := decimal.Zero
	if reversedDir {
		if !p.reserveOut.IsZero() {
			spot = p.reserveIn.Div(p.reserveOut)
		}
	} else {
		if !p.reserveIn.IsZero() {
			spot = p.reserveOut.Div(p.reserveIn)
		}
	}
	impact := decimal.Zero
	if !spot.IsZero() {
		impact = spot.Sub(price).Div(spot).Abs()
	}

	return &Route{
		Price:       price,
		AmountOut:   amountOut,
		Path:        []string{tokenIn, tokenOut},
		PriceImpact: impact,
		GasEstimate: 120_000,
	}, nil
}

// Execute implements Bridge: it quotes, then mutates reserves
// synchronously within the same call.
func (r *LocalRuntime) Execute(_ context.Context, tokenIn, tokenOut string, amountIn, slippage decimal.Decimal) (*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	price, amountOut, err := r.quoteLocked(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	p, reversed, _ := r.poolFor(tokenIn, tokenOut)
	feeFactor := decimal.NewFromInt(10_000).Sub(r.feeBp).Div(decimal.NewFromInt(10_000))
	amountInAfterFee := amountIn.Mul(feeFactor)
	if reversed {
		p.reserveOut = p.reserveOut.Add(amountInAfterFee)
		p.reserveIn = p.reserveIn.Sub(amountOut)
	} else {
		p.reserveIn = p.reserveIn.Add(amountInAfterFee)
		p.reserveOut = p.reserveOut.Sub(amountOut)
	}

	return &Execution{
		Price:     price,
		AmountOut: amountOut,
		GasUsed:   110_000,
		TxHash:    deterministicTxHash(tokenIn, tokenOut, amountIn),
	}, nil
}

// SpotPrice implements Bridge.
func (r *LocalRuntime) SpotPrice(_ context.Context, tokenIn, tokenOut string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, reversed, err := r.poolFor(tokenIn, tokenOut)
	if err != nil {
		return decimal.Zero, err
	}
	if reversed {
		if p.reserveOut.IsZero() {
			return decimal.Zero, nil
		}
		return p.reserveIn.Div(p.reserveOut), nil
	}
	if p.reserveIn.IsZero() {
		return decimal.Zero, nil
	}
	return p.reserveOut.Div(p.reserveIn), nil
}
