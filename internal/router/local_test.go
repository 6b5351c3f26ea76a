package router

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLocalRuntime_QuoteConstantProduct(t *testing.T) {
	r := NewLocalRuntime()
	r.Seed("ETH", "USDC", decimal.RequireFromString("100"), decimal.RequireFromString("200000"))

	route, err := r.Quote(context.Background(), "ETH", "USDC", decimal.RequireFromString("1"), decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if route.AmountOut.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive AmountOut, got %s", route.AmountOut)
	}
	if route.AmountOut.GreaterThan(decimal.RequireFromString("2000")) {
		t.Errorf("AmountOut %s looks too large for a 1 ETH trade against this pool", route.AmountOut)
	}
}

func TestLocalRuntime_ExecuteMutatesReserves(t *testing.T) {
	r := NewLocalRuntime()
	r.Seed("ETH", "USDC", decimal.RequireFromString("100"), decimal.RequireFromString("200000"))

	spotBefore, err := r.SpotPrice(context.Background(), "ETH", "USDC")
	if err != nil {
		t.Fatalf("SpotPrice: %v", err)
	}

	if _, err := r.Execute(context.Background(), "ETH", "USDC", decimal.RequireFromString("10"), decimal.RequireFromString("0.05")); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	spotAfter, err := r.SpotPrice(context.Background(), "ETH", "USDC")
	if err != nil {
		t.Fatalf("SpotPrice after execute: %v", err)
	}

	if spotAfter.Equal(spotBefore) {
		t.Error("expected spot price to move after a trade against the pool")
	}
}

func TestLocalRuntime_UnknownPairReturnsNotFound(t *testing.T) {
	r := NewLocalRuntime()
	if _, err := r.Quote(context.Background(), "ETH", "DAI", decimal.RequireFromString("1"), decimal.Zero); err == nil {
		t.Fatal("expected an error for an unseeded pair")
	}
}

func TestLocalRuntime_ReversedDirectionConsistent(t *testing.T) {
	r := NewLocalRuntime()
	r.Seed("ETH", "USDC", decimal.RequireFromString("100"), decimal.RequireFromString("200000"))

	forward, err := r.SpotPrice(context.Background(), "ETH", "USDC")
	if err != nil {
		t.Fatalf("SpotPrice forward: %v", err)
	}
	backward, err := r.SpotPrice(context.Background(), "USDC", "ETH")
	if err != nil {
		t.Fatalf("SpotPrice backward: %v", err)
	}

	if forward.IsZero() || backward.IsZero() {
		t.Fatal("expected non-zero spot prices in both directions")
	}
	product := forward.Mul(backward)
	diff := product.Sub(decimal.NewFromInt(1)).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("forward*backward = %s, want close to 1", product)
	}
}
