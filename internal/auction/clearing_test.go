package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func flatSupply(base string) SupplySchedule {
	return SupplySchedule{
		BaseQuantity:     decimal.RequireFromString(base),
		PriceFloor:       decimal.Zero,
		PriceCeiling:     decimal.Zero,
		ElasticityType:   ElasticityLinear,
		ElasticityFactor: 0,
		MaxMultiplier:    1,
	}
}

func newTestAuction(t *testing.T, supply SupplySchedule) *Auction {
	t.Helper()
	a := New(MechanismAugmented, decimal.Zero, supply, DefaultTieBreaking(), 0, Config{})
	return a
}

func mustSubmit(t *testing.T, a *Auction, bidder, qty, price string) string {
	t.Helper()
	id, err := a.SubmitBid(bidder, decimal.RequireFromString(qty), decimal.RequireFromString(price), false, decimal.Zero, nil)
	if err != nil {
		t.Fatalf("SubmitBid(%s): %v", bidder, err)
	}
	// Ensure strictly increasing wall-clock ordering for timestamp-priority
	// scenarios that depend on submission order.
	time.Sleep(time.Microsecond)
	return id
}

// Uniform clearing, no ties: three bids at distinct prices against a flat
// supply of 200; top two fully clear, the price-setting bid sets p*.
func TestClear_UniformNoTies(t *testing.T) {
	a := newTestAuction(t, flatSupply("200"))
	mustSubmit(t, a, "A", "100", "10")
	mustSubmit(t, a, "B", "100", "9")
	mustSubmit(t, a, "C", "100", "8")

	result, err := Clear(a)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if !result.ClearingPrice.Equal(decimal.RequireFromString("9")) {
		t.Errorf("ClearingPrice = %s, want 9", result.ClearingPrice)
	}
	if !result.TotalAllocated.Equal(decimal.RequireFromString("200")) {
		t.Errorf("TotalAllocated = %s, want 200", result.TotalAllocated)
	}

	byBidder := map[string]*Allocation{}
	for _, al := range result.Allocations {
		byBidder[al.BidderID] = al
	}
	if byBidder["C"] != nil {
		t.Errorf("C should not clear, got allocation %+v", byBidder["C"])
	}
	if !byBidder["A"].AllocatedQuantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("A allocated %s, want 100", byBidder["A"].AllocatedQuantity)
	}
	if !byBidder["B"].AllocatedQuantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("B allocated %s, want 100", byBidder["B"].AllocatedQuantity)
	}
}

// Uniform clearing with a pro-rata tie: three equal-price bids of 300 each
// (900 total demand) against 500 available supply, sharing the full
// remainder since no bids clear above them. Expect the whole 500 to be
// handed out, with the earliest bidder getting no less than the latest.
func TestClear_ProRataTie(t *testing.T) {
	a := newTestAuction(t, flatSupply("500"))
	mustSubmit(t, a, "A", "300", "10")
	mustSubmit(t, a, "B", "300", "10")
	mustSubmit(t, a, "C", "300", "10")

	result, err := Clear(a)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if !result.ClearingPrice.Equal(decimal.RequireFromString("10")) {
		t.Errorf("ClearingPrice = %s, want 10", result.ClearingPrice)
	}

	sum := decimal.Zero
	for _, al := range result.Allocations {
		sum = sum.Add(al.AllocatedQuantity)
	}
	if !sum.Equal(decimal.RequireFromString("500")) {
		t.Errorf("sum of allocations = %s, want 500", sum)
	}

	// A submitted first, so under the 50/50 pro-rata/time-priority split it
	// should receive at least as much as the later bidders.
	byBidder := map[string]*Allocation{}
	for _, al := range result.Allocations {
		byBidder[al.BidderID] = al
	}
	if byBidder["A"].AllocatedQuantity.LessThan(byBidder["C"].AllocatedQuantity) {
		t.Errorf("earliest bidder A (%s) should not be awarded less than latest bidder C (%s)",
			byBidder["A"].AllocatedQuantity, byBidder["C"].AllocatedQuantity)
	}
}

func TestClear_EmptyBidSet(t *testing.T) {
	a := newTestAuction(t, flatSupply("200"))
	a.ReservePrice = decimal.RequireFromString("5")

	result, err := Clear(a)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(result.Allocations) != 0 {
		t.Errorf("expected no allocations, got %d", len(result.Allocations))
	}
	if !result.ClearingPrice.Equal(decimal.RequireFromString("5")) {
		t.Errorf("ClearingPrice = %s, want reserve price 5", result.ClearingPrice)
	}
}

func TestClear_SingleBidBelowSupply(t *testing.T) {
	a := newTestAuction(t, flatSupply("200"))
	mustSubmit(t, a, "A", "50", "10")

	result, err := Clear(a)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(result.Allocations) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(result.Allocations))
	}
	if !result.Allocations[0].AllocatedQuantity.Equal(decimal.RequireFromString("50")) {
		t.Errorf("allocated %s, want 50", result.Allocations[0].AllocatedQuantity)
	}
	if !result.UnfilledDemand.IsZero() {
		t.Errorf("UnfilledDemand = %s, want 0", result.UnfilledDemand)
	}
}

// Elastic gap case: a single bid's price never crosses S(bid_price), but
// total demand still exceeds S(floor), so the clearing price must solve
// for the true crossing point between floor and the bid price rather
// than default to floor with an under-reported supply.
func TestClear_ElasticGapBetweenFloorAndLowestBid(t *testing.T) {
	supply := SupplySchedule{
		BaseQuantity:     decimal.RequireFromString("1000"),
		PriceFloor:       decimal.RequireFromString("10"),
		PriceCeiling:     decimal.RequireFromString("20"),
		ElasticityType:   ElasticityLinear,
		ElasticityFactor: 4,
		MaxMultiplier:    5,
	}
	a := newTestAuction(t, supply)
	a.ReservePrice = decimal.RequireFromString("10")
	mustSubmit(t, a, "A", "1500", "12")

	result, err := Clear(a)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if !result.TotalAllocated.Equal(decimal.RequireFromString("1500")) {
		t.Errorf("TotalAllocated = %s, want 1500", result.TotalAllocated)
	}
	if result.ClearingPrice.Equal(supply.PriceFloor) {
		t.Error("ClearingPrice should not default to the floor when demand exceeds S(floor)")
	}
	available := supply.Quantity(result.ClearingPrice)
	if result.TotalAllocated.GreaterThan(available.Add(epsilonPerTiedBid)) {
		t.Errorf("TotalAllocated %s exceeds S(clearing_price) %s", result.TotalAllocated, available)
	}
}

func TestClear_MarginalBidEvictedBelowMinimum(t *testing.T) {
	a := newTestAuction(t, flatSupply("100"))
	mustSubmit(t, a, "A", "90", "10")
	// B is marginal and requires at least 50; A and B tie at 10 for the 100
	// available, and B's first-round share (25) falls short, so B must be
	// evicted and its share redistributed.
	a.mu.Lock()
	a.mu.Unlock()
	id, err := a.SubmitBid("B", decimal.RequireFromString("90"), decimal.RequireFromString("10"), true, decimal.RequireFromString("50"), nil)
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	_ = id

	result, clearErr := Clear(a)
	if clearErr != nil {
		t.Fatalf("Clear: %v", clearErr)
	}

	var bAlloc *Allocation
	for _, al := range result.Allocations {
		if al.BidderID == "B" {
			bAlloc = al
		}
	}
	if bAlloc == nil {
		t.Fatal("expected an allocation record for B even when evicted")
	}
	if !bAlloc.AllocatedQuantity.IsZero() {
		t.Errorf("evicted marginal bid B should be awarded 0, got %s", bAlloc.AllocatedQuantity)
	}
}

func TestClear_InvariantNeverExceedsSupply(t *testing.T) {
	a := newTestAuction(t, flatSupply("150"))
	mustSubmit(t, a, "A", "100", "10")
	mustSubmit(t, a, "B", "100", "10")
	mustSubmit(t, a, "C", "100", "10")

	result, err := Clear(a)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if result.TotalAllocated.GreaterThan(decimal.RequireFromString("150")) {
		t.Errorf("TotalAllocated = %s, exceeds supply of 150", result.TotalAllocated)
	}
}

func TestClear_AlreadyClearingRejected(t *testing.T) {
	a := newTestAuction(t, flatSupply("100"))
	mustSubmit(t, a, "A", "50", "10")
	if err := a.beginClearing(); err != nil {
		t.Fatalf("beginClearing: %v", err)
	}
	if _, err := Clear(a); err == nil {
		t.Fatal("expected Clear to reject an auction already in clearing state")
	}
}
