package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/pkg/errs"
)

func TestSubmitBid_RejectsBelowReserve(t *testing.T) {
	a := New(MechanismAugmented, decimal.RequireFromString("5"), flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	_, err := a.SubmitBid("A", decimal.RequireFromString("10"), decimal.RequireFromString("4"), false, decimal.Zero, nil)
	if err == nil || err.Kind != errs.InvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestSubmitBid_RejectsNonPositiveQuantity(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	if _, err := a.SubmitBid("A", decimal.Zero, decimal.RequireFromString("10"), false, decimal.Zero, nil); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := a.SubmitBid("A", decimal.RequireFromString("-5"), decimal.RequireFromString("10"), false, decimal.Zero, nil); err == nil {
		t.Fatal("expected error for negative quantity")
	}
}

func TestSubmitBid_MonotonicTimestamps(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	var last int64
	for i := 0; i < 20; i++ {
		id, err := a.SubmitBid("A", decimal.RequireFromString("1"), decimal.RequireFromString("10"), false, decimal.Zero, nil)
		if err != nil {
			t.Fatalf("SubmitBid: %v", err)
		}
		for _, b := range a.Snapshot() {
			if b.BidID == id {
				if b.Timestamp <= last {
					t.Fatalf("timestamp %d did not increase past %d", b.Timestamp, last)
				}
				last = b.Timestamp
			}
		}
	}
}

func TestSubmitBid_RejectsAfterDeadline(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), time.Millisecond, Config{})
	time.Sleep(5 * time.Millisecond)
	if _, err := a.SubmitBid("A", decimal.RequireFromString("1"), decimal.RequireFromString("10"), false, decimal.Zero, nil); err == nil {
		t.Fatal("expected error after deadline has passed")
	}
}

func TestCancelBid_RemovesPendingBid(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	id, err := a.SubmitBid("A", decimal.RequireFromString("10"), decimal.RequireFromString("5"), false, decimal.Zero, nil)
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if err := a.CancelBid(id); err != nil {
		t.Fatalf("CancelBid: %v", err)
	}
	if a.BidCount() != 0 {
		t.Errorf("BidCount() = %d, want 0", a.BidCount())
	}
}

func TestCancelBid_NotFound(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	if err := a.CancelBid("nope"); err == nil || err.Kind != errs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCancelBid_RejectedAfterClearing(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	id, err := a.SubmitBid("A", decimal.RequireFromString("10"), decimal.RequireFromString("5"), false, decimal.Zero, nil)
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if _, clearErr := Clear(a); clearErr != nil {
		t.Fatalf("Clear: %v", clearErr)
	}
	if err := a.CancelBid(id); err == nil || err.Kind != errs.Stale {
		t.Fatalf("expected Stale, got %v", err)
	}
}

func TestSubmitBid_RateLimited(t *testing.T) {
	cfg := Config{SubmitRateLimit: 1, SubmitBurst: 1}
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, cfg)
	if _, err := a.SubmitBid("A", decimal.RequireFromString("1"), decimal.RequireFromString("10"), false, decimal.Zero, nil); err != nil {
		t.Fatalf("first SubmitBid: %v", err)
	}
	_, err := a.SubmitBid("A", decimal.RequireFromString("1"), decimal.RequireFromString("10"), false, decimal.Zero, nil)
	if err == nil || err.Kind != errs.RateLimited {
		t.Fatalf("expected RateLimited on burst overflow, got %v", err)
	}
}

func TestCancel_TransitionsToCancelled(t *testing.T) {
	a := New(MechanismAugmented, decimal.Zero, flatSupply("100"), DefaultTieBreaking(), 0, Config{})
	if err := a.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if a.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", a.Status)
	}
	if err := a.Cancel(); err == nil {
		t.Fatal("expected error cancelling an already-terminal auction")
	}
}
