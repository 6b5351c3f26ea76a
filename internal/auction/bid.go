// Package auction implements the data model and the augmented
// uniform-price clearing engine: an elastic supply schedule, immutable
// bids, an append-only auction, and the allocations a clearing run
// produces.
package auction

import (
	"github.com/shopspring/decimal"
)

// Bid is immutable once accepted into an Auction.
type Bid struct {
	BidID       string
	BidderID    string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Timestamp   int64 // monotonic nanoseconds, per-auction monotone
	IsMarginal  bool
	MinQuantity decimal.Decimal // only meaningful when IsMarginal
	Metadata    map[string]string
}

// Status is the Auction lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusClearing  Status = "clearing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal lifecycle state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Mechanism is the tagged variant of auction mechanism. Clear does not
// look at it: every auction, whatever its Mechanism, is cleared with the
// augmented uniform-price algorithm, and no configuration is rejected for
// naming another mechanism.
type Mechanism string

const (
	MechanismFirstPrice   Mechanism = "first_price"
	MechanismVickrey      Mechanism = "vickrey"
	MechanismDutch        Mechanism = "dutch"
	MechanismEnglish      Mechanism = "english"
	MechanismUniformPrice Mechanism = "uniform_price"
	MechanismAugmented    Mechanism = "augmented"
)

// TieBreaking combines pro-rata and time-priority weights for
// allocating a rationed tier. Weights must be in [0,1] and sum to 1.
type TieBreaking struct {
	ProRataWeight     decimal.Decimal
	TimePriorityWeight decimal.Decimal
}

// DefaultTieBreaking returns an even split between pro-rata and
// time-priority rationing.
func DefaultTieBreaking() TieBreaking {
	half := decimal.NewFromFloat(0.5)
	return TieBreaking{ProRataWeight: half, TimePriorityWeight: half}
}

// Valid reports whether the weights are in range and sum to one (within a
// small epsilon, since callers may hand-round to cents).
func (t TieBreaking) Valid() bool {
	zero := decimal.Zero
	one := decimal.NewFromInt(1)
	if t.ProRataWeight.LessThan(zero) || t.ProRataWeight.GreaterThan(one) {
		return false
	}
	if t.TimePriorityWeight.LessThan(zero) || t.TimePriorityWeight.GreaterThan(one) {
		return false
	}
	sum := t.ProRataWeight.Add(t.TimePriorityWeight)
	eps := decimal.NewFromFloat(1e-9)
	return sum.Sub(one).Abs().LessThanOrEqual(eps)
}

// Allocation is the result of clearing a tied or untied bid.
type Allocation struct {
	BidID             string
	BidderID          string
	AllocatedQuantity decimal.Decimal
	ClearingPrice     decimal.Decimal
	ProRataShare      decimal.Decimal
	TimePriorityRank  int
}
