package auction

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// ClearingResult is the output of Clear.
type ClearingResult struct {
	ClearingPrice  decimal.Decimal
	Allocations    []*Allocation
	TotalAllocated decimal.Decimal
	UnfilledDemand decimal.Decimal
}

// epsilonPerTiedBid bounds the floating-point slack the allocation
// invariant check allows per tied bid.
var epsilonPerTiedBid = decimal.NewFromFloat(1e-9)

// sortCanonical orders bids by (price desc, timestamp asc, bid_id asc),
// the canonical ordering clearing walks demand against.
func sortCanonical(bids []*Bid) []*Bid {
	sorted := make([]*Bid, len(bids))
	copy(sorted, bids)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Price.Equal(sorted[j].Price) {
			return sorted[i].Price.GreaterThan(sorted[j].Price)
		}
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].BidID < sorted[j].BidID
	})
	return sorted
}

// Clear runs the augmented uniform-price clearing algorithm against a's
// current bid snapshot.
func Clear(a *Auction) (*ClearingResult, *errs.Error) {
	if err := a.beginClearing(); err != nil {
		return nil, err
	}

	bids := a.Snapshot()

	if len(bids) == 0 {
		// Empty bid set returns reserve_price, no allocations, no error.
		result := &ClearingResult{
			ClearingPrice:  a.ReservePrice,
			Allocations:    nil,
			TotalAllocated: decimal.Zero,
			UnfilledDemand: decimal.Zero,
		}
		a.finishClearing(nil)
		return result, nil
	}

	sorted := sortCanonical(bids)

	totalDemand := decimal.Zero
	for _, b := range sorted {
		totalDemand = totalDemand.Add(b.Quantity)
	}

	cum := decimal.Zero
	clearingPrice := decimal.Decimal{}
	found := false
	for _, b := range sorted {
		cum = cum.Add(b.Quantity)
		avail := a.Supply.Quantity(b.Price)
		if cum.GreaterThanOrEqual(avail) {
			clearingPrice = b.Price
			found = true
			break
		}
	}

	if !found {
		// No bid price crossed its own S(price): total demand stays under
		// S(lowest bid price) throughout the walk above. Two cases:
		// demand fits within S(floor) and clears there outright, or an
		// elastic curve still has room between floor and the lowest bid
		// price and the true crossing price sits somewhere in that gap.
		floor := a.Supply.EffectiveFloor(a.ReservePrice)
		p := floor
		floorSupply := a.Supply.Quantity(floor)
		if totalDemand.GreaterThan(floorSupply) {
			lowest := sorted[len(sorted)-1].Price
			p = a.Supply.PriceForQuantity(totalDemand, floor, lowest)
		}
		available := a.Supply.Quantity(p)

		allocations := make([]*Allocation, 0, len(sorted))
		for _, b := range sorted {
			allocations = append(allocations, &Allocation{
				BidID:             b.BidID,
				BidderID:          b.BidderID,
				AllocatedQuantity: b.Quantity,
				ClearingPrice:     p,
				ProRataShare:      decimal.NewFromInt(1),
				TimePriorityRank:  0,
			})
		}

		if totalDemand.Sub(available).GreaterThan(epsilonPerTiedBid) {
			return nil, errs.New(errs.ClearingInvariant, "clearing.gap_over_allocated",
				"full-clear price solved below the supply it implies")
		}

		result := &ClearingResult{
			ClearingPrice:  p,
			Allocations:    allocations,
			TotalAllocated: totalDemand,
			UnfilledDemand: decimal.Zero,
		}
		a.finishClearing(allocations)
		return result, nil
	}

	available := a.Supply.Quantity(clearingPrice)

	var above, tied []*Bid
	for _, b := range sorted {
		switch {
		case b.Price.GreaterThan(clearingPrice):
			above = append(above, b)
		case b.Price.Equal(clearingPrice):
			tied = append(tied, b)
		}
	}

	sumAbove := decimal.Zero
	for _, b := range above {
		sumAbove = sumAbove.Add(b.Quantity)
	}

	qTie := decimal.Zero
	for _, b := range tied {
		qTie = qTie.Add(b.Quantity)
	}

	remaining := available.Sub(sumAbove)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if remaining.GreaterThan(qTie) {
		remaining = qTie
	}

	awards := augmentedTieBreak(tied, remaining, a.TieBreaking)

	allocations := make([]*Allocation, 0, len(above)+len(tied))
	for _, b := range above {
		allocations = append(allocations, &Allocation{
			BidID:             b.BidID,
			BidderID:          b.BidderID,
			AllocatedQuantity: b.Quantity,
			ClearingPrice:     clearingPrice,
			ProRataShare:      decimal.NewFromInt(1),
			TimePriorityRank:  0,
		})
	}

	tiedAllocated := decimal.Zero
	for rank, b := range tied {
		award := awards[b.BidID]
		tiedAllocated = tiedAllocated.Add(award)
		share := decimal.Zero
		if !b.Quantity.IsZero() {
			share = award.Div(b.Quantity)
		}
		allocations = append(allocations, &Allocation{
			BidID:             b.BidID,
			BidderID:          b.BidderID,
			AllocatedQuantity: award,
			ClearingPrice:     clearingPrice,
			ProRataShare:      share,
			TimePriorityRank:  rank + 1,
		})
	}

	totalAllocated := sumAbove.Add(tiedAllocated)

	// Invariant check: Σ award ≤ available with slack bounded by
	// |tied|·ε.
	slack := epsilonPerTiedBid.Mul(decimal.NewFromInt(int64(len(tied))))
	if totalAllocated.Sub(available).GreaterThan(slack) {
		return nil, errs.New(errs.ClearingInvariant, "clearing.over_allocated",
			"clearing allocated more than available supply")
	}

	result := &ClearingResult{
		ClearingPrice:  clearingPrice,
		Allocations:    allocations,
		TotalAllocated: totalAllocated,
		UnfilledDemand: totalDemand.Sub(totalAllocated),
	}
	a.finishClearing(allocations)
	return result, nil
}

// augmentedTieBreak runs pro-rata + time-priority rationing of the
// rationed tier, with the marginal-bid eviction fixpoint loop bounded at
// len(tied) iterations, since every pass that does not settle evicts at
// least one tied bid.
func augmentedTieBreak(tied []*Bid, remaining decimal.Decimal, tb TieBreaking) map[string]decimal.Decimal {
	awards := make(map[string]decimal.Decimal, len(tied))
	for _, b := range tied {
		awards[b.BidID] = decimal.Zero
	}

	active := make([]*Bid, len(tied))
	copy(active, tied)

	maxIterations := len(tied)
	if maxIterations == 0 {
		return awards
	}

	for iter := 0; iter < maxIterations; iter++ {
		if len(active) == 0 {
			break
		}

		qActive := decimal.Zero
		for _, b := range active {
			qActive = qActive.Add(b.Quantity)
		}

		round := make(map[string]decimal.Decimal, len(active))

		if !qActive.IsZero() {
			proRataPart := remaining.Mul(tb.ProRataWeight)
			timePart := remaining.Mul(tb.TimePriorityWeight)

			distributed := decimal.Zero
			for i, b := range active {
				proRataAward := proRataPart.Mul(b.Quantity).Div(qActive)
				if i == len(active)-1 {
					// The last bid takes what division rounding left over, so
					// the whole pro-rata part is handed out.
					proRataAward = proRataPart.Sub(distributed)
				}
				distributed = distributed.Add(proRataAward)
				round[b.BidID] = proRataAward
			}

			// Time priority: active is already in (timestamp asc) order,
			// a subset of the canonically-sorted tied tier.
			left := timePart
			for _, b := range active {
				if left.LessThanOrEqual(decimal.Zero) {
					break
				}
				already := round[b.BidID]
				capRemaining := b.Quantity.Sub(already)
				if capRemaining.IsNegative() {
					capRemaining = decimal.Zero
				}
				give := left
				if give.GreaterThan(capRemaining) {
					give = capRemaining
				}
				round[b.BidID] = already.Add(give)
				left = left.Sub(give)
			}
		}

		// Clip to each bid's requested quantity.
		for _, b := range active {
			if round[b.BidID].GreaterThan(b.Quantity) {
				round[b.BidID] = b.Quantity
			}
		}

		// Marginal bid rule: evict any marginal bid awarded less than its
		// minimum, redistributing its share on the next iteration.
		var evicted []*Bid
		var survivors []*Bid
		for _, b := range active {
			if b.IsMarginal && round[b.BidID].LessThan(b.MinQuantity) {
				evicted = append(evicted, b)
			} else {
				survivors = append(survivors, b)
			}
		}

		if len(evicted) == 0 {
			for _, b := range active {
				awards[b.BidID] = round[b.BidID]
			}
			break
		}

		for _, b := range evicted {
			awards[b.BidID] = decimal.Zero
		}
		active = survivors

		if iter == maxIterations-1 {
			// Last permitted iteration: award whatever the survivors'
			// most recent round computed, since another eviction pass
			// would exceed the documented bound.
			for _, b := range active {
				awards[b.BidID] = round[b.BidID]
			}
		}
	}

	return awards
}
