package phantom

import (
	"sort"

	"github.com/shopspring/decimal"
)

// sortedByPriceDesc orders revealed records by price desc, then by commit
// time asc, mirroring the clearing engine's canonical ordering.
func sortedByPriceDesc(records []*commitRecord) []*commitRecord {
	out := make([]*commitRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].CommittedAt.Before(out[j].CommittedAt)
	})
	return out
}

// resolveVickrey implements the single-unit Vickrey rule: the highest
// bidder wins its own revealed quantity, capped at base_quantity, and pays
// the second-highest revealed price, or base_price if only one bid revealed.
func resolveVickrey(records []*commitRecord, basePrice, baseQuantity decimal.Decimal) *ImprovedPrice {
	sorted := sortedByPriceDesc(records)
	winner := sorted[0]

	pay := basePrice
	if len(sorted) > 1 {
		pay = sorted[1].Price
	}

	qty := winner.Quantity
	if qty.GreaterThan(baseQuantity) {
		qty = baseQuantity
	}

	return &ImprovedPrice{
		Price:     pay,
		Quantity:  qty,
		Mechanism: MechanismVickrey,
		Winners: []Allocation{
			{BidderID: winner.BidderID, Quantity: qty, Price: pay},
		},
	}
}

// resolveUniformPrice finds the uniform price clearing revealed demand
// against the fixed base_quantity, using the same walk-and-accumulate
// approach as the main clearing engine but against a
// flat (non-elastic) supply of base_quantity.
func resolveUniformPrice(records []*commitRecord, baseQuantity decimal.Decimal) *ImprovedPrice {
	sorted := sortedByPriceDesc(records)

	cum := decimal.Zero
	clearingIdx := -1
	for i, rec := range sorted {
		cum = cum.Add(rec.Quantity)
		if cum.GreaterThanOrEqual(baseQuantity) {
			clearingIdx = i
			break
		}
	}

	if clearingIdx == -1 {
		// Demand never reaches base_quantity; every revealed bid wins at
		// the lowest revealed price.
		lowest := sorted[len(sorted)-1].Price
		winners := make([]Allocation, 0, len(sorted))
		total := decimal.Zero
		for _, rec := range sorted {
			winners = append(winners, Allocation{BidderID: rec.BidderID, Quantity: rec.Quantity, Price: lowest})
			total = total.Add(rec.Quantity)
		}
		return &ImprovedPrice{Price: lowest, Quantity: total, Mechanism: MechanismUniformPrice, Winners: winners}
	}

	clearingPrice := sorted[clearingIdx].Price
	allocated := decimal.Zero
	winners := make([]Allocation, 0, clearingIdx+1)
	for i := 0; i <= clearingIdx; i++ {
		rec := sorted[i]
		qty := rec.Quantity
		remainingCap := baseQuantity.Sub(allocated)
		if qty.GreaterThan(remainingCap) {
			qty = remainingCap
		}
		if qty.IsZero() {
			continue
		}
		winners = append(winners, Allocation{BidderID: rec.BidderID, Quantity: qty, Price: clearingPrice})
		allocated = allocated.Add(qty)
	}

	return &ImprovedPrice{Price: clearingPrice, Quantity: allocated, Mechanism: MechanismUniformPrice, Winners: winners}
}

// resolveDiscriminatory fills winners in price-desc order up to
// base_quantity, each paying their own revealed price; the reported
// improved price is the quantity-weighted average of what winners pay.
func resolveDiscriminatory(records []*commitRecord, baseQuantity decimal.Decimal) *ImprovedPrice {
	sorted := sortedByPriceDesc(records)

	allocated := decimal.Zero
	var winners []Allocation
	weightedSum := decimal.Zero
	for _, rec := range sorted {
		if allocated.GreaterThanOrEqual(baseQuantity) {
			break
		}
		qty := rec.Quantity
		remainingCap := baseQuantity.Sub(allocated)
		if qty.GreaterThan(remainingCap) {
			qty = remainingCap
		}
		if qty.IsZero() {
			continue
		}
		winners = append(winners, Allocation{BidderID: rec.BidderID, Quantity: qty, Price: rec.Price})
		weightedSum = weightedSum.Add(rec.Price.Mul(qty))
		allocated = allocated.Add(qty)
	}

	if allocated.IsZero() {
		return nil
	}

	avgPrice := weightedSum.Div(allocated)
	return &ImprovedPrice{Price: avgPrice, Quantity: allocated, Mechanism: MechanismDiscriminatory, Winners: winners}
}
