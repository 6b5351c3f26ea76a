package auction

import (
	"math"

	"github.com/shopspring/decimal"
)

// ElasticityType selects the supply curve shape.
type ElasticityType string

const (
	ElasticityLinear      ElasticityType = "linear"
	ElasticityExponential ElasticityType = "exponential"
	ElasticityLogarithmic ElasticityType = "logarithmic"
	ElasticitySigmoid     ElasticityType = "sigmoid"
)

// SupplySchedule maps price to available quantity.
// S(price_floor) = BaseQuantity; S is monotonically non-decreasing on
// [PriceFloor, PriceCeiling]; S(p) never exceeds BaseQuantity *
// MaxMultiplier.
//
// The curve shapes (exp, log, logistic) have no decimal-native
// implementation, so the schedule computes in float64 and rounds back to
// decimal at the boundary — the one place in this package that crosses
// to float, kept isolated to this single conversion point.
type SupplySchedule struct {
	BaseQuantity     decimal.Decimal
	PriceFloor       decimal.Decimal
	PriceCeiling     decimal.Decimal
	ElasticityType   ElasticityType
	ElasticityFactor float64
	MaxMultiplier    float64
}

// Quantity returns S(price): the available quantity at the given price.
func (s SupplySchedule) Quantity(price decimal.Decimal) decimal.Decimal {
	base, _ := s.BaseQuantity.Float64()
	floor, _ := s.PriceFloor.Float64()
	ceiling, _ := s.PriceCeiling.Float64()
	p, _ := price.Float64()

	if p <= floor {
		return s.BaseQuantity
	}

	span := ceiling - floor
	if span <= 0 {
		span = 1 // degenerate schedule: treat as a single price point
	}
	x := (p - floor) / span
	if x > 1 {
		x = 1
	}

	var multiplier float64
	switch s.ElasticityType {
	case ElasticityExponential:
		multiplier = math.Exp(s.ElasticityFactor * x)
	case ElasticityLogarithmic:
		multiplier = 1 + s.ElasticityFactor*math.Log(1+x)
	case ElasticitySigmoid:
		// logistic curve from 1 (at x=0) toward MaxMultiplier (as x->1),
		// steepness controlled by ElasticityFactor, centered at x=0.5.
		logistic := 1 / (1 + math.Exp(-s.ElasticityFactor*(x-0.5)))
		logisticAtZero := 1 / (1 + math.Exp(s.ElasticityFactor*0.5))
		logisticAtOne := 1 / (1 + math.Exp(-s.ElasticityFactor*0.5))
		span := logisticAtOne - logisticAtZero
		if span <= 0 {
			multiplier = 1
		} else {
			frac := (logistic - logisticAtZero) / span
			multiplier = 1 + frac*(s.MaxMultiplier-1)
		}
	default: // linear
		multiplier = 1 + s.ElasticityFactor*x
	}

	if s.MaxMultiplier > 0 && multiplier > s.MaxMultiplier {
		multiplier = s.MaxMultiplier
	}
	if multiplier < 1 {
		multiplier = 1
	}

	return decimal.NewFromFloat(base * multiplier)
}

// EffectiveFloor returns the higher of PriceFloor and reserve: the
// clearing price never settles below whichever of the two is higher.
func (s SupplySchedule) EffectiveFloor(reservePrice decimal.Decimal) decimal.Decimal {
	if reservePrice.GreaterThan(s.PriceFloor) {
		return reservePrice
	}
	return s.PriceFloor
}

// inversionSteps bounds the bisection search PriceForQuantity runs;
// decimal's default division precision (16 digits) is exhausted well
// before this many halvings of any realistic [low, high] price span.
const inversionSteps = 64

// PriceForQuantity returns the lowest price in [low, high] at which S(p)
// is at least target, via bisection over S (monotonically non-decreasing
// by construction). Callers must ensure S(low) < target <= S(high).
func (s SupplySchedule) PriceForQuantity(target, low, high decimal.Decimal) decimal.Decimal {
	two := decimal.NewFromInt(2)
	for i := 0; i < inversionSteps; i++ {
		mid := low.Add(high).Div(two)
		if s.Quantity(mid).GreaterThanOrEqual(target) {
			high = mid
		} else {
			low = mid
		}
	}
	return high
}
