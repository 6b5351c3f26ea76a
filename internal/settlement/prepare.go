package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// Prepare validates a batch against the executor's configured limits and
// current market conditions. On success the batch transitions to
// StatusReady and is registered for
// Execute. Every violation found is collected so the caller sees the full
// rejection reason, not just the first.
func (e *Executor) Prepare(ctx context.Context, batch *SettlementBatch) *errs.Error {
	batch.Status = StatusPreparing

	var problems []string

	if len(batch.Settlements) == 0 {
		problems = append(problems, "batch has no settlements")
	}
	if len(batch.Settlements) > e.cfg.MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch size %d exceeds max_batch_size %d", len(batch.Settlements), e.cfg.MaxBatchSize))
	}

	seen := make(map[string]struct{}, len(batch.Settlements))
	var totalGas uint64
	now := time.Now()
	for _, s := range batch.Settlements {
		if _, dup := seen[s.SettlementID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate settlement_id %q", s.SettlementID))
			continue
		}
		seen[s.SettlementID] = struct{}{}

		if len(s.Route) == 0 {
			problems = append(problems, fmt.Sprintf("settlement %s: empty route", s.SettlementID))
		}
		if !s.Deadline.IsZero() && s.Deadline.Before(now) {
			problems = append(problems, fmt.Sprintf("settlement %s: deadline already elapsed", s.SettlementID))
		}
		totalGas += s.GasEstimate

		if err := e.checkLiquidityAndPrice(ctx, s); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if totalGas > e.cfg.GasLimit {
		problems = append(problems, fmt.Sprintf("aggregate gas estimate %d exceeds gas_limit %d", totalGas, e.cfg.GasLimit))
	}

	if len(problems) > 0 {
		batch.Status = StatusFailed
		msg := problems[0]
		for _, p := range problems[1:] {
			msg += "; " + p
		}
		batch.Error = errs.New(errs.InvalidInput, "settlement.prepare_rejected", msg)
		return batch.Error
	}

	batch.Status = StatusReady
	batch.PrepareTS = now
	e.register(batch)
	return nil
}

// checkLiquidityAndPrice quotes the settlement's route and rejects it if
// the quoted output falls outside max_slippage_tolerance of what was
// expected, or if the quoted route price deviates from the current spot
// price by more than max_price_deviation.
func (e *Executor) checkLiquidityAndPrice(ctx context.Context, s *Settlement) error {
	route, err := e.bridge.Quote(ctx, s.TokenIn, s.TokenOut, s.AmountIn, e.cfg.MaxSlippageTolerance)
	if err != nil {
		return fmt.Errorf("settlement %s: quote failed: %w", s.SettlementID, err)
	}

	if s.ExpectedAmountOut.IsPositive() {
		slippage := s.ExpectedAmountOut.Sub(route.AmountOut).Div(s.ExpectedAmountOut).Abs()
		if slippage.GreaterThan(e.cfg.MaxSlippageTolerance) {
			return fmt.Errorf("settlement %s: quoted slippage %s exceeds tolerance %s", s.SettlementID, slippage, e.cfg.MaxSlippageTolerance)
		}
	}

	spot, err := e.bridge.SpotPrice(ctx, s.TokenIn, s.TokenOut)
	if err != nil {
		return fmt.Errorf("settlement %s: spot price lookup failed: %w", s.SettlementID, err)
	}
	if spot.IsPositive() {
		deviation := route.Price.Sub(spot).Div(spot).Abs()
		if deviation.GreaterThan(e.cfg.MaxPriceDeviation) {
			return fmt.Errorf("settlement %s: route price deviates %s from spot, exceeds max_price_deviation %s", s.SettlementID, deviation, e.cfg.MaxPriceDeviation)
		}
	}
	return nil
}
