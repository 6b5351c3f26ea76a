package settlement

import (
	"context"
	"time"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// runValidate re-checks the invariants prepare already established,
// guarding against a batch whose settlements mutated between prepare and
// execute (e.g. a deadline that elapsed while the batch waited).
func (e *Executor) runValidate(_ context.Context, batch *SettlementBatch) *errs.Error {
	if len(batch.Settlements) == 0 {
		return errs.New(errs.InvalidInput, "settlement.empty_batch", "batch has no settlements")
	}
	now := time.Now()
	for _, s := range batch.Settlements {
		if !s.Deadline.IsZero() && s.Deadline.Before(now) {
			return errs.New(errs.Stale, "settlement.deadline_elapsed", "settlement "+s.SettlementID+": deadline elapsed before execute")
		}
	}
	return nil
}

// runLockLiquidity acquires the locks for every distinct pool the batch
// touches, so a concurrently executing batch sharing a pool serializes
// behind this one.
func (e *Executor) runLockLiquidity(_ context.Context, batch *SettlementBatch) *errs.Error {
	keys := make([]string, 0, len(batch.Settlements))
	for _, s := range batch.Settlements {
		keys = append(keys, poolKey(s.TokenIn, s.TokenOut))
	}
	batch.lockedPools = e.locks.Lock(keys)
	return nil
}

// runExecuteSwaps runs each settlement's swap through the Bridge in
// order. A failure partway through leaves
// batch.swappedIdx holding exactly the indices that completed, so the
// compensation only reverts those and never touches settlements that
// were never attempted.
func (e *Executor) runExecuteSwaps(ctx context.Context, batch *SettlementBatch) *errs.Error {
	for i, s := range batch.Settlements {
		exec, err := e.bridge.Execute(ctx, s.TokenIn, s.TokenOut, s.AmountIn, e.cfg.MaxSlippageTolerance)
		if err != nil {
			return errs.Wrap(errs.Transient, "settlement.swap_failed", err)
		}
		s.actualAmountOut = exec.AmountOut
		batch.swappedIdx = append(batch.swappedIdx, i)
	}
	return nil
}

// runTransferTokens marks each settlement's output as delivered to its
// user. Token custody and delivery are owned by whatever wallet/ledger
// system sits behind the engine; this step only records that the
// transfer step of the saga ran, so it can be compensated.
func (e *Executor) runTransferTokens(_ context.Context, batch *SettlementBatch) *errs.Error {
	for i := range batch.Settlements {
		batch.transferredIdx = append(batch.transferredIdx, i)
	}
	return nil
}

// runUpdateReserves marks that the reserve update step ran after all swaps
// landed. The Bridge itself already updates reserves synchronously inside
// Execute; this step does not query the Bridge, it is only the saga's
// checkpoint before records are written.
func (e *Executor) runUpdateReserves(_ context.Context, batch *SettlementBatch) *errs.Error {
	batch.reservesUpdated = true
	return nil
}

// runRecordSettlements durably writes every settlement to the record
// store.
func (e *Executor) runRecordSettlements(ctx context.Context, batch *SettlementBatch) *errs.Error {
	for i, s := range batch.Settlements {
		if err := e.store.Put(ctx, s.SettlementID, s); err != nil {
			return errs.Wrap(errs.Transient, "settlement.record_failed", err)
		}
		batch.recordedIdx = append(batch.recordedIdx, i)
	}
	return nil
}

// compensateClearRecords deletes every record written by
// runRecordSettlements. Delete is idempotent, so this is safe even if a
// previous unwind attempt partially ran. Returns false if any delete
// failed, leaving a stale record behind.
func (e *Executor) compensateClearRecords(ctx context.Context, batch *SettlementBatch) bool {
	ok := true
	remaining := batch.recordedIdx[:0]
	for _, i := range batch.recordedIdx {
		if err := e.store.Delete(ctx, batch.Settlements[i].SettlementID); err != nil {
			e.log.Warn().Err(err).Str("settlement_id", batch.Settlements[i].SettlementID).Msg("clear_records compensation failed")
			ok = false
			remaining = append(remaining, i)
			continue
		}
	}
	batch.recordedIdx = remaining
	return ok
}

// compensateRevertReserves undoes the update_reserves checkpoint. The
// Bridge's reserves were already mutated by Execute and cannot be
// unwound without a reverse trade; this step only clears the checkpoint
// flag so a retry does not believe reconciliation already happened.
func (e *Executor) compensateRevertReserves(batch *SettlementBatch) {
	batch.reservesUpdated = false
}

// compensateRevertTransfers marks every transfer_tokens checkpoint as
// undone.
func (e *Executor) compensateRevertTransfers(batch *SettlementBatch) {
	batch.transferredIdx = nil
}

// compensateRevertSwaps reverses every settlement whose swap completed,
// in reverse completion order. Reversing an executed AMM trade means
// routing the inverse swap back through the Bridge. A failure here
// leaves a forward swap with no matching reverse — real funds moved
// with no saga-level undo — so it is reported, not just logged.
func (e *Executor) compensateRevertSwaps(ctx context.Context, batch *SettlementBatch) bool {
	ok := true
	var stuck []int
	for i := len(batch.swappedIdx) - 1; i >= 0; i-- {
		idx := batch.swappedIdx[i]
		s := batch.Settlements[idx]
		if _, err := e.bridge.Execute(ctx, s.TokenOut, s.TokenIn, s.actualAmountOut, e.cfg.MaxSlippageTolerance); err != nil {
			e.log.Warn().Err(err).Str("settlement_id", s.SettlementID).Msg("revert_swaps compensation failed")
			ok = false
			stuck = append(stuck, idx)
			continue
		}
	}
	batch.swappedIdx = stuck
	return ok
}

// compensateUnlockLiquidity releases every pool lock runLockLiquidity
// acquired.
func (e *Executor) compensateUnlockLiquidity(batch *SettlementBatch) {
	e.locks.Unlock(batch.lockedPools)
	batch.lockedPools = nil
}
