package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sambacha/julia-auction/internal/metrics"
	"github.com/sambacha/julia-auction/internal/router"
	"github.com/sambacha/julia-auction/pkg/errs"
	"github.com/sambacha/julia-auction/pkg/recordstore"
)

// stepName indexes the six forward steps of the saga, in execution
// order. The zero value, stepValidate, is never compensated.
type stepName int

const (
	stepValidate stepName = iota
	stepLockLiquidity
	stepExecuteSwaps
	stepTransferTokens
	stepUpdateReserves
	stepRecordSettlements
	stepCount
)

func (s stepName) String() string {
	switch s {
	case stepValidate:
		return "validate"
	case stepLockLiquidity:
		return "lock_liquidity"
	case stepExecuteSwaps:
		return "execute_swaps"
	case stepTransferTokens:
		return "transfer_tokens"
	case stepUpdateReserves:
		return "update_reserves"
	case stepRecordSettlements:
		return "record_settlements"
	default:
		return "unknown"
	}
}

// Executor runs prepare/execute sagas over batches. Each settlement's
// swap runs through a Bridge; settlement records are
// durably written through a recordstore.Store so clear_records
// compensations have something to act on. Nothing reads the records back
// after a restart.
type Executor struct {
	cfg     Config
	bridge  router.Bridge
	store   recordstore.Store
	locks   *liquidityLockManager
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	batches map[string]*SettlementBatch
}

// New constructs an Executor. m may be nil, in which case metrics
// recording is skipped.
func New(cfg Config, bridge router.Bridge, store recordstore.Store, m *metrics.Metrics, log zerolog.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		bridge:  bridge,
		store:   store,
		locks:   newLiquidityLockManager(),
		log:     log,
		metrics: m,
		batches: make(map[string]*SettlementBatch),
	}
}

func (e *Executor) register(batch *SettlementBatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches[batch.BatchID] = batch
}

// Batch returns the batch registered under id, if any.
func (e *Executor) Batch(batchID string) (*SettlementBatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.batches[batchID]
	return b, ok
}

// Execute runs the saga for a previously prepared (StatusReady) batch.
// On success the batch reaches StatusCompleted. On failure, every
// completed step is compensated in reverse order and the batch reaches
// StatusFailed — unless the failure is Transient and the batch has
// retries remaining, in which case it is reset to StatusReady for the
// caller to retry.
func (e *Executor) Execute(ctx context.Context, batchID string) (*SettlementBatch, *errs.Error) {
	batch, ok := e.Batch(batchID)
	if !ok {
		return nil, errs.New(errs.NotFound, "settlement.unknown_batch", "no such batch")
	}
	if batch.Status != StatusReady {
		return batch, errs.New(errs.Stale, "settlement.not_ready", "batch is not in the ready state")
	}
	batch.Status = StatusExecuting
	start := time.Now()

	steps := [stepCount]func(context.Context, *SettlementBatch) *errs.Error{
		stepValidate:          e.runValidate,
		stepLockLiquidity:     e.runLockLiquidity,
		stepExecuteSwaps:      e.runExecuteSwaps,
		stepTransferTokens:    e.runTransferTokens,
		stepUpdateReserves:    e.runUpdateReserves,
		stepRecordSettlements: e.runRecordSettlements,
	}

	// lastRun tracks the step that just ran whether it succeeded or failed:
	// a step can fail after producing partial side effects (e.g.
	// execute_swaps failing on settlement 2 after settlement 1's swap
	// already landed), and those partial effects must still be unwound.
	lastRun := stepName(-1)
	var stepErr *errs.Error
	for i := stepName(0); i < stepCount; i++ {
		err := steps[i](ctx, batch)
		lastRun = i
		if err != nil {
			stepErr = err
			break
		}
	}

	if stepErr == nil {
		// Release the pool locks so a batch waiting on a shared pool runs.
		e.locks.Unlock(batch.lockedPools)
		batch.lockedPools = nil
		batch.Status = StatusCompleted
		e.recordSettlement(batch.Status, start)
		return batch, nil
	}

	if !e.unwind(ctx, batch, lastRun) {
		batch.Status = StatusFailed
		batch.Error = errs.Wrap(errs.AtomicityViolation, "settlement.unwind_incomplete", stepErr)
		e.recordSettlement(batch.Status, start)
		return batch, batch.Error
	}
	batch.Error = stepErr

	if stepErr.Kind.Retryable() && batch.Retries < e.cfg.MaxRetries {
		batch.Retries++
		batch.Status = StatusReady
		if e.metrics != nil {
			e.metrics.RecordRetry()
		}
		e.recordSettlement(batch.Status, start)
		return batch, stepErr
	}

	batch.Status = StatusFailed
	e.recordSettlement(batch.Status, start)
	return batch, stepErr
}

func (e *Executor) recordSettlement(status Status, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordSettlement(string(status), time.Since(start))
	}
}

// unwind compensates every step up to and including lastCompleted, in
// reverse order: clear_records -> revert_reserves -> revert_transfers ->
// revert_swaps -> unlock_liquidity. Reports whether every compensation
// fully undid its step; a false return means the batch was left in a
// partial state (e.g. a forward swap with no matching reverse) and the
// caller must treat this as an atomicity violation rather than a plain
// step failure.
func (e *Executor) unwind(ctx context.Context, batch *SettlementBatch, lastCompleted stepName) bool {
	ok := true
	for i := lastCompleted; i >= 0; i-- {
		switch i {
		case stepRecordSettlements:
			ok = e.compensateClearRecords(ctx, batch) && ok
		case stepUpdateReserves:
			e.compensateRevertReserves(batch)
		case stepTransferTokens:
			e.compensateRevertTransfers(batch)
		case stepExecuteSwaps:
			ok = e.compensateRevertSwaps(ctx, batch) && ok
		case stepLockLiquidity:
			e.compensateUnlockLiquidity(batch)
		case stepValidate:
			// nothing to undo
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordCompensation(i.String())
		}
	}
	return ok
}
