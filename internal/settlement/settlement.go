// Package settlement implements a batched saga-style executor: batch
// validation (prepare) followed by a forward step sequence with
// reverse-order compensations on failure.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// Status is a SettlementBatch's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Settlement is one swap within a batch.
type Settlement struct {
	SettlementID       string
	User               string
	TokenIn            string
	TokenOut           string
	AmountIn           decimal.Decimal
	ExpectedAmountOut  decimal.Decimal
	Route              []string
	GasEstimate        uint64
	Deadline           time.Time

	actualAmountOut decimal.Decimal
}

// SettlementBatch is an ordered group of settlements executed atomically
// as one saga.
type SettlementBatch struct {
	BatchID     string
	Settlements []*Settlement
	TotalValue  decimal.Decimal
	Status      Status
	PrepareTS   time.Time
	CommitTS    time.Time
	Retries     int
	Error       *errs.Error

	// Saga bookkeeping for compensation: which settlement indices reached
	// each step, so a partial-step failure only unwinds what ran.
	lockedPools     []string
	swappedIdx      []int
	transferredIdx  []int
	reservesUpdated bool
	recordedIdx     []int
}

// Config bounds batch validation and saga retry.
type Config struct {
	MaxBatchSize         int
	MaxRetries           int
	MaxSlippageTolerance decimal.Decimal
	MaxPriceDeviation    decimal.Decimal
	GasLimit             uint64
	CommitTimeout        time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:         50,
		MaxRetries:           2,
		MaxSlippageTolerance: decimal.NewFromFloat(0.005), // 0.5%
		MaxPriceDeviation:    decimal.NewFromFloat(0.02),  // 2%
		GasLimit:             2_000_000,
		CommitTimeout:        10 * time.Second,
	}
}
