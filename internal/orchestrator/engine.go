package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/internal/auction"
	"github.com/sambacha/julia-auction/internal/coordinator"
	"github.com/sambacha/julia-auction/internal/metrics"
	"github.com/sambacha/julia-auction/internal/phantom"
	"github.com/sambacha/julia-auction/internal/router"
	"github.com/sambacha/julia-auction/internal/settlement"
	"github.com/sambacha/julia-auction/pkg/errs"
)

// Market names the token pair an auction's winning allocations settle
// through, since clearing itself operates on bare price/quantity.
type Market struct {
	BaseToken  string
	QuoteToken string
	Bridge     string // name registered in the Engine's router.Registry
}

// Config wires the Engine's component defaults.
type Config struct {
	AuctionConfig      auction.Config
	CoordinatorConfig  coordinator.Config
	SettlementConfig   settlement.Config
	DefaultBridgeName  string
}

// DefaultConfig returns sensible defaults for every wired component.
func DefaultConfig() Config {
	return Config{
		AuctionConfig:     auction.DefaultConfig(),
		CoordinatorConfig: coordinator.DefaultConfig(),
		SettlementConfig:  settlement.DefaultConfig(),
		DefaultBridgeName: "local",
	}
}

// Engine is the facade exposing the auction lifecycle as function-level
// contracts: CreateAuction, SubmitBid, CancelBid, RunAuction,
// RegisterParticipant, Heartbeat. There is no separate Settle method:
// RunAuction clears and settles in one call.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	coord    *coordinator.Coordinator
	executor *settlement.Executor
	bridges  *router.Registry

	mu       sync.Mutex
	auctions map[string]*auction.Auction
	markets  map[string]Market
	runs     map[string]*Run

	drain atomic.Bool
}

// New wires an Engine over already-constructed shared components: a
// Transport for the coordinator, a Store for the executor, and whichever
// Bridges are registered under names CreateAuction's Market.Bridge refers
// to. m may be nil, in which case metrics recording is skipped throughout
// the engine and the components it constructs.
func New(cfg Config, transport coordinator.Transport, bridges *router.Registry, store settlementStore, m *metrics.Metrics, log zerolog.Logger) *Engine {
	coord := coordinator.New(cfg.CoordinatorConfig, transport, m, log)
	// the executor needs one Bridge, not the registry; RunAuction resolves
	// the market's named bridge per call instead, so the executor here is
	// built against whichever bridge DefaultBridgeName names if present.
	defaultBridge, _ := bridges.Get(cfg.DefaultBridgeName)
	exec := settlement.New(cfg.SettlementConfig, defaultBridge, store, m, log)
	return &Engine{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		coord:    coord,
		executor: exec,
		bridges:  bridges,
		auctions: make(map[string]*auction.Auction),
		markets:  make(map[string]Market),
		runs:     make(map[string]*Run),
	}
}

// settlementStore is recordstore.Store, named locally to avoid importing
// pkg/recordstore just for this one parameter type.
type settlementStore interface {
	Put(ctx context.Context, settlementID string, record any) error
	Get(ctx context.Context, settlementID string, out any) (bool, error)
	Delete(ctx context.Context, settlementID string) error
}

// DrainMode reports whether an unrecovered AtomicityViolation has flipped
// the engine into rejecting new settlements.
func (e *Engine) DrainMode() bool {
	return e.drain.Load()
}

// CreateAuction registers a new Auction under the given market and
// returns its id.
func (e *Engine) CreateAuction(mechanism auction.Mechanism, reserve decimal.Decimal, supply auction.SupplySchedule,
	tieBreaking auction.TieBreaking, duration time.Duration, market Market) (string, *errs.Error) {

	if e.DrainMode() {
		return "", errs.New(errs.Stale, "orchestrator.draining", "engine is in drain mode, rejecting new auctions")
	}

	a := auction.New(mechanism, reserve, supply, tieBreaking, duration, e.cfg.AuctionConfig)

	e.mu.Lock()
	e.auctions[a.AuctionID] = a
	e.markets[a.AuctionID] = market
	e.mu.Unlock()

	return a.AuctionID, nil
}

func (e *Engine) getAuction(auctionID string) (*auction.Auction, Market, *errs.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.auctions[auctionID]
	if !ok {
		return nil, Market{}, errs.New(errs.NotFound, "orchestrator.unknown_auction", "no such auction")
	}
	return a, e.markets[auctionID], nil
}

// SubmitBid forwards to the named auction's SubmitBid.
func (e *Engine) SubmitBid(auctionID, bidderID string, quantity, price decimal.Decimal, isMarginal bool, minQuantity decimal.Decimal, metadata map[string]string) (string, *errs.Error) {
	a, _, err := e.getAuction(auctionID)
	if err != nil {
		return "", err
	}
	bidID, err := a.SubmitBid(bidderID, quantity, price, isMarginal, minQuantity, metadata)
	if err == nil && e.metrics != nil {
		priceFloat, _ := price.Float64()
		e.metrics.RecordBid(auctionID, priceFloat)
	}
	return bidID, err
}

// CancelBid forwards to the named auction's CancelBid.
func (e *Engine) CancelBid(auctionID, bidID string) *errs.Error {
	a, _, err := e.getAuction(auctionID)
	if err != nil {
		return err
	}
	return a.CancelBid(bidID)
}

// RegisterParticipant forwards to the Coordinator.
func (e *Engine) RegisterParticipant(address string, weight decimal.Decimal) (string, *errs.Error) {
	return e.coord.RegisterParticipant(address, weight)
}

// Heartbeat forwards to the Coordinator.
func (e *Engine) Heartbeat(participantID string) *errs.Error {
	return e.coord.Heartbeat(participantID)
}

// Run returns the orchestration run recorded for auctionID, if any.
func (e *Engine) Run(auctionID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[auctionID]
	return r, ok
}

// RunAuction executes the full settlement pipeline for auctionID: clear,
// optionally improve via a phantom round, quote routes, coordinate a
// vote, and execute the resulting settlement batch, walking the
// Prepared -> Improved -> Routed -> Voted -> Executing -> {Settled,
// RolledBack} state machine. phantomAuction may be nil to skip price
// improvement entirely (Improved becomes a no-op transition).
func (e *Engine) RunAuction(ctx context.Context, auctionID string, phantomAuction *phantom.Auction) (*Run, *errs.Error) {
	if e.DrainMode() {
		return nil, errs.New(errs.Stale, "orchestrator.draining", "engine is in drain mode, rejecting new settlements")
	}

	a, market, gerr := e.getAuction(auctionID)
	if gerr != nil {
		return nil, gerr
	}

	clearStart := time.Now()
	result, err := auction.Clear(a)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordAuction(string(a.Type), "error", time.Since(clearStart), 0, 0)
		}
		return nil, err
	}
	if e.metrics != nil {
		clearingPriceFloat, _ := result.ClearingPrice.Float64()
		unfilledFloat, _ := result.UnfilledDemand.Float64()
		outcome := "cleared"
		if len(result.Allocations) == 0 {
			outcome = "no_allocations"
		}
		e.metrics.RecordAuction(string(a.Type), outcome, time.Since(clearStart), clearingPriceFloat, unfilledFloat)
	}

	run := newRun(auctionID)
	e.mu.Lock()
	e.runs[auctionID] = run
	e.mu.Unlock()

	clearingPrice := result.ClearingPrice
	if phantomAuction != nil {
		improved, perr := phantomAuction.Resolve()
		if e.metrics != nil {
			outcome := "no_improvement"
			var bps float64
			if perr == nil && improved != nil {
				outcome = "improved"
				if !clearingPrice.IsZero() {
					improvementBps := improved.Price.Sub(clearingPrice).Div(clearingPrice).Mul(decimal.NewFromInt(10_000))
					bps, _ = improvementBps.Float64()
				}
			} else if !phantomAuction.QuorumMet() {
				outcome = "quorum_not_met"
			}
			e.metrics.RecordPhantomRound(string(a.Type), outcome, bps)
		}
		if perr == nil && improved != nil {
			clearingPrice = improved.Price
		}
	}
	if tErr := run.transition(StateImproved); tErr != nil {
		return run, tErr
	}

	if len(result.Allocations) == 0 {
		// Nothing won; there is nothing to route, vote on, or execute.
		_ = run.transition(StateRouted)
		_ = run.transition(StateVoted)
		_ = run.transition(StateExecuting)
		_ = run.transition(StateSettled)
		return run, nil
	}

	bridge, ok := e.bridges.Get(market.Bridge)
	if !ok {
		run.Error = errs.New(errs.NotFound, "orchestrator.unknown_bridge", fmt.Sprintf("no bridge registered as %q", market.Bridge))
		_ = run.transition(StateRolledBack)
		return run, run.Error
	}

	batch := &settlement.SettlementBatch{BatchID: auctionID}
	for _, alloc := range result.Allocations {
		quote, qerr := bridge.Quote(ctx, market.QuoteToken, market.BaseToken, alloc.AllocatedQuantity.Mul(clearingPrice), decimal.NewFromFloat(0.01))
		if qerr != nil {
			run.Error = errs.Wrap(errs.Transient, "orchestrator.quote_failed", qerr)
			_ = run.transition(StateRolledBack)
			return run, run.Error
		}
		batch.Settlements = append(batch.Settlements, &settlement.Settlement{
			SettlementID:      alloc.BidID,
			User:              alloc.BidderID,
			TokenIn:           market.QuoteToken,
			TokenOut:          market.BaseToken,
			AmountIn:          alloc.AllocatedQuantity.Mul(clearingPrice),
			ExpectedAmountOut: quote.AmountOut,
			Route:             quote.Path,
			GasEstimate:       quote.GasEstimate,
		})
	}
	if tErr := run.transition(StateRouted); tErr != nil {
		return run, tErr
	}

	outcome, cerr := e.coord.Coordinate(ctx, coordinator.Transaction{TxID: auctionID, Payload: batch})
	if cerr != nil || outcome.Outcome != coordinator.OutcomeCommitted {
		run.Error = cerr
		_ = run.transition(StateRolledBack)
		return run, cerr
	}
	if tErr := run.transition(StateVoted); tErr != nil {
		return run, tErr
	}

	if tErr := run.transition(StateExecuting); tErr != nil {
		return run, tErr
	}

	if perr := e.executor.Prepare(ctx, batch); perr != nil {
		run.Error = perr
		_ = run.transition(StateRolledBack)
		return run, perr
	}
	final, xerr := e.executor.Execute(ctx, batch.BatchID)
	if xerr != nil {
		run.Error = xerr
		if xerr.Kind == errs.AtomicityViolation {
			e.drain.Store(true)
		}
		_ = run.transition(StateRolledBack)
		return run, xerr
	}
	if final.Status != settlement.StatusCompleted {
		run.Error = errs.New(errs.ConsensusFailed, "orchestrator.settlement_incomplete", "settlement batch did not reach completed")
		_ = run.transition(StateRolledBack)
		return run, run.Error
	}

	_ = run.transition(StateSettled)
	return run, nil
}
