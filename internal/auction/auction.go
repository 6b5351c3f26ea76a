package auction

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// Auction is the append-until-clearing aggregate root. Bid acceptance
// is single-writer: SubmitBid/CancelBid serialize through mu, and Clear
// takes an immutable snapshot of the bid slice.
type Auction struct {
	mu sync.Mutex

	AuctionID    string
	Type         Mechanism
	ReservePrice decimal.Decimal
	Supply       SupplySchedule
	TieBreaking  TieBreaking
	Status       Status
	CreatedAt    time.Time
	EndsAt       time.Time

	bids       []*Bid
	seenBidIDs map[string]struct{}
	nextTS     int64 // monotonic per-auction timestamp counter

	WinningAllocations []*Allocation

	limiter *rate.Limiter
}

// Config configures a new Auction's intake limits.
type Config struct {
	// SubmitRateLimit caps accepted bids per second; 0 disables limiting.
	SubmitRateLimit rate.Limit
	// SubmitBurst caps the burst of bids accepted instantaneously.
	SubmitBurst int
}

// DefaultConfig returns a generous default: 500 bids/sec, burst 50.
func DefaultConfig() Config {
	return Config{SubmitRateLimit: 500, SubmitBurst: 50}
}

// New creates a pending Auction. duration, if positive, sets EndsAt
// relative to now.
func New(mechanism Mechanism, reserve decimal.Decimal, supply SupplySchedule, tieBreaking TieBreaking, duration time.Duration, cfg Config) *Auction {
	now := time.Now()
	a := &Auction{
		AuctionID:    uuid.NewString(),
		Type:         mechanism,
		ReservePrice: reserve,
		Supply:       supply,
		TieBreaking:  tieBreaking,
		Status:       StatusPending,
		CreatedAt:    now,
		seenBidIDs:   make(map[string]struct{}),
	}
	if duration > 0 {
		a.EndsAt = now.Add(duration)
	}
	if cfg.SubmitRateLimit > 0 {
		a.limiter = rate.NewLimiter(cfg.SubmitRateLimit, cfg.SubmitBurst)
	}
	return a
}

// nextTimestamp returns a strictly increasing timestamp for this
// auction. Must be called with mu held.
func (a *Auction) nextTimestamp() int64 {
	now := time.Now().UnixNano()
	if now <= a.nextTS {
		now = a.nextTS + 1
	}
	a.nextTS = now
	return now
}

// SubmitBid validates and appends a bid, enforcing price >= reserve.
// Returns the accepted bid's id.
func (a *Auction) SubmitBid(bidderID string, quantity, price decimal.Decimal, isMarginal bool, minQuantity decimal.Decimal, metadata map[string]string) (string, *errs.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status.Terminal() || a.Status == StatusClearing {
		return "", errs.New(errs.Stale, "auction.ended", "auction has ended or is clearing")
	}
	if !a.EndsAt.IsZero() && time.Now().After(a.EndsAt) {
		return "", errs.New(errs.Stale, "auction.ended", "auction deadline has passed")
	}
	if quantity.IsNegative() || quantity.IsZero() {
		return "", errs.New(errs.InvalidInput, "bid.quantity", "quantity must be positive")
	}
	if price.IsNegative() {
		return "", errs.New(errs.InvalidInput, "bid.price", "price must be non-negative")
	}
	if price.LessThan(a.ReservePrice) {
		return "", errs.New(errs.InvalidInput, "bid.too_low", "price is below the auction reserve")
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return "", errs.New(errs.RateLimited, "bid.rate_limited", "bid submission rate exceeded").WithRetryAfter(time.Second)
	}

	bid := &Bid{
		BidID:       uuid.NewString(),
		BidderID:    bidderID,
		Quantity:    quantity,
		Price:       price,
		Timestamp:   a.nextTimestamp(),
		IsMarginal:  isMarginal,
		MinQuantity: minQuantity,
		Metadata:    metadata,
	}

	a.seenBidIDs[bid.BidID] = struct{}{}
	a.bids = append(a.bids, bid)

	if a.Status == StatusPending {
		a.Status = StatusActive
	}

	return bid.BidID, nil
}

// CancelBid removes a bid by id. Not allowed once clearing has
// produced allocations.
func (a *Auction) CancelBid(bidID string) *errs.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Status == StatusCompleted || a.Status == StatusClearing {
		return errs.New(errs.Stale, "bid.already_cleared", "auction has already cleared")
	}

	for i, b := range a.bids {
		if b.BidID == bidID {
			a.bids = append(a.bids[:i], a.bids[i+1:]...)
			delete(a.seenBidIDs, bidID)
			return nil
		}
	}
	return errs.New(errs.NotFound, "bid.not_found", "no such bid")
}

// Snapshot returns an immutable copy of the current bid set, the
// the rule that readers take an immutable snapshot at clearing time.
func (a *Auction) Snapshot() []*Bid {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Bid, len(a.bids))
	copy(out, a.bids)
	return out
}

// BidCount reports how many bids are currently accepted.
func (a *Auction) BidCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bids)
}

// beginClearing transitions the auction to clearing, refusing if it is
// already terminal.
func (a *Auction) beginClearing() *errs.Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Status.Terminal() {
		return errs.New(errs.Stale, "auction.cleared", "auction already reached a terminal state")
	}
	if a.Status == StatusClearing {
		return errs.New(errs.Stale, "auction.clearing", "auction is already clearing")
	}
	a.Status = StatusClearing
	return nil
}

// finishClearing records the result and marks the auction completed.
func (a *Auction) finishClearing(allocations []*Allocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.WinningAllocations = allocations
	a.Status = StatusCompleted
}

// Cancel transitions a non-terminal auction to cancelled.
func (a *Auction) Cancel() *errs.Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Status.Terminal() {
		return errs.New(errs.Stale, "auction.terminal", "auction already in a terminal state")
	}
	a.Status = StatusCancelled
	return nil
}
