// Package phantom implements a sealed-bid commit-reveal price-improvement
// auction: it runs after the base clearing price is known and before
// settlement, and may raise the execution price above base_price within
// a bounded improvement band.
package phantom

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// Mechanism selects how the improved price is computed from revealed
// bids.
type Mechanism string

const (
	MechanismVickrey        Mechanism = "vickrey"
	MechanismUniformPrice   Mechanism = "uniform_price"
	MechanismDiscriminatory Mechanism = "discriminatory"
)

// Policy configures one phantom auction run.
type Policy struct {
	Mechanism         Mechanism
	DurationMs        int64
	RevealDelayMs     int64
	MinImprovementBps int64
	MaxImprovementBps int64
	MinParticipants   int
}

// DefaultPolicy returns a conservative uniform-price policy: a 2-second
// window split evenly between commit and reveal, requiring at least 3
// participants and 1-50bps of improvement.
func DefaultPolicy() Policy {
	return Policy{
		Mechanism:         MechanismUniformPrice,
		DurationMs:        2000,
		RevealDelayMs:     1000,
		MinImprovementBps: 1,
		MaxImprovementBps: 50,
		MinParticipants:   3,
	}
}

// commitRecord is the opaque store entry created at commit time; price and
// quantity are populated only once (and if) the reveal succeeds.
type commitRecord struct {
	BidderID    string
	Commitment  []byte
	CommittedAt time.Time
	Revealed    bool
	Price       decimal.Decimal
	Quantity    decimal.Decimal
}

// Auction runs one commit/reveal/resolve cycle. It is not reusable across
// cycles; construct a new Auction per clearing round.
type Auction struct {
	mu sync.Mutex

	BasePrice    decimal.Decimal
	BaseQuantity decimal.Decimal
	Policy       Policy

	startedAt      time.Time
	commitDeadline time.Time
	revealDeadline time.Time

	commits map[string]*commitRecord // keyed by hex(commitment)
}

// New starts the commit window immediately.
func New(basePrice, baseQuantity decimal.Decimal, policy Policy) *Auction {
	now := time.Now()
	revealWindow := time.Duration(policy.RevealDelayMs) * time.Millisecond
	total := time.Duration(policy.DurationMs) * time.Millisecond
	return &Auction{
		BasePrice:      basePrice,
		BaseQuantity:   baseQuantity,
		Policy:         policy,
		startedAt:      now,
		commitDeadline: now.Add(total - revealWindow),
		revealDeadline: now.Add(total),
		commits:        make(map[string]*commitRecord),
	}
}

// Commitment hashes (bidder_id ∥ price ∥ quantity ∥ nonce) using sha256
// over the concatenated canonical field strings.
func Commitment(bidderID string, price, quantity decimal.Decimal, nonce []byte) []byte {
	return commitmentHash(bidderID, price, quantity, nonce)
}

// NewNonce returns a fresh random nonce suitable for a commitment.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// Commit records a sealed commitment during the commit window. The price
// and quantity are never inspected here.
func (a *Auction) Commit(bidderID string, commitment []byte) *errs.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.After(a.commitDeadline) {
		return errs.New(errs.Stale, "phantom.commit_window_closed", "commit window has closed")
	}

	key := hex.EncodeToString(commitment)
	if _, exists := a.commits[key]; exists {
		return errs.New(errs.InvalidInput, "phantom.duplicate_commitment", "commitment already recorded")
	}

	a.commits[key] = &commitRecord{
		BidderID:    bidderID,
		Commitment:  commitment,
		CommittedAt: now,
	}
	return nil
}

// Reveal matches a claimed (price, quantity, nonce) to its stored
// commitment and records it. The first reveal for a commitment wins;
// subsequent reveals of the same commitment are rejected as InvalidInput
// with code phantom.duplicate_reveal.
func (a *Auction) Reveal(bidderID string, price, quantity decimal.Decimal, nonce []byte) *errs.Error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if now.Before(a.commitDeadline) {
		return errs.New(errs.InvalidInput, "phantom.reveal_too_early", "reveal window has not opened")
	}
	if now.After(a.revealDeadline) {
		return errs.New(errs.Stale, "phantom.reveal_window_closed", "reveal window has closed")
	}

	computed := commitmentHash(bidderID, price, quantity, nonce)
	key := hex.EncodeToString(computed)

	rec, ok := a.commits[key]
	if !ok {
		return errs.New(errs.InvalidInput, "phantom.no_matching_commitment", "revealed values do not match any commitment")
	}
	if rec.Revealed {
		return errs.New(errs.InvalidInput, "phantom.duplicate_reveal", "commitment already revealed")
	}
	if rec.BidderID != bidderID {
		return errs.New(errs.InvalidInput, "phantom.bidder_mismatch", "revealed bidder does not match committed bidder")
	}

	rec.Revealed = true
	rec.Price = price
	rec.Quantity = quantity
	return nil
}

// QuorumMet reports whether enough reveals have landed to attempt
// resolution, usable by callers polling ahead of the deadline.
func (a *Auction) QuorumMet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.revealedLocked()) >= a.Policy.MinParticipants
}

func (a *Auction) revealedLocked() []*commitRecord {
	var out []*commitRecord
	for _, rec := range a.commits {
		if rec.Revealed {
			out = append(out, rec)
		}
	}
	return out
}

// ImprovedPrice is the outcome of a successful phantom resolution; a
// nil result means no improvement was accepted.
type ImprovedPrice struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Mechanism  Mechanism
	Winners    []Allocation
}

// Allocation records one winning phantom bidder's fill and price paid.
type Allocation struct {
	BidderID string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Resolve computes the improved price after the reveal window closes. A
// nil result (with nil error) means "None": the deadline passed without
// quorum, or the computed price fell outside the improvement band.
func (a *Auction) Resolve() (*ImprovedPrice, *errs.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Now().Before(a.revealDeadline) {
		return nil, errs.New(errs.InvalidInput, "phantom.not_closed", "reveal window has not closed")
	}

	revealed := a.revealedLocked()
	if len(revealed) < a.Policy.MinParticipants {
		return nil, nil
	}

	var result *ImprovedPrice
	switch a.Policy.Mechanism {
	case MechanismVickrey:
		result = resolveVickrey(revealed, a.BasePrice, a.BaseQuantity)
	case MechanismDiscriminatory:
		result = resolveDiscriminatory(revealed, a.BaseQuantity)
	default:
		result = resolveUniformPrice(revealed, a.BaseQuantity)
	}

	if result == nil {
		return nil, nil
	}

	if !withinImprovementBand(result.Price, a.BasePrice, a.Policy) {
		return nil, nil
	}

	return result, nil
}

func withinImprovementBand(p, basePrice decimal.Decimal, policy Policy) bool {
	min := basePrice.Mul(decimal.NewFromInt(10_000 + policy.MinImprovementBps)).Div(decimal.NewFromInt(10_000))
	max := basePrice.Mul(decimal.NewFromInt(10_000 + policy.MaxImprovementBps)).Div(decimal.NewFromInt(10_000))
	return p.GreaterThanOrEqual(min) && p.LessThanOrEqual(max)
}
