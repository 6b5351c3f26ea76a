// Package coordinator implements weighted-threshold two-phase commit: a
// participant registry with heartbeat liveness, a prepare/commit vote
// round, and retry-on-transient-timeout.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sambacha/julia-auction/internal/metrics"
	"github.com/sambacha/julia-auction/pkg/errs"
)

// Config configures one Coordinator.
type Config struct {
	ConsensusThreshold  decimal.Decimal // e.g. 0.67, 0.8 in production
	PrepareTimeout      time.Duration
	CommitTimeout       time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatMultiplier float64
	MaxParticipants     int
	RetryCount          int
}

// DefaultConfig returns a 0.67 weighted-yes consensus threshold.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold:  decimal.NewFromFloat(0.67),
		PrepareTimeout:      2 * time.Second,
		CommitTimeout:       2 * time.Second,
		HeartbeatInterval:   5 * time.Second,
		HeartbeatMultiplier: 3,
		MaxParticipants:     256,
		RetryCount:          2,
	}
}

// Outcome is the terminal result of one Coordinate call.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeAborted    Outcome = "aborted"
	OutcomeRolledBack Outcome = "rolled_back"
)

// CoordinationOutcome is the result of one Coordinate call.
type CoordinationOutcome struct {
	Outcome      Outcome
	Reason       string
	PrepareVotes []Vote
	CommitVotes  []Vote
}

// Coordinator runs 2PC rounds over a dynamic participant set.
type Coordinator struct {
	cfg       Config
	transport Transport
	log       zerolog.Logger
	metrics   *metrics.Metrics

	mu           sync.Mutex // guards participants map + vote history, non-recursive
	participants map[string]*Participant

	coordinating atomic.Bool
}

// New constructs a Coordinator. m may be nil, in which case metrics
// recording is skipped.
func New(cfg Config, transport Transport, m *metrics.Metrics, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		transport:    transport,
		log:          log,
		metrics:      m,
		participants: make(map[string]*Participant),
	}
}

// RegisterParticipant adds a new active participant and returns its id.
func (c *Coordinator) RegisterParticipant(address string, weight decimal.Decimal) (string, *errs.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.participants) >= c.cfg.MaxParticipants {
		return "", errs.New(errs.InvalidInput, "coordinator.capacity", "participant registry is at capacity")
	}

	p := &Participant{
		ParticipantID: uuid.NewString(),
		Address:       address,
		Weight:        weight,
		Status:        ParticipantActive,
	}
	p.lastHeartbeat.Store(time.Now().UnixNano())
	c.participants[p.ParticipantID] = p
	c.setStatusMetric(p)
	return p.ParticipantID, nil
}

func (c *Coordinator) setStatusMetric(p *Participant) {
	if c.metrics != nil {
		c.metrics.SetParticipantStatus(p.ParticipantID, string(p.Status))
	}
}

// Unregister removes a participant. Allowed only when the participant
// is not active, or while no coordination round is in flight.
func (c *Coordinator) Unregister(participantID string) *errs.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.participants[participantID]
	if !ok {
		return errs.New(errs.NotFound, "coordinator.unknown_participant", "no such participant")
	}
	if p.Status == ParticipantActive && c.coordinating.Load() {
		return errs.New(errs.Stale, "coordinator.busy", "cannot unregister an active participant mid-round")
	}
	p.Status = ParticipantExited
	c.setStatusMetric(p)
	return nil
}

// Heartbeat updates a participant's liveness timestamp lock-free.
func (c *Coordinator) Heartbeat(participantID string) *errs.Error {
	c.mu.Lock()
	p, ok := c.participants[participantID]
	c.mu.Unlock()

	if !ok {
		return errs.New(errs.NotFound, "coordinator.unknown_participant", "no such participant")
	}
	if p.Status == ParticipantExited {
		return errs.New(errs.Stale, "coordinator.exited", "participant has exited")
	}
	p.lastHeartbeat.Store(time.Now().UnixNano())
	return nil
}

// refreshStatuses demotes participants whose heartbeat has gone stale,
// walking the active -> degraded -> failed liveness ladder.
func (c *Coordinator) refreshStatuses() {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout := time.Duration(float64(c.cfg.HeartbeatInterval) * c.cfg.HeartbeatMultiplier)
	now := time.Now()
	for _, p := range c.participants {
		if p.Status == ParticipantExited {
			continue
		}
		prev := p.Status
		age := now.Sub(time.Unix(0, p.lastHeartbeat.Load()))
		switch {
		case age > 2*timeout:
			p.Status = ParticipantFailed
		case age > timeout:
			p.Status = ParticipantDegraded
		default:
			if p.Status == ParticipantDegraded || p.Status == ParticipantFailed {
				p.Status = ParticipantActive
			}
		}
		if p.Status != prev {
			c.setStatusMetric(p)
		}
	}
}

func (c *Coordinator) activeParticipants() []*Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Participant, 0, len(c.participants))
	for _, p := range c.participants {
		if p.Status == ParticipantActive {
			out = append(out, p)
		}
	}
	return out
}

func sumWeights(participants []*Participant) decimal.Decimal {
	total := decimal.Zero
	for _, p := range participants {
		total = total.Add(p.Weight)
	}
	return total
}

// Coordinate runs one full 2PC round over the currently active
// participant set. Only one round may be in flight at a time; a
// concurrent call is refused as Busy (transient, retryable).
func (c *Coordinator) Coordinate(ctx context.Context, tx Transaction) (*CoordinationOutcome, *errs.Error) {
	if !c.coordinating.CompareAndSwap(false, true) {
		return nil, errs.New(errs.Transient, "coordinator.busy", "a coordination round is already in flight").WithRetryAfter(time.Second)
	}
	defer c.coordinating.Store(false)

	c.refreshStatuses()
	active := c.activeParticipants()

	if sumWeights(active).IsZero() {
		return &CoordinationOutcome{Outcome: OutcomeAborted, Reason: "active participants' weights sum to zero"},
			errs.New(errs.ConsensusFailed, "coordinator.zero_weight", "active participants' weights sum to zero")
	}

	prepareStart := time.Now()
	var prepareVotes []Vote
	for attempt := 0; ; attempt++ {
		prepareVotes = c.collectVotes(ctx, active, PhasePrepare, tx, c.cfg.PrepareTimeout, c.transport.Prepare)
		ratio := weightedYesRatio(prepareVotes, active)
		if ratio.GreaterThanOrEqual(c.cfg.ConsensusThreshold) {
			break
		}

		if hasExplicitNo(prepareVotes) || attempt >= c.cfg.RetryCount {
			c.notify(ctx, active, tx, func(ctx context.Context, addr string, tx Transaction) {
				c.transport.Abort(ctx, addr, tx, "prepare consensus not reached")
			})
			c.recordCoordination(OutcomeAborted, time.Since(prepareStart), 0)
			return &CoordinationOutcome{Outcome: OutcomeAborted, Reason: "prepare consensus not reached", PrepareVotes: prepareVotes},
				errs.New(errs.ConsensusFailed, "coordinator.prepare_aborted", "prepare phase did not reach consensus")
		}

		// Transient timeout: re-read active participants before retrying,
		// so a participant that degraded mid-round doesn't get counted again.
		c.refreshStatuses()
		active = c.activeParticipants()
		if sumWeights(active).IsZero() {
			c.recordCoordination(OutcomeAborted, time.Since(prepareStart), 0)
			return &CoordinationOutcome{Outcome: OutcomeAborted, Reason: "active participants' weights sum to zero"},
				errs.New(errs.ConsensusFailed, "coordinator.zero_weight", "active participants' weights sum to zero")
		}
	}
	prepareLatency := time.Since(prepareStart)

	commitStart := time.Now()
	commitVotes := c.collectVotes(ctx, active, PhaseCommit, tx, c.cfg.CommitTimeout, c.transport.Commit)
	commitLatency := time.Since(commitStart)
	ratio := weightedYesRatio(commitVotes, active)
	if ratio.GreaterThanOrEqual(c.cfg.ConsensusThreshold) {
		c.recordCoordination(OutcomeCommitted, prepareLatency, commitLatency)
		return &CoordinationOutcome{Outcome: OutcomeCommitted, PrepareVotes: prepareVotes, CommitVotes: commitVotes}, nil
	}

	c.notify(ctx, active, tx, c.transport.Rollback)
	c.recordCoordination(OutcomeRolledBack, prepareLatency, commitLatency)
	return &CoordinationOutcome{Outcome: OutcomeRolledBack, Reason: "commit consensus not reached", PrepareVotes: prepareVotes, CommitVotes: commitVotes},
		errs.New(errs.ConsensusFailed, "coordinator.commit_rolled_back", "commit phase did not reach consensus")
}

func (c *Coordinator) recordCoordination(outcome Outcome, prepareLatency, commitLatency time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordCoordination(string(outcome), prepareLatency, commitLatency)
	}
}

// collectVotes broadcasts call to every active participant concurrently,
// waiting until either all have responded or timeout elapses. A missing
// response is recorded as a "no" vote with reason timeout. Duplicate
// responses for the same participant are ignored (the first counts).
func (c *Coordinator) collectVotes(ctx context.Context, active []*Participant, phase Phase, tx Transaction, timeout time.Duration,
	call func(context.Context, string, Transaction) (Decision, string, error)) []Vote {

	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	collected := make(map[string]Vote, len(active))

	var wg sync.WaitGroup
	for _, p := range active {
		wg.Add(1)
		go func(p *Participant) {
			defer wg.Done()
			decision, reason, err := call(roundCtx, p.Address, tx)
			v := Vote{ParticipantID: p.ParticipantID, Phase: phase, Timestamp: time.Now()}
			if err != nil {
				v.Decision = DecisionNo
				v.Reason = reasonNoResponse
			} else {
				v.Decision = decision
				v.Reason = reason
			}
			mu.Lock()
			if _, exists := collected[p.ParticipantID]; !exists {
				collected[p.ParticipantID] = v
			}
			mu.Unlock()
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-roundCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	out := make([]Vote, 0, len(active))
	for _, p := range active {
		v, ok := collected[p.ParticipantID]
		if !ok {
			v = Vote{ParticipantID: p.ParticipantID, Phase: phase, Decision: DecisionNo, Reason: reasonTimeout, Timestamp: time.Now()}
		}
		out = append(out, v)
		c.appendVoteHistory(p.ParticipantID, v)
	}
	return out
}

func (c *Coordinator) appendVoteHistory(participantID string, v Vote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.participants[participantID]; ok {
		p.recordVote(v)
	}
}

func (c *Coordinator) notify(ctx context.Context, active []*Participant, tx Transaction, send func(context.Context, string, Transaction)) {
	for _, p := range active {
		send(ctx, p.Address, tx)
	}
}
