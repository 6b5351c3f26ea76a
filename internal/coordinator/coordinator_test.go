package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type scriptedTransport struct {
	mu sync.Mutex

	prepareDecisions map[string]Decision
	commitDecisions  map[string]Decision

	commitCalls int32
	aborted     map[string]bool
	rolledBack  map[string]bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		prepareDecisions: make(map[string]Decision),
		commitDecisions:  make(map[string]Decision),
		aborted:          make(map[string]bool),
		rolledBack:       make(map[string]bool),
	}
}

func (s *scriptedTransport) Prepare(_ context.Context, address string, _ Transaction) (Decision, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.prepareDecisions[address]
	if !ok {
		d = DecisionYes
	}
	return d, "", nil
}

func (s *scriptedTransport) Commit(_ context.Context, address string, _ Transaction) (Decision, string, error) {
	atomic.AddInt32(&s.commitCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.commitDecisions[address]
	if !ok {
		d = DecisionYes
	}
	return d, "", nil
}

func (s *scriptedTransport) Abort(_ context.Context, address string, _ Transaction, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted[address] = true
}

func (s *scriptedTransport) Rollback(_ context.Context, address string, _ Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolledBack[address] = true
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConsensusThreshold = decimal.NewFromFloat(0.67)
	cfg.PrepareTimeout = 200 * time.Millisecond
	cfg.CommitTimeout = 200 * time.Millisecond
	cfg.RetryCount = 0
	return cfg
}

// Scenario 5: Coordinator abort on prepare. 4 participants with weights
// 1,1,1,1, threshold 0.67. Votes: yes, yes, no, no -> ratio 0.5. Expect
// Aborted; COMMIT must never be sent; no step executed.
func TestCoordinate_AbortsOnPrepareMinority(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())

	addrs := make([]string, 4)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("http://participant-%d", i)
		if _, err := c.RegisterParticipant(addrs[i], decimal.NewFromInt(1)); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
	}
	transport.prepareDecisions[addrs[2]] = DecisionNo
	transport.prepareDecisions[addrs[3]] = DecisionNo

	outcome, err := c.Coordinate(context.Background(), Transaction{TxID: "tx-1"})
	if err == nil {
		t.Fatal("expected a ConsensusFailed error on abort")
	}
	if outcome.Outcome != OutcomeAborted {
		t.Fatalf("Outcome = %s, want aborted", outcome.Outcome)
	}
	if atomic.LoadInt32(&transport.commitCalls) != 0 {
		t.Error("COMMIT must never be sent after a prepare abort")
	}
	if len(transport.aborted) != 4 {
		t.Errorf("expected all 4 participants to receive ABORT, got %d", len(transport.aborted))
	}
}

func TestCoordinate_CommitsOnFullConsensus(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := c.RegisterParticipant("addr", decimal.NewFromInt(1)); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
	}

	outcome, err := c.Coordinate(context.Background(), Transaction{TxID: "tx-2"})
	if err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if outcome.Outcome != OutcomeCommitted {
		t.Fatalf("Outcome = %s, want committed", outcome.Outcome)
	}
	if atomic.LoadInt32(&transport.commitCalls) != 3 {
		t.Errorf("expected 3 commit calls, got %d", transport.commitCalls)
	}
}

func TestCoordinate_RollsBackOnCommitMinority(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())

	addrs := make([]string, 3)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("http://participant-%d", i)
		if _, err := c.RegisterParticipant(addrs[i], decimal.NewFromInt(1)); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
	}
	transport.commitDecisions[addrs[1]] = DecisionNo
	transport.commitDecisions[addrs[2]] = DecisionNo

	outcome, err := c.Coordinate(context.Background(), Transaction{TxID: "tx-3"})
	if err == nil {
		t.Fatal("expected a ConsensusFailed error on rollback")
	}
	if outcome.Outcome != OutcomeRolledBack {
		t.Fatalf("Outcome = %s, want rolled_back", outcome.Outcome)
	}
	if len(transport.rolledBack) != 3 {
		t.Errorf("expected all 3 participants to receive ROLLBACK, got %d", len(transport.rolledBack))
	}
}

func TestCoordinate_ZeroActiveWeightFailsImmediately(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())

	outcome, err := c.Coordinate(context.Background(), Transaction{TxID: "tx-4"})
	if err == nil {
		t.Fatal("expected ConsensusFailed with no participants registered")
	}
	if outcome.Outcome != OutcomeAborted {
		t.Fatalf("Outcome = %s, want aborted", outcome.Outcome)
	}
}

func TestCoordinate_RefusesConcurrentRounds(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())
	c.coordinating.Store(true)
	defer c.coordinating.Store(false)

	_, err := c.Coordinate(context.Background(), Transaction{TxID: "tx-5"})
	if err == nil || err.Kind.Retryable() == false {
		t.Fatalf("expected a retryable Busy error, got %v", err)
	}
}

func TestHeartbeat_UnknownParticipant(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())
	if err := c.Heartbeat("nope"); err == nil {
		t.Fatal("expected NotFound for unknown participant")
	}
}

func TestUnregister_RejectsActiveDuringRound(t *testing.T) {
	transport := newScriptedTransport()
	c := New(testConfig(), transport, nil, zerolog.Nop())
	id, _ := c.RegisterParticipant("addr", decimal.NewFromInt(1))
	c.coordinating.Store(true)
	defer c.coordinating.Store(false)

	if err := c.Unregister(id); err == nil {
		t.Fatal("expected Unregister to be rejected for an active participant mid-round")
	}
}
