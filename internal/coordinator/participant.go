package coordinator

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ParticipantStatus is a Participant's liveness state.
type ParticipantStatus string

const (
	ParticipantActive   ParticipantStatus = "active"
	ParticipantDegraded ParticipantStatus = "degraded"
	ParticipantFailed   ParticipantStatus = "failed"
	ParticipantExited   ParticipantStatus = "exited"
)

// Participant is the coordinator's view of one voting member. Per the
// Since Go has no reentrant mutex, last_heartbeat is a lock-free atomic
// field so the heartbeat handler never needs to reenter the registry
// lock that guards the participants map and vote history during a
// coordination round.
type Participant struct {
	ParticipantID string
	Address       string
	Weight        decimal.Decimal
	Status        ParticipantStatus

	lastHeartbeat atomic.Int64 // unix nanoseconds

	voteHistory []Vote // bounded ring buffer; guarded by Coordinator.mu
}

// LastHeartbeat returns the last recorded heartbeat time.
func (p *Participant) LastHeartbeat() time.Time {
	return time.Unix(0, p.lastHeartbeat.Load())
}

// VoteHistory returns a copy of the participant's recent votes. It takes
// no lock itself.
func (p *Participant) VoteHistory() []Vote {
	out := make([]Vote, len(p.voteHistory))
	copy(out, p.voteHistory)
	return out
}

const maxVoteHistory = 64

func (p *Participant) recordVote(v Vote) {
	p.voteHistory = append(p.voteHistory, v)
	if len(p.voteHistory) > maxVoteHistory {
		p.voteHistory = p.voteHistory[len(p.voteHistory)-maxVoteHistory:]
	}
}
