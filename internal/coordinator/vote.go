package coordinator

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase identifies which round of 2PC a Vote belongs to.
type Phase string

const (
	PhasePrepare Phase = "prepare"
	PhaseCommit  Phase = "commit"
)

// Decision is a participant's vote.
type Decision string

const (
	DecisionYes Decision = "yes"
	DecisionNo  Decision = "no"
)

// Vote is one participant's response in one phase.
type Vote struct {
	ParticipantID string
	Phase         Phase
	Decision      Decision
	Reason        string
	Timestamp     time.Time
}

// reasonTimeout and reasonNoResponse mark vote reasons that reflect absence of a response
// rather than an explicit rejection, used to decide whether a failed
// prepare phase is eligible for a retry.
const (
	reasonTimeout    = "timeout"
	reasonNoResponse = "no_response"
)

func isTransientNo(v Vote) bool {
	return v.Decision == DecisionNo && (v.Reason == reasonTimeout || v.Reason == reasonNoResponse)
}

// weightedYesRatio computes Σ weight(p)·[vote(p)=yes] / Σ weight(p active),
// for the weighted-yes consensus check.
func weightedYesRatio(votes []Vote, active []*Participant) decimal.Decimal {
	weights := make(map[string]decimal.Decimal, len(active))
	totalWeight := decimal.Zero
	for _, p := range active {
		weights[p.ParticipantID] = p.Weight
		totalWeight = totalWeight.Add(p.Weight)
	}
	if totalWeight.IsZero() {
		return decimal.Zero
	}

	yesWeight := decimal.Zero
	for _, v := range votes {
		if v.Decision == DecisionYes {
			if w, ok := weights[v.ParticipantID]; ok {
				yesWeight = yesWeight.Add(w)
			}
		}
	}
	return yesWeight.Div(totalWeight)
}

// hasExplicitNo reports whether any vote is an affirmative rejection
// rather than a missing/timed-out response.
func hasExplicitNo(votes []Vote) bool {
	for _, v := range votes {
		if v.Decision == DecisionNo && !isTransientNo(v) {
			return true
		}
	}
	return false
}
