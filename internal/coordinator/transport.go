package coordinator

import "context"

// Transaction is the opaque settlement payload the coordinator votes
// over; the coordinator never inspects Payload.
type Transaction struct {
	TxID    string
	Payload any
}

// Transport delivers 2PC messages to participants at their registered
// Address, not their ParticipantID — the Coordinator resolves id to
// address before every call. Implementations must respect ctx's deadline
// and return promptly once it expires; a call that does not return in
// time is treated as a missing vote.
type Transport interface {
	Prepare(ctx context.Context, address string, tx Transaction) (Decision, string, error)
	Commit(ctx context.Context, address string, tx Transaction) (Decision, string, error)
	Abort(ctx context.Context, address string, tx Transaction, reason string)
	Rollback(ctx context.Context, address string, tx Transaction)
}
