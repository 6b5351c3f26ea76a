package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sambacha/julia-auction/pkg/errs"
)

// maxTransportResponseSize bounds a participant's vote response body,
// the same defensive cap the router package applies to routing service
// responses.
const maxTransportResponseSize = 64 * 1024

// HTTPTransport delivers 2PC messages to participants reachable at their
// registered Address over HTTP, adapted from router.HTTPRuntime's
// doJSON/bounded-reader pattern for the coordinator's own wire shape.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a Transport whose calls are bounded by timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

type voteRequest struct {
	TxID    string `json:"tx_id"`
	Phase   Phase  `json:"phase"`
	Payload any    `json:"payload"`
}

type voteResponse struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

func (t *HTTPTransport) doVote(ctx context.Context, address, path string, req voteRequest) (Decision, string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return DecisionNo, "marshal_error", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, address+path, bytes.NewReader(payload))
	if err != nil {
		return DecisionNo, "request_build_error", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return DecisionNo, reasonTimeout, errs.Wrap(errs.Transient, "coordinator.transport_call_failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return DecisionNo, reasonTimeout, errs.New(errs.Transient, "coordinator.participant_server_error", fmt.Sprintf("participant returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return DecisionNo, "rejected", errs.New(errs.InvalidInput, "coordinator.participant_bad_request", fmt.Sprintf("participant returned %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, maxTransportResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return DecisionNo, reasonTimeout, err
	}
	if len(data) > maxTransportResponseSize {
		return DecisionNo, "rejected", errs.New(errs.InvalidInput, "coordinator.response_too_large", "participant response exceeded the size limit")
	}

	var out voteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return DecisionNo, reasonTimeout, errs.Wrap(errs.Transient, "coordinator.bad_vote_response", err)
	}
	return out.Decision, out.Reason, nil
}

// Prepare implements Transport.
func (t *HTTPTransport) Prepare(ctx context.Context, address string, tx Transaction) (Decision, string, error) {
	return t.doVote(ctx, address, "/2pc/prepare", voteRequest{TxID: tx.TxID, Phase: PhasePrepare, Payload: tx.Payload})
}

// Commit implements Transport.
func (t *HTTPTransport) Commit(ctx context.Context, address string, tx Transaction) (Decision, string, error) {
	return t.doVote(ctx, address, "/2pc/commit", voteRequest{TxID: tx.TxID, Phase: PhaseCommit, Payload: tx.Payload})
}

// Abort implements Transport. Best-effort: a participant that misses the
// abort notification will still observe the transaction absent on its
// next read.
func (t *HTTPTransport) Abort(ctx context.Context, address string, tx Transaction, reason string) {
	payload, err := json.Marshal(voteRequest{TxID: tx.TxID, Phase: PhaseCommit, Payload: tx.Payload})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address+"/2pc/abort?reason="+reason, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
}

// Rollback implements Transport, same best-effort delivery as Abort.
func (t *HTTPTransport) Rollback(ctx context.Context, address string, tx Transaction) {
	payload, err := json.Marshal(voteRequest{TxID: tx.TxID, Phase: PhaseCommit, Payload: tx.Payload})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address+"/2pc/rollback", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
}
