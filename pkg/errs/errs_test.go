package errs

import (
	"errors"
	"testing"
	"time"
)

func TestKindRetryable(t *testing.T) {
	cases := map[Kind]bool{
		Transient:          true,
		RateLimited:        true,
		CircuitOpen:        true,
		InvalidInput:       false,
		NotFound:           false,
		Stale:              false,
		ConsensusFailed:    false,
		AtomicityViolation: false,
		ClearingInvariant:  false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(Transient, "bridge.timeout", cause)

	if !errors.Is(e, cause) {
		t.Error("expected wrapped error to unwrap to cause")
	}
	if KindOf(e) != Transient {
		t.Errorf("KindOf() = %s, want Transient", KindOf(e))
	}
	if !Is(e, Transient) {
		t.Error("expected Is(e, Transient) to be true")
	}
}

func TestWithCorrelationAndRetryAfter(t *testing.T) {
	e := New(CircuitOpen, "router.open", "router bridge circuit open").
		WithCorrelation("corr-123").
		WithRetryAfter(5 * time.Second)

	if e.CorrelationID != "corr-123" {
		t.Errorf("CorrelationID = %q, want corr-123", e.CorrelationID)
	}
	if e.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", e.RetryAfter)
	}
}

func TestKindOfNonEngineError(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty Kind for a non-*Error")
	}
}
