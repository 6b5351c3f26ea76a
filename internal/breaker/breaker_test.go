package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecute_ClosedPassesThrough(t *testing.T) {
	b := New(DefaultConfig())
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("expected f to be invoked while closed")
	}
}

func TestExecute_TripsOpenOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := New(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom }, nil)
	}

	if !b.IsOpen() {
		t.Fatal("expected breaker to be open after reaching failure threshold")
	}

	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("f should not be invoked while open")
		return nil
	}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestExecute_FallbackInvokedWhenOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	b := New(cfg)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") }, nil)
	if !b.IsOpen() {
		t.Fatal("expected open after single failure at threshold 1")
	}

	fallbackCalled := false
	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("f should not run")
		return nil
	}, func(_ context.Context, cause error) error {
		fallbackCalled = true
		return cause
	})
	if !fallbackCalled {
		t.Fatal("expected fallback to run")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fallback to receive ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecoversToClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = 10 * time.Millisecond
	cfg.RecoveryThreshold = 2
	b := New(cfg)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") }, nil)
	if !b.IsOpen() {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return nil }, nil)
		if err != nil {
			t.Fatalf("half-open probe %d: %v", i, err)
		}
	}

	if b.Stats().State != StateClosed {
		t.Fatalf("State = %s, want closed after recovery threshold met", b.Stats().State)
	}
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = 10 * time.Millisecond
	b := New(cfg)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") }, nil)
	time.Sleep(15 * time.Millisecond)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("still broken") }, nil)

	if b.Stats().State != StateOpen {
		t.Fatalf("State = %s, want open after half-open probe fails", b.Stats().State)
	}
}

func TestBreaker_SlowCallCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.SlowCallThreshold = time.Millisecond
	b := New(cfg)

	_ = b.Execute(context.Background(), func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}, nil)

	if !b.IsOpen() {
		t.Fatal("expected a slow call to count as a failure and trip the breaker")
	}
}

func TestBreaker_ResetReturnsToClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	b := New(cfg)
	b.ForceOpen()
	if !b.IsOpen() {
		t.Fatal("expected ForceOpen to open the breaker")
	}
	b.Reset()
	if b.IsOpen() {
		t.Fatal("expected Reset to close the breaker")
	}
}
