package reddit

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUnavailable = &StatusError{StatusCode: 503, URL: "/r/golang/hot.json"}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func ok(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	var states []BreakerState
	b := newBreaker(BreakerOpts{Threshold: 3, Cooldown: time.Minute}, func(s BreakerState) { states = append(states, s) })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.call(ctx, fail(errUnavailable))
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	called := false
	err := b.call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("expected rejection without call, got %v (called=%v)", err, called)
	}
	if len(states) != 1 || states[0] != BreakerOpen {
		t.Fatalf("unexpected transitions %v", states)
	}
}

func TestBreaker_ClientErrorsDoNotCount(t *testing.T) {
	b := newBreaker(BreakerOpts{Threshold: 2, Cooldown: time.Minute}, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = b.call(ctx, fail(&StatusError{StatusCode: 404}))
		_ = b.call(ctx, fail(context.Canceled))
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := newBreaker(BreakerOpts{Threshold: 3, Cooldown: time.Minute}, nil)
	ctx := context.Background()
	_ = b.call(ctx, fail(errUnavailable))
	_ = b.call(ctx, fail(errUnavailable))
	_ = b.call(ctx, ok)
	_ = b.call(ctx, fail(errUnavailable))
	_ = b.call(ctx, fail(errUnavailable))
	if b.State() != BreakerClosed {
		t.Fatalf("expected still closed, got %v", b.State())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Date(2024, 11, 9, 0, 0, 0, 0, time.UTC)
	b := newBreaker(BreakerOpts{Threshold: 1, Cooldown: time.Minute}, nil)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.call(ctx, fail(errUnavailable))
	now = now.Add(time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}

	// A failed trial reopens.
	_ = b.call(ctx, fail(errUnavailable))
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after failed trial, got %v", b.State())
	}

	now = now.Add(time.Minute)
	if err := b.call(ctx, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after trial, got %v", b.State())
	}
}

func TestBreaker_Disabled(t *testing.T) {
	b := newBreaker(BreakerOpts{Threshold: -1}, nil)
	for i := 0; i < 10; i++ {
		_ = b.call(context.Background(), fail(errUnavailable))
	}
	if err := b.call(context.Background(), ok); err != nil {
		t.Fatalf("disabled breaker rejected call: %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	if BreakerHalfOpen.String() != "half-open" || BreakerState(9).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
