package reddit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without contacting Reddit while the breaker is
// open.
var ErrCircuitOpen = errors.New("reddit: circuit open")

// BreakerState is the state of the request circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests flow
	BreakerOpen                         // requests are rejected
	BreakerHalfOpen                     // one trial request is allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOpts configures the breaker that guards Reddit requests.
type BreakerOpts struct {
	// Threshold is the number of consecutive outage failures (429, 5xx,
	// network errors) that opens the breaker. Negative disables it.
	Threshold int
	// Cooldown is how long the breaker stays open before a trial request.
	Cooldown time.Duration
}

// DefaultBreakerOpts opens after 5 consecutive outage failures for a minute.
var DefaultBreakerOpts = BreakerOpts{Threshold: 5, Cooldown: time.Minute}

type breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    BreakerState
	failures int
	openedAt time.Time
	inTrial  bool
	now      func() time.Time
	onChange func(BreakerState)
}

func newBreaker(opts BreakerOpts, onChange func(BreakerState)) *breaker {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultBreakerOpts.Threshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if onChange == nil {
		onChange = func(BreakerState) {}
	}
	return &breaker{opts: opts, now: time.Now, onChange: onChange}
}

// State returns the current state. Must not hold mu.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current moves open to half-open once the cooldown elapsed. Must hold mu.
func (b *breaker) current() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.set(BreakerHalfOpen)
		b.inTrial = false
	}
	return b.state
}

func (b *breaker) set(s BreakerState) {
	if b.state != s {
		b.state = s
		b.onChange(s)
	}
}

// call runs f unless the breaker is open. Only errors for which outage
// reports true count as failures; anything else resets the count.
func (b *breaker) call(ctx context.Context, f func(context.Context) error) error {
	if b.opts.Threshold < 0 {
		return f(ctx)
	}

	b.mu.Lock()
	switch b.current() {
	case BreakerOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.inTrial {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.inTrial = true
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && outage(err) {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.opts.Threshold {
			b.set(BreakerOpen)
			b.openedAt = b.now()
			b.failures = 0
			b.inTrial = false
		}
		return err
	}
	if b.state == BreakerHalfOpen {
		if err != nil && ctx.Err() != nil {
			// Cancelled trial: let the next call try again.
			b.inTrial = false
			return err
		}
		b.set(BreakerClosed)
	}
	b.failures = 0
	return err
}

// outage reports whether err suggests Reddit is unavailable rather than the
// request being wrong.
func outage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	var de *decodeError
	return !errors.As(err, &de)
}
