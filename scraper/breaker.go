package scraper

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerStats is a point-in-time view of the breaker.
type BreakerStats struct {
	State               BreakerState
	ConsecutiveFailures int
	LastFailure         time.Time
	Trips               int
	Rejected            int
}

// Breaker is a process-wide circuit breaker shared by all workers.
//
// Closed admits every call and opens after threshold consecutive failures.
// Open rejects calls until cooldown has elapsed since the last failure, then
// moves to HalfOpen and admits exactly one trial call. The trial's result
// closes the breaker or reopens it with a fresh cooldown.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	isFailure func(error) bool
	onChange  func(from, to BreakerState)
	now       func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	trialInFlight bool
	trips         int
	rejected      int
}

// NewBreaker builds a closed breaker. Every non-nil error counts as a
// failure until SetFailurePredicate narrows it.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		isFailure: func(err error) bool { return err != nil },
		now:       time.Now,
	}
}

// SetFailurePredicate decides which errors trip the breaker. Errors that do
// not match are treated as a healthy upstream.
func (b *Breaker) SetFailurePredicate(fn func(error) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isFailure = fn
}

// OnStateChange registers a hook invoked after every transition.
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Execute runs fn if the breaker admits the call and records its result.
// A rejected call returns ErrBreakerOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) (err error) {
	trial, ok := b.allow()
	if !ok {
		return ErrBreakerOpen
	}

	completed := false
	defer func() {
		if !completed {
			// fn panicked; a trial counts as failed, other calls leave no trace.
			b.abort(trial)
		}
	}()

	err = fn()
	completed = true
	b.record(err, trial)
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
		Trips:               b.trips,
		Rejected:            b.rejected,
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = BreakerClosed
	b.failures = 0
	b.trialInFlight = false
	hook := b.onChange
	b.mu.Unlock()

	if hook != nil && from != BreakerClosed {
		hook(from, BreakerClosed)
	}
}

func (b *Breaker) allow() (trial, ok bool) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case BreakerClosed:
		ok = true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.trialInFlight = true
			trial, ok = true, true
		} else {
			b.rejected++
		}
	case BreakerHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			trial, ok = true, true
		} else {
			b.rejected++
		}
	}
	to := b.state
	hook := b.onChange
	b.mu.Unlock()

	if hook != nil && from != to {
		hook(from, to)
	}
	return trial, ok
}

func (b *Breaker) abort(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	from := b.state
	b.trialInFlight = false
	b.failures++
	b.lastFailure = b.now()
	b.state = BreakerOpen
	b.trips++
	to := b.state
	hook := b.onChange
	b.mu.Unlock()

	if hook != nil && from != to {
		hook(from, to)
	}
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	from := b.state
	failed := err != nil && b.isFailure(err)

	switch {
	case trial:
		b.trialInFlight = false
		if failed {
			b.failures++
			b.lastFailure = b.now()
			b.state = BreakerOpen
			b.trips++
		} else {
			b.failures = 0
			b.state = BreakerClosed
		}
	case b.state == BreakerClosed:
		if failed {
			b.failures++
			b.lastFailure = b.now()
			if b.failures >= b.threshold {
				b.state = BreakerOpen
				b.trips++
			}
		} else {
			b.failures = 0
		}
	case b.state == BreakerOpen && failed:
		// Late failure from a call admitted before the trip.
		b.failures++
		b.lastFailure = b.now()
	}

	to := b.state
	hook := b.onChange
	b.mu.Unlock()

	if hook != nil && from != to {
		hook(from, to)
	}
}
