package sourcier

import (
	"sync"
	"time"
)

// breakerState represents the unavailability breaker state.
type breakerState int

const (
	breakerClosed   breakerState = iota // normal operation, attempts pass through
	breakerOpen                         // attempts rejected immediately
	breakerHalfOpen                     // one probe attempt allowed to test recovery
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker trips after a run of consecutive browser faults and fails
// extractions fast until a cooloff passes. Only environment failures
// count: a page that merely yields no manifest says nothing about the
// browser's health.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	threshold   int           // consecutive faults before opening
	cooloff     time.Duration // how long to stay open before a probe
	lastFailure time.Time
	now         func() time.Time // injectable clock for testing
}

func newBreaker(threshold int, cooloff time.Duration, now func() time.Time) *breaker {
	if now == nil {
		now = time.Now
	}
	return &breaker{
		state:     breakerClosed,
		threshold: threshold,
		cooloff:   cooloff,
		now:       now,
	}
}

// currentState returns the breaker state, advancing open to half-open
// when the cooloff has elapsed.
func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state
}

// allow reports whether an extraction may attempt the browser. False
// means fail fast with zero attempts.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransition()
	return b.state != breakerOpen
}

// recordSuccess notes an attempt that exercised the browser without an
// environment fault. In half-open a single healthy attempt closes the
// breaker: there is one browser, so one probe is all the evidence there is.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// recordFault notes a browser-environment failure.
func (b *breaker) recordFault() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		// A failed probe goes straight back to open.
		b.state = breakerOpen
	}
}

// maybeTransition moves an open breaker to half-open once the cooloff
// has elapsed. Must be called with mu held.
func (b *breaker) maybeTransition() {
	if b.state == breakerOpen && b.now().Sub(b.lastFailure) >= b.cooloff {
		b.state = breakerHalfOpen
	}
}
