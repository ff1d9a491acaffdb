package sourcier

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	// WHAT: The breaker stays closed through threshold-1 faults and opens
	// on the threshold-th.
	// WHY: One flaky page must not blackhole the service; a run of faults
	// means the browser itself is gone.
	clock := newTestClock()
	b := newBreaker(3, time.Minute, clock.now)

	b.recordFault()
	b.recordFault()
	if !b.allow() {
		t.Fatal("breaker opened before threshold")
	}
	b.recordFault()
	if b.allow() {
		t.Fatal("breaker still closed at threshold")
	}
	if s := b.currentState(); s != breakerOpen {
		t.Errorf("state = %v, want open", s)
	}
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	// WHAT: A healthy attempt resets the consecutive-fault count.
	// WHY: The breaker watches for a run of faults, not a lifetime total;
	// scattered crashes over days are normal browser weather.
	clock := newTestClock()
	b := newBreaker(3, time.Minute, clock.now)

	b.recordFault()
	b.recordFault()
	b.recordSuccess()
	b.recordFault()
	b.recordFault()
	if !b.allow() {
		t.Fatal("breaker opened despite an interleaved success")
	}
}

func TestBreaker_CooloffThenProbe(t *testing.T) {
	// WHAT: An open breaker admits nothing until the cooloff, then allows
	// a probe; a successful probe closes it, a failed one reopens it.
	// WHY: Recovery must be automatic and cheap: one attempt decides,
	// not a thundering herd.
	clock := newTestClock()
	b := newBreaker(1, 30*time.Second, clock.now)

	b.recordFault()
	if b.allow() {
		t.Fatal("open breaker allowed an attempt")
	}

	clock.advance(29 * time.Second)
	if b.allow() {
		t.Fatal("breaker admitted before the cooloff")
	}

	clock.advance(2 * time.Second)
	if !b.allow() {
		t.Fatal("breaker refused the probe after cooloff")
	}
	if s := b.currentState(); s != breakerHalfOpen {
		t.Fatalf("state = %v, want half-open", s)
	}

	// Failed probe: straight back to open, new cooloff.
	b.recordFault()
	if b.allow() {
		t.Fatal("breaker stayed admissive after a failed probe")
	}

	// Next probe succeeds and closes the breaker for good.
	clock.advance(31 * time.Second)
	if !b.allow() {
		t.Fatal("second probe refused")
	}
	b.recordSuccess()
	if s := b.currentState(); s != breakerClosed {
		t.Fatalf("state = %v, want closed", s)
	}
	if !b.allow() {
		t.Fatal("closed breaker refused an attempt")
	}
}

func TestBreakerState_Strings(t *testing.T) {
	// WHAT: State names are the stable strings the stats payload exposes.
	// WHY: Dashboards and alerts key on these exact values.
	cases := map[breakerState]string{
		breakerClosed:   "closed",
		breakerOpen:     "open",
		breakerHalfOpen: "half-open",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
