package sourcier

import (
	"context"
	"sync"
)

// flight is one in-progress extraction. Followers block on done and read
// the leader's outcome; the fields are written once, before done closes.
type flight struct {
	done   chan struct{}
	result Result
	err    error
}

// flightGroup coalesces concurrent extractions of the same target into a
// single execution. The winner runs fn detached from any one caller, so a
// follower (or the leader itself) abandoning its wait never cancels the
// work the others are counting on.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// do returns fn's outcome for key, starting fn only if no flight for key
// is already in the air. shared reports whether this caller joined an
// existing flight. ctx bounds only this caller's wait.
func (g *flightGroup) do(ctx context.Context, key string, fn func() (Result, error)) (res Result, err error, shared bool) {
	g.mu.Lock()
	f, ok := g.flights[key]
	if !ok {
		f = &flight{done: make(chan struct{})}
		g.flights[key] = f
		go func() {
			f.result, f.err = fn()
			g.mu.Lock()
			delete(g.flights, key)
			g.mu.Unlock()
			close(f.done)
		}()
	}
	g.mu.Unlock()

	select {
	case <-f.done:
		return f.result, f.err, ok
	case <-ctx.Done():
		return Result{}, ctx.Err(), ok
	}
}
