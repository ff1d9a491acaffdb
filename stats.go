package sourcier

import "sync/atomic"

// counters is the orchestrator's internal tally. Everything here is an
// atomic so the health endpoint can read it without taking any lock the
// extraction path holds.
type counters struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	coalesced   atomic.Int64
	attempts    atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
	crashes     atomic.Int64
	rejected    atomic.Int64 // fast-failed while the breaker was open
	cacheSize   atomic.Int64 // gauge, maintained by the cache
}

// Stats are point-in-time counters.
type Stats struct {
	CacheHits    int64  `json:"cache_hits"`
	CacheMisses  int64  `json:"cache_misses"`
	Coalesced    int64  `json:"coalesced"`
	Attempts     int64  `json:"attempts"`
	Successes    int64  `json:"successes"`
	Failures     int64  `json:"failures"`
	Crashes      int64  `json:"crashes"`
	Rejected     int64  `json:"rejected"`
	CacheEntries int64  `json:"cache_entries"`
	BreakerState string `json:"breaker_state"`
	InFlight     bool   `json:"in_flight"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		CacheHits:    c.cacheHits.Load(),
		CacheMisses:  c.cacheMisses.Load(),
		Coalesced:    c.coalesced.Load(),
		Attempts:     c.attempts.Load(),
		Successes:    c.successes.Load(),
		Failures:     c.failures.Load(),
		Crashes:      c.crashes.Load(),
		Rejected:     c.rejected.Load(),
		CacheEntries: c.cacheSize.Load(),
	}
}
