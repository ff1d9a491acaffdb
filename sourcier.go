// Package sourcier extracts playable HLS manifest URLs from live-TV pages
// that only hand them to a real browser. It drives a headless engine
// through an isolated session per attempt, watches the network traffic the
// player generates, and applies ordered heuristics to pick the manifest
// out of the noise. Successful extractions are cached; concurrent requests
// for the same channel coalesce into a single browser run.
package sourcier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/sourcier/internal/idgen"
)

// Target is a resolved extraction target.
type Target struct {
	Slug    string
	Name    string
	PageURL string
	Premium bool
}

// Resolver maps a channel slug to its target. Unknown or malformed slugs
// must be reported with an error wrapping ErrInvalidTarget.
type Resolver func(ctx context.Context, slug string) (Target, error)

// Result is the outcome of a successful extraction.
type Result struct {
	Channel     string            `json:"channel"`
	ManifestURL string            `json:"manifest_url"`
	Title       string            `json:"title,omitempty"`
	Source      string            `json:"source"`
	Headers     map[string]string `json:"headers,omitempty"`
	Cached      bool              `json:"cached"`
	ExtractedAt time.Time         `json:"extracted_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Service is the extraction orchestrator: cache in front, coalescing and
// the single browser slot behind, the session driver at the bottom.
type Service struct {
	cfg     Config
	engine  Engine
	resolve Resolver
	logger  *slog.Logger
	newID   idgen.Generator
	now     func() time.Time

	ctrs    counters
	cache   *resultCache
	flights *flightGroup
	gate    *gate
	brk     *breaker
	drv     *driver

	// baseCtx detaches extraction work from any single caller; a flight
	// keeps running for its followers even if the initiating request
	// disconnects. Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator overrides the extraction id generator.
func WithIDGenerator(g idgen.Generator) ServiceOption {
	return func(s *Service) { s.newID = g }
}

// WithClock sets a custom clock, used by the cache, the breaker and
// attempt timing (for testing).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) { s.now = fn }
}

// New creates the orchestrator around an engine and a resolver. Both are
// required; everything else defaults.
func New(engine Engine, resolve Resolver, cfg Config, opts ...ServiceOption) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("sourcier: nil engine")
	}
	if resolve == nil {
		return nil, fmt.Errorf("sourcier: nil resolver")
	}
	cfg.defaults()

	s := &Service{
		cfg:     cfg,
		engine:  engine,
		resolve: resolve,
		logger:  slog.Default(),
		newID:   idgen.Prefixed("ext_", idgen.Default),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cache = newResultCache(&s.ctrs.cacheSize, s.now)
	s.flights = newFlightGroup()
	s.gate = newGate()
	s.brk = newBreaker(cfg.CrashThreshold, cfg.CrashCooloff, s.now)
	s.drv = &driver{engine: engine, cfg: cfg, logger: s.logger, now: s.now}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Extract returns the manifest for a channel, served from cache when a
// live entry exists. force bypasses the cache read; the fresh result
// still replaces the cached one. ctx bounds only this caller's wait: a
// coalesced extraction keeps running for the other waiters.
func (s *Service) Extract(ctx context.Context, channel string, force bool) (Result, error) {
	slug := strings.ToLower(strings.TrimSpace(channel))
	if slug == "" {
		return Result{}, fmt.Errorf("%w: empty channel", ErrInvalidTarget)
	}

	t, err := s.resolve(ctx, slug)
	if err != nil {
		return Result{}, err
	}
	if t.Premium {
		return Result{}, fmt.Errorf("%w: %s", ErrPremiumLocked, slug)
	}

	if !force {
		if r, ok := s.cache.get(slug); ok {
			s.ctrs.cacheHits.Add(1)
			r.Cached = true
			return r, nil
		}
	}
	s.ctrs.cacheMisses.Add(1)

	res, err, shared := s.flights.do(ctx, slug, func() (Result, error) {
		return s.runExtraction(t)
	})
	if shared {
		s.ctrs.coalesced.Add(1)
	}
	return res, err
}

// runExtraction is the flight leader's body: the attempt loop, driven by
// the call state machine. It runs on the service's base context.
func (s *Service) runExtraction(t Target) (Result, error) {
	ctx := s.baseCtx
	id := s.newID()
	log := s.logger.With("extraction_id", id, "channel", t.Slug)

	state := advance(statePending, 0, s.cfg.MaxAttempts, nil)
	backoff := s.cfg.RetryBackoff
	var lastErr error

	for k := 1; state == stateAttempting; k++ {
		if k > 1 {
			log.Info("retrying", "attempt", k, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{}, fmt.Errorf("%w: shutting down", ErrBrowserUnavailable)
			}
			backoff *= 2
		}

		if !s.brk.allow() {
			s.ctrs.rejected.Add(1)
			s.ctrs.failures.Add(1)
			err := fmt.Errorf("%w: breaker open", ErrBrowserUnavailable)
			log.Warn("extraction rejected", "kind", FailureKind(err))
			return Result{}, err
		}

		if err := s.gate.acquire(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		}
		rec := attemptRecord{attempt: k, started: s.now()}
		s.ctrs.attempts.Add(1)
		res, err := s.drv.attempt(ctx, t)
		s.gate.release()
		rec.duration = s.now().Sub(rec.started)

		if browserFault(err) {
			s.ctrs.crashes.Add(1)
			s.brk.recordFault()
		} else {
			s.brk.recordSuccess()
		}

		state = advance(state, k, s.cfg.MaxAttempts, err)
		switch state {
		case stateSucceeded:
			res.ExpiresAt = res.ExtractedAt.Add(s.cfg.CacheTTL)
			s.cache.put(t.Slug, res, s.cfg.CacheTTL)
			s.ctrs.successes.Add(1)
			log.Info("manifest extracted",
				"manifest_url", res.ManifestURL,
				"source", res.Source,
				"attempt", rec.attempt,
				"duration", rec.duration)
			return res, nil
		case stateFailed:
			s.ctrs.failures.Add(1)
			log.Warn("extraction failed",
				"kind", FailureKind(err),
				"attempt", rec.attempt,
				"duration", rec.duration,
				"error", err)
			return Result{}, err
		default:
			lastErr = err
			log.Warn("attempt failed",
				"kind", FailureKind(err),
				"attempt", rec.attempt,
				"duration", rec.duration,
				"error", err)
		}
	}
	return Result{}, lastErr
}

// Purge drops one channel's cache entry; it reports whether a live entry
// was present.
func (s *Service) Purge(channel string) bool {
	return s.cache.purge(strings.ToLower(strings.TrimSpace(channel)))
}

// PurgeAll empties the cache and returns the number of entries dropped.
func (s *Service) PurgeAll() int {
	return s.cache.purgeAll()
}

// Stats returns current counters plus breaker and slot status. Cheap by
// construction: nothing here contends with a running extraction.
func (s *Service) Stats() Stats {
	st := s.ctrs.snapshot()
	st.BreakerState = s.brk.currentState().String()
	st.InFlight = s.gate.busy()
	return st
}

// Close cancels in-flight work and tears down the engine.
func (s *Service) Close() error {
	s.cancel()
	return s.engine.Close()
}
