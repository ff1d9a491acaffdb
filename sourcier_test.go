package sourcier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/sourcier/internal/capture"
)

const testManifestURL = "https://edge.example.com/live/abc/playlist.m3u8?wmsAuthSign=server1"

// fakePage is a scripted Page. Tests pre-load exchanges and bodies, or
// wire onClick/evalFn to simulate a player reacting to the driver.
type fakePage struct {
	mu        sync.Mutex
	navGate   chan struct{} // Navigate blocks until closed, when set
	navDelay  time.Duration
	navErr    error
	landed    string
	html      string
	htmlErr   error
	exchanges []capture.Exchange
	bodies    map[string]string
	evalFn    func(js string) (string, error)
	onClick   func(selector string) bool
	clicked   []string
	closed    bool

	eng *fakeEngine
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navGate != nil {
		select {
		case <-p.navGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.navDelay > 0 {
		select {
		case <-time.After(p.navDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	if p.landed == "" {
		p.landed = url
	}
	p.mu.Unlock()
	return p.navErr
}

func (p *fakePage) LandedURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.landed
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, p.htmlErr
}

func (p *fakePage) Eval(ctx context.Context, js string) (string, error) {
	if p.evalFn != nil {
		return p.evalFn(js)
	}
	return `""`, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) bool {
	p.mu.Lock()
	p.clicked = append(p.clicked, selector)
	p.mu.Unlock()
	if p.onClick != nil {
		return p.onClick(selector)
	}
	return false
}

func (p *fakePage) Exchanges() []capture.Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]capture.Exchange, len(p.exchanges))
	copy(out, p.exchanges)
	return out
}

func (p *fakePage) ResponseBody(requestID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body, ok := p.bodies[requestID]
	return body, ok
}

func (p *fakePage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		if p.eng != nil {
			p.eng.current.Add(-1)
		}
	}
}

func (p *fakePage) addExchange(e capture.Exchange) {
	p.mu.Lock()
	p.exchanges = append(p.exchanges, e)
	p.mu.Unlock()
}

// fakeEngine hands out scripted pages in order and tracks how many
// sessions are open at once.
type fakeEngine struct {
	mu      sync.Mutex
	pages   []*fakePage
	opens   int
	openErr error
	closed  bool

	current atomic.Int32
	peak    atomic.Int32
}

func (e *fakeEngine) OpenPage(ctx context.Context, cfg PageConfig) (Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	if len(e.pages) == 0 {
		return nil, errors.New("fake engine: out of scripted pages")
	}
	p := e.pages[0]
	e.pages = e.pages[1:]
	p.eng = e
	e.opens++

	cur := e.current.Add(1)
	for {
		old := e.peak.Load()
		if cur <= old || e.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	return p, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

// manifestPage is a page whose capture log already holds a manifest
// exchange, the common happy path.
func manifestPage(url string) *fakePage {
	return &fakePage{
		exchanges: []capture.Exchange{
			{RequestID: "r1", URL: "https://tamashaweb.com/assets/app.js", Status: 200, ContentType: "application/javascript"},
			{RequestID: "r2", URL: url, Status: 200, ContentType: "application/vnd.apple.mpegurl"},
		},
	}
}

// testClock is a mutable clock shared by the service under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConfig keeps attempt budgets small enough for tests that must run
// one out to its deadline.
func fastConfig() Config {
	return Config{
		AttemptTimeout: 250 * time.Millisecond,
		NavTimeout:     100 * time.Millisecond,
		SettleWait:     20 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		MaxAttempts:    2,
		RetryBackoff:   10 * time.Millisecond,
		CacheTTL:       time.Minute,
		CrashThreshold: 3,
		CrashCooloff:   50 * time.Millisecond,
	}
}

func testResolver(ctx context.Context, slug string) (Target, error) {
	switch slug {
	case "ary-news":
		return Target{Slug: slug, Name: "ARY News", PageURL: "https://tamashaweb.com/ary-news"}, nil
	case "hum-tv":
		return Target{Slug: slug, Name: "Hum TV", PageURL: "https://tamashaweb.com/hum-tv"}, nil
	case "tamasha-exclusive":
		return Target{Slug: slug, Name: "Tamasha Exclusive", PageURL: "https://tamashaweb.com/tamasha-exclusive", Premium: true}, nil
	default:
		return Target{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidTarget, slug)
	}
}

func newTestService(t *testing.T, eng Engine, cfg Config, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithLogger(discardLogger())}, opts...)
	svc, err := New(eng, testResolver, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestExtract_Success(t *testing.T) {
	// WHAT: A manifest exchange on the wire produces a full Result.
	// WHY: This is the service's whole reason to exist; the Result must
	// carry everything a player needs to start the stream.
	page := manifestPage(testManifestURL)
	eng := &fakeEngine{pages: []*fakePage{page}}
	svc := newTestService(t, eng, fastConfig())

	res, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.ManifestURL != testManifestURL {
		t.Errorf("manifest url = %q, want %q", res.ManifestURL, testManifestURL)
	}
	if res.Channel != "ary-news" {
		t.Errorf("channel = %q", res.Channel)
	}
	if res.Source != "exchange" {
		t.Errorf("source = %q, want exchange", res.Source)
	}
	if res.Cached {
		t.Error("fresh extraction reported as cached")
	}
	if res.Headers["Referer"] != "https://tamashaweb.com/ary-news" {
		t.Errorf("referer = %q", res.Headers["Referer"])
	}
	if res.Headers["Origin"] != "https://tamashaweb.com" {
		t.Errorf("origin = %q", res.Headers["Origin"])
	}
	if res.Headers["User-Agent"] == "" {
		t.Error("user agent header missing")
	}
	if !res.ExpiresAt.Equal(res.ExtractedAt.Add(time.Minute)) {
		t.Errorf("expires_at = %v, extracted_at = %v", res.ExpiresAt, res.ExtractedAt)
	}
	if n := eng.openCount(); n != 1 {
		t.Errorf("open pages = %d, want 1", n)
	}
	if !page.closed {
		t.Error("page session not torn down after the attempt")
	}
}

func TestExtract_CacheHit_SingleAttempt(t *testing.T) {
	// WHAT: Two extractions of the same channel inside the TTL reach the
	// browser exactly once; the second is served from cache.
	// WHY: Browser attempts cost tens of seconds; the cache is what makes
	// repeated tune-ins cheap.
	eng := &fakeEngine{pages: []*fakePage{manifestPage(testManifestURL)}}
	svc := newTestService(t, eng, fastConfig())

	first, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	second, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if !second.Cached {
		t.Error("second extraction not served from cache")
	}
	if second.ManifestURL != first.ManifestURL {
		t.Errorf("cached url = %q, want %q", second.ManifestURL, first.ManifestURL)
	}
	if n := eng.openCount(); n != 1 {
		t.Fatalf("open pages = %d, want 1", n)
	}
	st := svc.Stats()
	if st.CacheHits != 1 || st.CacheMisses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", st.CacheHits, st.CacheMisses)
	}
}

func TestExtract_CacheExpiry_NewAttempt(t *testing.T) {
	// WHAT: Once the TTL lapses, the next extraction goes back to the
	// browser instead of serving the stale entry.
	// WHY: Manifest URLs carry signed, expiring session tokens; a stale
	// URL plays nothing.
	clock := newTestClock()
	eng := &fakeEngine{pages: []*fakePage{
		manifestPage(testManifestURL),
		manifestPage("https://edge.example.com/live/abc/playlist.m3u8?wmsAuthSign=server2"),
	}}
	svc := newTestService(t, eng, fastConfig(), WithClock(clock.now))

	if _, err := svc.Extract(context.Background(), "ary-news", false); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	clock.advance(time.Minute + time.Second)

	res, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if res.Cached {
		t.Error("expired entry served from cache")
	}
	if res.ManifestURL != "https://edge.example.com/live/abc/playlist.m3u8?wmsAuthSign=server2" {
		t.Errorf("got stale url %q", res.ManifestURL)
	}
	if n := eng.openCount(); n != 2 {
		t.Errorf("open pages = %d, want 2", n)
	}
}

func TestExtract_ConcurrentCallers_Coalesce(t *testing.T) {
	// WHAT: Concurrent extractions of one channel share a single browser
	// run and all receive its result.
	// WHY: A popular channel gets bursts of identical requests; running a
	// browser per caller would melt the host for identical answers.
	page := manifestPage(testManifestURL)
	page.navGate = make(chan struct{})
	eng := &fakeEngine{pages: []*fakePage{page}}

	cfg := fastConfig()
	cfg.NavTimeout = time.Second
	cfg.AttemptTimeout = 2 * time.Second
	svc := newTestService(t, eng, cfg)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Extract(context.Background(), "ary-news", false)
		}(i)
	}
	// Let every caller reach the flight before the page is allowed to
	// finish loading.
	time.Sleep(50 * time.Millisecond)
	close(page.navGate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].ManifestURL != testManifestURL {
			t.Fatalf("caller %d got %q", i, results[i].ManifestURL)
		}
	}
	if n := eng.openCount(); n != 1 {
		t.Fatalf("open pages = %d, want 1", n)
	}
	st := svc.Stats()
	if st.Coalesced != callers-1 {
		t.Errorf("coalesced = %d, want %d", st.Coalesced, callers-1)
	}
	if st.CacheMisses != callers {
		t.Errorf("misses = %d, want %d", st.CacheMisses, callers)
	}
}

func TestExtract_InvalidTarget_NoAttempt(t *testing.T) {
	// WHAT: An unknown channel fails with ErrInvalidTarget before any
	// browser work starts.
	// WHY: Attempts are the expensive resource; caller typos must not
	// consume them.
	eng := &fakeEngine{}
	svc := newTestService(t, eng, fastConfig())

	_, err := svc.Extract(context.Background(), "definitely-not-a-channel", false)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("err = %v, want ErrInvalidTarget", err)
	}
	if kind := FailureKind(err); kind != "invalid_target" {
		t.Errorf("kind = %q", kind)
	}
	if n := eng.openCount(); n != 0 {
		t.Errorf("open pages = %d, want 0", n)
	}

	if _, err := svc.Extract(context.Background(), "   ", false); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("blank slug err = %v, want ErrInvalidTarget", err)
	}
}

func TestExtract_PremiumFlag_NoAttempt(t *testing.T) {
	// WHAT: A channel flagged premium in the registry is rejected without
	// opening a page.
	// WHY: The wall is known in advance; rendering the page would burn a
	// full attempt to learn nothing.
	eng := &fakeEngine{}
	svc := newTestService(t, eng, fastConfig())

	_, err := svc.Extract(context.Background(), "tamasha-exclusive", false)
	if !errors.Is(err, ErrPremiumLocked) {
		t.Fatalf("err = %v, want ErrPremiumLocked", err)
	}
	if n := eng.openCount(); n != 0 {
		t.Errorf("open pages = %d, want 0", n)
	}
}

func TestExtract_RetryAfterTransientFailure(t *testing.T) {
	// WHAT: An attempt that finds nothing is retried, and the retry's
	// success lands in the cache exactly once.
	// WHY: Player pages are flaky; one barren run must not fail the call
	// when the budget allows another look.
	empty := &fakePage{} // no traffic, attempt runs out its budget
	good := manifestPage(testManifestURL)
	eng := &fakeEngine{pages: []*fakePage{empty, good}}
	svc := newTestService(t, eng, fastConfig())

	res, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.ManifestURL != testManifestURL {
		t.Errorf("manifest url = %q", res.ManifestURL)
	}
	if n := eng.openCount(); n != 2 {
		t.Errorf("open pages = %d, want 2", n)
	}

	// The cached entry serves the next call without a third attempt.
	again, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil || !again.Cached {
		t.Fatalf("follow-up not cached: res=%+v err=%v", again, err)
	}
	st := svc.Stats()
	if st.Attempts != 2 || st.Successes != 1 {
		t.Errorf("attempts=%d successes=%d, want 2/1", st.Attempts, st.Successes)
	}
}

func TestExtract_PremiumRedirect_NoRetry(t *testing.T) {
	// WHAT: Landing on a subscription URL fails the call after one
	// attempt even though the retry budget allows two.
	// WHY: The wall does not come down on a second visit; retrying is
	// pure waste.
	page := &fakePage{landed: "https://tamashaweb.com/plans?from=ary-news"}
	eng := &fakeEngine{pages: []*fakePage{page, manifestPage(testManifestURL)}}
	svc := newTestService(t, eng, fastConfig())

	_, err := svc.Extract(context.Background(), "ary-news", false)
	if !errors.Is(err, ErrPremiumLocked) {
		t.Fatalf("err = %v, want ErrPremiumLocked", err)
	}
	if n := eng.openCount(); n != 1 {
		t.Errorf("open pages = %d, want 1 (no retry)", n)
	}
}

func TestExtract_Force_BypassesCache(t *testing.T) {
	// WHAT: force re-extracts even with a live cache entry and replaces
	// the entry with the fresh result.
	// WHY: Operators need an escape hatch when an upstream token dies
	// before its TTL.
	urlB := "https://edge.example.com/live/abc/playlist.m3u8?wmsAuthSign=fresh"
	eng := &fakeEngine{pages: []*fakePage{manifestPage(testManifestURL), manifestPage(urlB)}}
	svc := newTestService(t, eng, fastConfig())

	if _, err := svc.Extract(context.Background(), "ary-news", false); err != nil {
		t.Fatalf("seed Extract: %v", err)
	}
	forced, err := svc.Extract(context.Background(), "ary-news", true)
	if err != nil {
		t.Fatalf("forced Extract: %v", err)
	}
	if forced.Cached || forced.ManifestURL != urlB {
		t.Fatalf("forced = %+v, want fresh %q", forced, urlB)
	}
	if n := eng.openCount(); n != 2 {
		t.Errorf("open pages = %d, want 2", n)
	}

	cached, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil || !cached.Cached || cached.ManifestURL != urlB {
		t.Fatalf("cache not replaced: res=%+v err=%v", cached, err)
	}
}

func TestExtract_BreakerTripsAndRecovers(t *testing.T) {
	// WHAT: Three consecutive crashes open the breaker; extractions then
	// fail fast with zero attempts until the cooloff, after which one
	// healthy probe closes it again.
	// WHY: A dying browser must not take every request down the full
	// retry budget with it; the service degrades fast and recovers alone.
	clock := newTestClock()
	crash := func() *fakePage { return &fakePage{navErr: errors.New("ws: connection torn down")} }
	eng := &fakeEngine{pages: []*fakePage{crash(), crash(), crash(), manifestPage(testManifestURL)}}
	svc := newTestService(t, eng, fastConfig(), WithClock(clock.now))

	// Two crashes on the first call, third crash on the second call
	// trips the breaker mid-call; its retry is rejected without a page.
	if _, err := svc.Extract(context.Background(), "ary-news", false); !errors.Is(err, ErrBrowserCrashed) {
		t.Fatalf("first call err = %v, want ErrBrowserCrashed", err)
	}
	if _, err := svc.Extract(context.Background(), "ary-news", false); !errors.Is(err, ErrBrowserUnavailable) {
		t.Fatalf("second call err = %v, want ErrBrowserUnavailable", err)
	}
	if st := svc.Stats(); st.BreakerState != "open" || st.Crashes != 3 {
		t.Fatalf("stats after trip = %+v", st)
	}

	// Open breaker rejects without touching the engine.
	before := eng.openCount()
	if _, err := svc.Extract(context.Background(), "ary-news", false); !errors.Is(err, ErrBrowserUnavailable) {
		t.Fatalf("open-state err = %v, want ErrBrowserUnavailable", err)
	}
	if eng.openCount() != before {
		t.Error("open breaker still opened a page")
	}

	// After the cooloff a probe goes through and closes the breaker.
	clock.advance(60 * time.Millisecond)
	res, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil {
		t.Fatalf("probe Extract: %v", err)
	}
	if res.ManifestURL != testManifestURL {
		t.Errorf("probe url = %q", res.ManifestURL)
	}
	if st := svc.Stats(); st.BreakerState != "closed" {
		t.Errorf("breaker = %q after healthy probe, want closed", st.BreakerState)
	}
}

func TestExtract_NavTimeout_Classified(t *testing.T) {
	// WHAT: A page that never fires its load event and never produces
	// traffic fails as navigation_timeout, not no_manifest_found.
	// WHY: The two kinds point at different remedies (dead page vs wrong
	// heuristics); conflating them sends operators chasing ghosts.
	page := &fakePage{navGate: make(chan struct{})} // never closed
	eng := &fakeEngine{pages: []*fakePage{page}}

	cfg := fastConfig()
	cfg.NavTimeout = 30 * time.Millisecond
	cfg.AttemptTimeout = 80 * time.Millisecond
	cfg.MaxAttempts = 1
	svc := newTestService(t, eng, cfg)

	_, err := svc.Extract(context.Background(), "ary-news", false)
	if !errors.Is(err, ErrNavigationTimeout) {
		t.Fatalf("err = %v, want ErrNavigationTimeout", err)
	}
	if kind := FailureKind(err); kind != "navigation_timeout" {
		t.Errorf("kind = %q", kind)
	}
}

func TestExtract_SingleBrowserSlot(t *testing.T) {
	// WHAT: Extractions of different channels never render concurrently;
	// the second queues until the first releases the slot.
	// WHY: One headless browser is the capacity model; two rendering
	// sessions at once would fight over it and both would flake.
	pageA := manifestPage(testManifestURL)
	pageA.navDelay = 30 * time.Millisecond
	pageB := manifestPage(testManifestURL)
	pageB.navDelay = 30 * time.Millisecond
	eng := &fakeEngine{pages: []*fakePage{pageA, pageB}}
	svc := newTestService(t, eng, fastConfig())

	var wg sync.WaitGroup
	for _, ch := range []string{"ary-news", "hum-tv"} {
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			if _, err := svc.Extract(context.Background(), ch, false); err != nil {
				t.Errorf("Extract(%s): %v", ch, err)
			}
		}(ch)
	}
	wg.Wait()

	if n := eng.openCount(); n != 2 {
		t.Errorf("open pages = %d, want 2", n)
	}
	if peak := eng.peak.Load(); peak > 1 {
		t.Errorf("peak concurrent sessions = %d, want 1", peak)
	}
}

func TestPurge(t *testing.T) {
	// WHAT: Purge drops one channel's entry, PurgeAll drops everything,
	// and the cache gauge follows.
	// WHY: Operators purge when an upstream rotates tokens early; the
	// next call must go back to the browser.
	eng := &fakeEngine{pages: []*fakePage{
		manifestPage(testManifestURL),
		manifestPage(testManifestURL),
		manifestPage(testManifestURL),
	}}
	svc := newTestService(t, eng, fastConfig())

	if _, err := svc.Extract(context.Background(), "ary-news", false); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !svc.Purge("ary-news") {
		t.Error("Purge reported no entry for a cached channel")
	}
	if svc.Purge("ary-news") {
		t.Error("second Purge reported an entry")
	}

	res, err := svc.Extract(context.Background(), "ary-news", false)
	if err != nil || res.Cached {
		t.Fatalf("post-purge extract: res=%+v err=%v", res, err)
	}
	if n := eng.openCount(); n != 2 {
		t.Errorf("open pages = %d, want 2", n)
	}

	if _, err := svc.Extract(context.Background(), "hum-tv", false); err != nil {
		t.Fatalf("Extract hum-tv: %v", err)
	}
	if st := svc.Stats(); st.CacheEntries != 2 {
		t.Fatalf("gauge = %d, want 2", st.CacheEntries)
	}
	if n := svc.PurgeAll(); n != 2 {
		t.Errorf("PurgeAll = %d, want 2", n)
	}
	if st := svc.Stats(); st.CacheEntries != 0 {
		t.Errorf("gauge after PurgeAll = %d, want 0", st.CacheEntries)
	}
}

func TestNew_RequiresEngineAndResolver(t *testing.T) {
	// WHAT: New rejects a nil engine or resolver outright.
	// WHY: Both are load-bearing; failing at startup beats a nil-pointer
	// panic on the first request.
	if _, err := New(nil, testResolver, Config{}); err == nil {
		t.Error("nil engine accepted")
	}
	if _, err := New(&fakeEngine{}, nil, Config{}); err == nil {
		t.Error("nil resolver accepted")
	}
}
