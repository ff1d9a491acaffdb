package sourcier

import (
	"time"

	"github.com/hazyhaar/sourcier/internal/manifest"
)

// Config tunes the extraction orchestrator. The zero value is usable:
// defaults() fills anything left unset.
type Config struct {
	// AttemptTimeout bounds one full browser attempt, navigation through
	// the last observation poll.
	AttemptTimeout time.Duration

	// NavTimeout bounds the navigation phase alone. Expiry is not fatal:
	// heavy player pages often stream the manifest while the load event
	// is still pending, so the attempt keeps observing.
	NavTimeout time.Duration

	// SettleWait is how long after navigation the attempt listens for
	// spontaneous traffic before it starts nudging the player.
	SettleWait time.Duration

	// PollInterval is the cadence of matcher evaluation during an attempt.
	PollInterval time.Duration

	// MaxAttempts caps browser attempts per extraction, first try included.
	MaxAttempts int

	// RetryBackoff is the base delay between attempts; it doubles per retry.
	RetryBackoff time.Duration

	// CacheTTL is how long a successful extraction is served from cache.
	CacheTTL time.Duration

	// CrashThreshold is the run of consecutive browser faults that opens
	// the unavailability breaker; CrashCooloff is how long it stays open
	// before a probe attempt is allowed.
	CrashThreshold int
	CrashCooloff   time.Duration

	// Browser fingerprint for every page session.
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Timezone       string
	Locale         string

	// Patterns drives the manifest heuristics. Zero value means built-in
	// defaults; a partial overlay replaces only the lists it names.
	Patterns manifest.Patterns
}

func (c *Config) defaults() {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 45 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleWait <= 0 {
		c.SettleWait = 12 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CrashThreshold <= 0 {
		c.CrashThreshold = 3
	}
	if c.CrashCooloff <= 0 {
		c.CrashCooloff = 45 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Karachi"
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	c.Patterns = manifest.Defaults().Merge(c.Patterns)
}

// MaxExtractionTime is the worst-case wall time one extraction can hold a
// caller: every attempt at full budget plus every inter-attempt backoff.
// Boundary layers size their write timeouts from this.
func (c Config) MaxExtractionTime() time.Duration {
	cc := c
	cc.defaults()
	total := time.Duration(cc.MaxAttempts) * cc.AttemptTimeout
	backoff := cc.RetryBackoff
	for i := 1; i < cc.MaxAttempts; i++ {
		total += backoff
		backoff *= 2
	}
	return total
}

func (c Config) pageConfig() PageConfig {
	return PageConfig{
		UserAgent:      c.UserAgent,
		ViewportWidth:  c.ViewportWidth,
		ViewportHeight: c.ViewportHeight,
		Timezone:       c.Timezone,
		Locale:         c.Locale,
		IframeMarkers:  c.Patterns.IframeMarkers,
	}
}
