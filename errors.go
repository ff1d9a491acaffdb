package sourcier

import "errors"

// The extraction failure taxonomy. The boundary layer matches these with
// errors.Is and never sees anything rawer: browser faults are normalised
// into one of these before they leave the orchestrator.
var (
	// ErrInvalidTarget: unknown or malformed channel. Caller error, never
	// retried.
	ErrInvalidTarget = errors.New("sourcier: invalid target")

	// ErrPremiumLocked: the channel sits behind a login/subscription wall,
	// flagged in the registry or detected on the page. Never retried.
	ErrPremiumLocked = errors.New("sourcier: premium channel")

	// ErrNavigationTimeout: the page never settled within the attempt
	// budget. Retryable.
	ErrNavigationTimeout = errors.New("sourcier: navigation timeout")

	// ErrNoManifestFound: the page loaded but no heuristic matched.
	// Retryable a limited number of times; flaky pages load traffic late.
	ErrNoManifestFound = errors.New("sourcier: no manifest found")

	// ErrBrowserCrashed: the renderer died mid-attempt. Retryable, and
	// counted toward the unavailability breaker.
	ErrBrowserCrashed = errors.New("sourcier: browser crashed")

	// ErrBrowserUnavailable: the engine failed to start, or repeated
	// crashes tripped the breaker. Fails fast until the cooloff passes.
	ErrBrowserUnavailable = errors.New("sourcier: browser unavailable")
)

// Retryable reports whether a failed attempt may be followed by another.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNavigationTimeout),
		errors.Is(err, ErrNoManifestFound),
		errors.Is(err, ErrBrowserCrashed):
		return true
	}
	return false
}

// browserFault reports whether the failure indicts the rendering
// environment rather than the target page. These are the failures the
// breaker counts.
func browserFault(err error) bool {
	return errors.Is(err, ErrBrowserCrashed) || errors.Is(err, ErrBrowserUnavailable)
}

// FailureKind returns the stable error-kind string exposed in API
// payloads. Unknown errors report as "internal".
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrPremiumLocked):
		return "premium_locked"
	case errors.Is(err, ErrNavigationTimeout):
		return "navigation_timeout"
	case errors.Is(err, ErrNoManifestFound):
		return "no_manifest_found"
	case errors.Is(err, ErrBrowserCrashed):
		return "browser_crashed"
	case errors.Is(err, ErrBrowserUnavailable):
		return "browser_unavailable"
	default:
		return "internal"
	}
}
