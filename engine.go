package sourcier

import (
	"context"

	"github.com/hazyhaar/sourcier/internal/capture"
)

// Engine abstracts the headless browser. The orchestrator never talks to
// a real browser directly; cmd injects the rod-backed engine and tests
// inject fakes.
type Engine interface {
	// OpenPage creates an isolated page session. The session must not
	// share cookies or storage with previous ones.
	OpenPage(ctx context.Context, cfg PageConfig) (Page, error)
	// Close tears the browser down. Engines must tolerate Close after a
	// crash.
	Close() error
}

// Page is one isolated rendering session. Implementations start network
// observation before Navigate returns, so no early exchange is missed.
type Page interface {
	// Navigate drives the page to url and waits for the load event or ctx
	// expiry, whichever comes first.
	Navigate(ctx context.Context, url string) error
	// LandedURL is the document URL after redirects. Valid once Navigate
	// has returned, even on timeout.
	LandedURL() string
	// HTML returns the rendered document, with the bodies of any embedded
	// player frames appended.
	HTML(ctx context.Context) (string, error)
	// Eval runs js in the page and returns the JSON-encoded result.
	Eval(ctx context.Context, js string) (string, error)
	// Click dispatches a click on the first visible match of selector and
	// reports whether anything was clicked. A missing element is not an
	// error.
	Click(ctx context.Context, selector string) bool
	// Exchanges snapshots the network capture log, observation order
	// preserved.
	Exchanges() []capture.Exchange
	// ResponseBody fetches the response body for a captured request,
	// if the browser still holds it.
	ResponseBody(requestID string) (string, bool)
	// Close tears down the session and its observers. Idempotent.
	Close()
}

// PageConfig carries the per-session fingerprint and the markers that
// pick out player iframes worth folding into HTML output.
type PageConfig struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Timezone       string
	Locale         string
	IframeMarkers  []string
}
