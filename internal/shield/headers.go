package shield

import "net/http"

// HeaderConfig defines the security headers applied to every response.
// Empty fields are omitted.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string
	CacheControl        string
}

// DefaultHeaders returns the header configuration for a JSON-only API:
// nothing is ever rendered, so the CSP can deny everything. Responses are
// marked no-store because extraction results carry session-bound URLs
// that go stale the moment an intermediary caches them.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		PermissionsPolicy:   "camera=(), microphone=(), geolocation=()",
		CacheControl:        "no-store",
	}
}

// headerSet flattens the config into the headers actually sent.
func (c HeaderConfig) headerSet() map[string]string {
	h := make(map[string]string)
	set := func(name, value string) {
		if value != "" {
			h[name] = value
		}
	}
	set("Content-Security-Policy", c.CSP)
	set("X-Frame-Options", c.XFrameOptions)
	set("X-Content-Type-Options", c.XContentTypeOptions)
	set("Referrer-Policy", c.ReferrerPolicy)
	set("Permissions-Policy", c.PermissionsPolicy)
	set("Cache-Control", c.CacheControl)
	return h
}

// SecurityHeaders returns middleware that sets the configured security
// headers on every response. The header set is computed once, not per
// request.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	headers := cfg.headerSet()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for name, value := range headers {
				w.Header().Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
