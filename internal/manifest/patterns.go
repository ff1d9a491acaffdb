// Package manifest decides whether a page has yielded a playable HLS
// manifest. It inspects the capture log and the rendered DOM through an
// ordered set of heuristics; the patterns driving those heuristics are
// site-specific data, shipped as defaults here and replaceable through the
// service config file.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Patterns is the data side of the matcher: which URLs look like manifests,
// which endpoints are worth body-scanning, what marks a subscription wall.
// The ordering contract (exchange URL → config body → DOM literal) is fixed
// in code; only these literals move with the target site.
type Patterns struct {
	// ManifestMarkers are URL substrings that identify a manifest request.
	ManifestMarkers []string `yaml:"manifest_markers"`
	// ManifestTypes are response content types that identify a manifest
	// even when the URL gives nothing away.
	ManifestTypes []string `yaml:"manifest_types"`
	// ConfigMarkers are URL substrings for player-config or auth endpoints
	// whose response body may embed the manifest URL.
	ConfigMarkers []string `yaml:"config_markers"`
	// PremiumMarkers, found in the rendered page text, mean the channel is
	// behind a subscription wall and retrying is pointless.
	PremiumMarkers []string `yaml:"premium_markers"`
	// PremiumPaths are URL fragments that mark a login/subscription
	// redirect: landing on one of these means the channel is not free.
	PremiumPaths []string `yaml:"premium_paths"`
	// PlaySelectors are CSS selectors the driver clicks when the page has
	// loaded but no traffic matched yet.
	PlaySelectors []string `yaml:"play_selectors"`
	// IframeMarkers pick out the iframes worth treating as embedded
	// players during the nudge phase.
	IframeMarkers []string `yaml:"iframe_markers"`
	// SessionParams are query parameters that vary per viewer session and
	// are stripped before candidates are compared for deduplication.
	SessionParams []string `yaml:"session_params"`
}

// Defaults returns the pattern set for the currently supported target site.
func Defaults() Patterns {
	return Patterns{
		ManifestMarkers: []string{
			".m3u8",
			"wmsauthsign",
			"playlist.m3u8",
			"master.m3u8",
			"chunklist",
			"index.m3u8",
		},
		ManifestTypes: []string{
			"application/vnd.apple.mpegurl",
			"application/x-mpegurl",
			"audio/mpegurl",
			"audio/x-mpegurl",
		},
		ConfigMarkers: []string{
			"jazzauth",
			"getstream",
			"stream/auth",
			"player/config",
		},
		PremiumMarkers: []string{
			"please login to continue",
			"subscribe to watch",
			"get tamasha pro",
			"login to watch",
			"sign in to continue",
			"this content is for pro",
			"premium content",
			"enter your otp",
		},
		PremiumPaths: []string{
			"/plans",
			"/login",
			"/subscribe",
			"/signup",
			"/otp",
			"login-required",
			"subscription",
			"premium",
			"sign-in",
			"signin",
			"get-pro",
			"upgrade",
		},
		PlaySelectors: []string{
			"button.vjs-big-play-button",
			".play-button",
			".vjs-play-control",
			"button[aria-label='Play']",
			".jw-icon-playback",
			"video",
		},
		IframeMarkers: []string{
			"player",
			"embed",
			"stream",
			"video",
			"live",
		},
		SessionParams: []string{
			"nimblesessionid",
		},
	}
}

// Merge overlays o on top of p. Non-empty lists in o replace the
// corresponding list wholesale; empty lists keep the base. Wholesale
// replacement keeps the file self-describing: what you see in the file is
// what the matcher uses.
func (p Patterns) Merge(o Patterns) Patterns {
	if len(o.ManifestMarkers) > 0 {
		p.ManifestMarkers = o.ManifestMarkers
	}
	if len(o.ManifestTypes) > 0 {
		p.ManifestTypes = o.ManifestTypes
	}
	if len(o.ConfigMarkers) > 0 {
		p.ConfigMarkers = o.ConfigMarkers
	}
	if len(o.PremiumMarkers) > 0 {
		p.PremiumMarkers = o.PremiumMarkers
	}
	if len(o.PremiumPaths) > 0 {
		p.PremiumPaths = o.PremiumPaths
	}
	if len(o.PlaySelectors) > 0 {
		p.PlaySelectors = o.PlaySelectors
	}
	if len(o.IframeMarkers) > 0 {
		p.IframeMarkers = o.IframeMarkers
	}
	if len(o.SessionParams) > 0 {
		p.SessionParams = o.SessionParams
	}
	return p
}

// LoadFile reads a YAML pattern overlay. Missing keys keep defaults; the
// caller merges with Merge.
func LoadFile(path string) (Patterns, error) {
	var p Patterns
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("manifest: read patterns: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("manifest: parse patterns: %w", err)
	}
	return p, nil
}
