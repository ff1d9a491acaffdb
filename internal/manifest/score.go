package manifest

import (
	"net/url"
	"strings"
)

// Score ranks a candidate manifest URL. Higher is better. The tiers come
// from observed behaviour of the target site's streaming backend: the signed
// wmsauthsign variants are directly playable, playlist/chunklist URLs are
// stream-level (preferred over master playlists, which need a second fetch),
// and longer URLs with more parameters tend to carry the session tokens a
// player actually needs.
func Score(raw string) int {
	l := strings.ToLower(raw)
	score := 0

	if strings.Contains(l, "wmsauthsign") {
		score += 200
	}

	switch {
	case strings.Contains(l, "playlist.m3u8"):
		score += 100
	case strings.Contains(l, "chunklist"):
		score += 90
	case strings.Contains(l, "index.m3u8"):
		score += 80
	case strings.Contains(l, "master.m3u8"):
		score += 50
	case strings.Contains(l, ".m3u8"):
		score += 40
	}

	if strings.Contains(l, "nimblesessionid") {
		score += 30
	}

	if u, err := url.Parse(raw); err == nil {
		score += 10 * len(u.Query())
	}

	if bonus := len(raw) / 50; bonus > 20 {
		score += 20
	} else {
		score += bonus
	}

	return score
}

// Canonical strips per-session query parameters so two captures of the same
// stream compare equal. The session id changes on every page load; without
// stripping it, every attempt would look like a brand-new candidate.
func Canonical(raw string, sessionParams []string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, p := range sessionParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
