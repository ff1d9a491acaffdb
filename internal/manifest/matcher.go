package manifest

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/sourcier/internal/capture"
)

// Source records which heuristic class produced a candidate.
type Source string

const (
	SourceExchange Source = "exchange" // manifest URL seen directly on the wire
	SourceBody     Source = "body"     // embedded in a player-config response body
	SourceDOM      Source = "dom"      // literal in the rendered page or a player object
)

// Candidate is a scored manifest URL.
type Candidate struct {
	URL    string
	Source Source
	Score  int

	order int // observation rank within a class, earlier wins score ties
}

// manifestRe finds URL-shaped manifest references in free text (response
// bodies, script blocks, attribute values). Escaped slashes are normalised
// away before scanning, so the class only needs to handle plain URLs.
var manifestRe = regexp.MustCompile(`https?://[^"'\s<>\\]+\.m3u8[^"'\s<>\\]*`)

// Matcher applies the discovery heuristics in their fixed order: wire
// exchanges first, then config-response bodies, then DOM literals. The first
// class that yields anything wins; scoring only ranks candidates inside one
// class. Evaluation is a pure function of its input plus the memo of
// exchanges already examined and rejected, so polling it repeatedly with an
// unchanged log returns the same answer without rescanning.
//
// A Matcher belongs to a single attempt and is not safe for concurrent use.
type Matcher struct {
	pat      Patterns
	rejected map[string]bool // request id → settled and examined, not a manifest
	scanned  map[string]bool // request id → body scanned, nothing embedded
}

// New returns a Matcher over the given pattern set.
func New(pat Patterns) *Matcher {
	return &Matcher{
		pat:      pat,
		rejected: make(map[string]bool),
		scanned:  make(map[string]bool),
	}
}

// Input bundles everything one evaluation may look at. Body and HTML are
// optional: a nil Body disables the config-response class, an empty HTML
// disables the DOM walk (Literals are still considered).
type Input struct {
	Exchanges []capture.Exchange
	// Body returns the response body for a request id, if retrievable.
	Body func(requestID string) (string, bool)
	// HTML is the rendered document at evaluation time.
	HTML string
	// Literals are candidate URLs harvested outside the document text
	// (player-object probes, iframe sources).
	Literals []string
}

// Evaluate runs the heuristic classes in order and returns the winning
// candidate, or false if nothing matched yet. "Nothing yet" is not an
// error: the driver keeps polling until its own deadline.
func (m *Matcher) Evaluate(in Input) (Candidate, bool) {
	if c, ok := m.fromExchanges(in.Exchanges); ok {
		return c, true
	}
	if in.Body != nil {
		if c, ok := m.fromBodies(in.Exchanges, in.Body); ok {
			return c, true
		}
	}
	return m.fromDOM(in.HTML, in.Literals)
}

// fromExchanges is the first class: an exchange whose URL (or content type)
// marks it as a manifest, with a success-class response.
func (m *Matcher) fromExchanges(log []capture.Exchange) (Candidate, bool) {
	var found []Candidate
	for i, e := range log {
		if e.URL == "" || m.rejected[e.RequestID] {
			continue
		}
		if !m.looksManifest(e) {
			// Only settled exchanges are memoised: a pending request may
			// still grow the response half that makes it match.
			if e.Status != 0 && e.RequestID != "" {
				m.rejected[e.RequestID] = true
			}
			continue
		}
		if !e.Completed() {
			continue
		}
		found = append(found, Candidate{URL: e.URL, Source: SourceExchange, Score: Score(e.URL), order: i})
	}
	return m.best(found)
}

// fromBodies is the second class: a player-config or auth endpoint whose
// response body embeds the manifest URL.
func (m *Matcher) fromBodies(log []capture.Exchange, fetch func(string) (string, bool)) (Candidate, bool) {
	var found []Candidate
	order := 0
	for _, e := range log {
		if e.URL == "" || e.RequestID == "" || m.scanned[e.RequestID] {
			continue
		}
		if !e.Completed() || !containsAny(strings.ToLower(e.URL), m.pat.ConfigMarkers) {
			continue
		}
		body, ok := fetch(e.RequestID)
		if !ok {
			// Body not retrievable right now; retry on the next poll.
			continue
		}
		urls := manifestRe.FindAllString(strings.ReplaceAll(body, `\/`, `/`), -1)
		if len(urls) == 0 {
			m.scanned[e.RequestID] = true
			continue
		}
		for _, u := range urls {
			found = append(found, Candidate{URL: u, Source: SourceBody, Score: Score(u), order: order})
			order++
		}
	}
	return m.best(found)
}

// fromDOM is the last class: manifest literals in the document itself or
// harvested from in-page player objects.
func (m *Matcher) fromDOM(html string, literals []string) (Candidate, bool) {
	var found []Candidate
	order := 0
	add := func(s string) {
		for _, u := range manifestRe.FindAllString(s, -1) {
			found = append(found, Candidate{URL: u, Source: SourceDOM, Score: Score(u), order: order})
			order++
		}
	}
	if html != "" {
		for _, u := range scanDocument(html) {
			add(u)
		}
	}
	for _, u := range literals {
		add(u)
	}
	return m.best(found)
}

// PremiumWalled reports whether the rendered document shows a subscription
// wall. Checked by the driver once navigation settles without a match, so a
// locked channel fails fast instead of burning the whole attempt budget.
// Only visible text is considered; markers inside scripts don't count.
func (m *Matcher) PremiumWalled(doc string) bool {
	return containsAny(strings.ToLower(visibleText(doc)), m.pat.PremiumMarkers)
}

// PremiumRedirect reports whether the page landed on a login/subscription
// URL instead of the channel. The landed URL is compared, not the requested
// one: the wall is usually reached through a client-side redirect.
func (m *Matcher) PremiumRedirect(landedURL string) bool {
	return containsAny(strings.ToLower(landedURL), m.pat.PremiumPaths)
}

func (m *Matcher) looksManifest(e capture.Exchange) bool {
	if containsAny(strings.ToLower(e.URL), m.pat.ManifestMarkers) {
		return true
	}
	if e.ContentType == "" {
		return false
	}
	ct := strings.ToLower(e.ContentType)
	for _, t := range m.pat.ManifestTypes {
		if strings.HasPrefix(ct, t) {
			return true
		}
	}
	return false
}

// best deduplicates by canonical URL (session parameters stripped) and picks
// the highest score; among equal scores the earliest observation wins.
func (m *Matcher) best(found []Candidate) (Candidate, bool) {
	if len(found) == 0 {
		return Candidate{}, false
	}
	byCanon := make(map[string]Candidate, len(found))
	for _, c := range found {
		key := Canonical(c.URL, m.pat.SessionParams)
		prev, seen := byCanon[key]
		if !seen || c.Score > prev.Score {
			byCanon[key] = c
		}
	}
	var win Candidate
	first := true
	for _, c := range byCanon {
		if first || c.Score > win.Score || (c.Score == win.Score && c.order < win.order) {
			win = c
			first = false
		}
	}
	return win, true
}

func containsAny(s string, markers []string) bool {
	for _, mk := range markers {
		if mk != "" && strings.Contains(s, strings.ToLower(mk)) {
			return true
		}
	}
	return false
}
