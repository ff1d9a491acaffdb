package sourcier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/sourcier/internal/manifest"
)

// titlePolicy strips markup from page titles before they reach API
// payloads. Titles come straight out of untrusted documents.
var titlePolicy = bluemonday.StrictPolicy()

// driver executes one browser attempt end to end: open an isolated
// session, navigate, observe traffic, nudge the player when nothing
// arrives on its own, and classify the outcome. Teardown is deferred so
// a session never outlives its attempt, whatever path exits.
type driver struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func (d *driver) attempt(ctx context.Context, t Target) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	page, err := d.engine.OpenPage(actx, d.cfg.pageConfig())
	if err != nil {
		return Result{}, fmt.Errorf("%w: open page: %v", ErrBrowserUnavailable, err)
	}
	defer page.Close()

	log := d.logger.With("channel", t.Slug)
	m := manifest.New(d.cfg.Patterns)

	navCtx, navCancel := context.WithTimeout(actx, d.cfg.NavTimeout)
	navErr := page.Navigate(navCtx, t.PageURL)
	navCancel()

	navTimedOut := false
	switch {
	case navErr == nil:
		if m.PremiumRedirect(page.LandedURL()) {
			return Result{}, fmt.Errorf("%w: redirected to %s", ErrPremiumLocked, page.LandedURL())
		}
	case actx.Err() != nil:
		return Result{}, fmt.Errorf("%w: %s", ErrNavigationTimeout, t.PageURL)
	case errors.Is(navErr, context.DeadlineExceeded):
		// The load event never fired, but the page may already be
		// streaming. Keep observing until the attempt budget runs out.
		navTimedOut = true
		log.Debug("navigation timed out, observing anyway", "url", t.PageURL)
	default:
		return Result{}, fmt.Errorf("%w: navigate: %v", ErrBrowserCrashed, navErr)
	}

	body := func(id string) (string, bool) { return page.ResponseBody(id) }
	settleBy := d.now().Add(d.cfg.SettleWait)

	var (
		nudged    bool
		harvested bool
		harvestBy time.Time
		literals  []string
		opFails   int
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		in := manifest.Input{Exchanges: page.Exchanges(), Body: body}
		if harvested {
			in.Literals = literals
			html, err := page.HTML(actx)
			switch {
			case err == nil:
				in.HTML = html
				opFails = 0
			case actx.Err() != nil:
				// Deadline, not a fault; classified below.
			default:
				opFails++
				if opFails >= 3 {
					return Result{}, fmt.Errorf("%w: page unresponsive: %v", ErrBrowserCrashed, err)
				}
			}
		}
		if c, ok := m.Evaluate(in); ok {
			log.Debug("matched", "source", c.Source, "score", c.Score)
			return d.finish(actx, page, t, c)
		}

		if !nudged && !d.now().Before(settleBy) {
			// Nothing arrived on its own. Rule out a subscription wall,
			// then poke the player awake.
			if m.PremiumRedirect(page.LandedURL()) {
				return Result{}, fmt.Errorf("%w: redirected to %s", ErrPremiumLocked, page.LandedURL())
			}
			if html, err := page.HTML(actx); err == nil && m.PremiumWalled(html) {
				return Result{}, fmt.Errorf("%w: subscription wall on %s", ErrPremiumLocked, t.Slug)
			}
			d.nudge(actx, page, log)
			nudged = true
			// Give the click a few polls to fire requests before asking
			// the players directly.
			harvestBy = d.now().Add(4 * d.cfg.PollInterval)
		}
		if nudged && !harvested && !d.now().Before(harvestBy) {
			literals = d.harvest(actx, page)
			harvested = true
		}

		select {
		case <-ticker.C:
		case <-actx.Done():
			// Budget exhausted: one last look at everything gathered,
			// then classify.
			in := manifest.Input{Exchanges: page.Exchanges(), Body: body, Literals: literals}
			if c, ok := m.Evaluate(in); ok {
				return d.finish(actx, page, t, c)
			}
			if navTimedOut {
				return Result{}, fmt.Errorf("%w: %s", ErrNavigationTimeout, t.PageURL)
			}
			return Result{}, fmt.Errorf("%w: %s", ErrNoManifestFound, t.Slug)
		}
	}
}

// finish builds the successful Result: title from the live document when
// retrievable, playback headers derived from the page the manifest was
// captured on.
func (d *driver) finish(ctx context.Context, page Page, t Target, c manifest.Candidate) (Result, error) {
	title := t.Name
	if raw, err := page.Eval(ctx, `() => document.title`); err == nil {
		var s string
		if json.Unmarshal([]byte(raw), &s) == nil {
			if s = strings.TrimSpace(titlePolicy.Sanitize(s)); s != "" {
				title = s
			}
		}
	}
	return Result{
		Channel:     t.Slug,
		ManifestURL: c.URL,
		Title:       title,
		Source:      string(c.Source),
		Headers:     playbackHeaders(t.PageURL, d.cfg.UserAgent),
		ExtractedAt: d.now(),
	}, nil
}

// nudge clicks the first present play control and nudges every video
// element into muted autoplay, the same motions a viewer goes through
// when a stream does not start by itself.
func (d *driver) nudge(ctx context.Context, page Page, log *slog.Logger) {
	for _, sel := range d.cfg.Patterns.PlaySelectors {
		if page.Click(ctx, sel) {
			log.Debug("clicked play control", "selector", sel)
			break
		}
	}
	if _, err := page.Eval(ctx, autoplayJS); err != nil {
		log.Debug("autoplay nudge failed", "error", err)
	}
}

// harvest pulls manifest candidates the network observer cannot see:
// video element sources and the playlists in-page player objects hold.
func (d *driver) harvest(ctx context.Context, page Page) []string {
	var out []string
	for _, js := range []string{videoSrcJS, playerProbeJS} {
		raw, err := page.Eval(ctx, js)
		if err != nil {
			continue
		}
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err != nil {
			continue
		}
		out = append(out, urls...)
	}
	return out
}

// playbackHeaders are what a player must present for the extracted URL
// to keep working outside the browser: the referer and user agent the
// capturing session used.
func playbackHeaders(pageURL, userAgent string) map[string]string {
	h := map[string]string{
		"Referer":    pageURL,
		"User-Agent": userAgent,
	}
	if u, err := url.Parse(pageURL); err == nil && u.Scheme != "" && u.Host != "" {
		h["Origin"] = u.Scheme + "://" + u.Host
	}
	return h
}

const autoplayJS = `() => {
	window.scrollTo(0, Math.floor(document.body.scrollHeight / 3));
	for (const v of document.querySelectorAll('video')) {
		v.muted = true;
		const p = v.play();
		if (p && p.catch) p.catch(() => {});
	}
}`

const videoSrcJS = `() => {
	const out = [];
	for (const el of document.querySelectorAll('video, source')) {
		for (const u of [el.src, el.currentSrc, el.getAttribute && el.getAttribute('data-src')]) {
			if (u) out.push(u);
		}
	}
	return out;
}`

const playerProbeJS = `() => {
	const out = [];
	try {
		if (window.jwplayer) {
			for (const item of jwplayer().getPlaylist() || []) {
				if (item.file) out.push(item.file);
				for (const s of item.sources || []) if (s.file) out.push(s.file);
			}
		}
	} catch (e) {}
	try {
		if (window.videojs && window.videojs.getPlayers) {
			for (const p of Object.values(window.videojs.getPlayers())) {
				const src = p && p.currentSrc && p.currentSrc();
				if (src) out.push(src);
			}
		}
	} catch (e) {}
	return out;
}`
