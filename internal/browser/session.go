package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/sourcier"
	"github.com/hazyhaar/sourcier/internal/capture"
)

// session is one isolated page. Network observation starts here, in the
// constructor, so the capture log exists before the first byte of
// navigation traffic.
type session struct {
	page    *rod.Page
	log     *capture.Log
	markers []string // iframe src markers worth folding into HTML()
	logger  *slog.Logger

	closeOnce sync.Once
}

func newSession(page *rod.Page, cfg sourcier.PageConfig, logger *slog.Logger) (*session, error) {
	s := &session{
		page:    page,
		log:     capture.NewLog(),
		markers: cfg.IframeMarkers,
		logger:  logger,
	}

	if cfg.UserAgent != "" {
		ua := &proto.NetworkSetUserAgentOverride{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.Locale,
		}
		if err := page.SetUserAgent(ua); err != nil {
			logger.Warn("browser: set user agent failed", "error", err)
		}
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		vp := &proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}
		if err := page.SetViewport(vp); err != nil {
			logger.Warn("browser: set viewport failed", "error", err)
		}
	}
	if cfg.Timezone != "" {
		tz := proto.EmulationSetTimezoneOverride{TimezoneID: cfg.Timezone}
		if err := tz.Call(page); err != nil {
			logger.Warn("browser: set timezone failed", "error", err)
		}
	}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, err
	}

	onRequest := func(ev *proto.NetworkRequestWillBeSent) {
		s.log.Add(string(ev.RequestID), capture.Exchange{
			URL:         ev.Request.URL,
			Method:      ev.Request.Method,
			ResourceTyp: string(ev.Type),
		})
	}
	onResponse := func(ev *proto.NetworkResponseReceived) {
		s.log.Complete(string(ev.RequestID),
			ev.Response.Status,
			ev.Response.MIMEType,
			int64(ev.Response.EncodedDataLength))
	}
	wait := page.EachEvent(onRequest, onResponse)
	go wait()

	return s, nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *session) LandedURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// HTML returns the outer document plus the body of every iframe whose
// src looks like an embedded player. Streams frequently live one frame
// down; the matcher sees a single flattened document.
func (s *session) HTML(ctx context.Context) (string, error) {
	p := s.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return "", err
	}

	frames, err := p.Elements("iframe")
	if err != nil {
		return html, nil
	}
	var b strings.Builder
	b.WriteString(html)
	for _, el := range frames {
		src, err := el.Attribute("src")
		if err != nil || src == nil || !s.playerFrame(*src) {
			continue
		}
		frame, err := el.Frame()
		if err != nil {
			continue
		}
		inner, err := frame.Context(ctx).HTML()
		if err != nil {
			s.logger.Debug("browser: frame html failed", "src", *src, "error", err)
			continue
		}
		b.WriteString("\n")
		b.WriteString(inner)
	}
	return b.String(), nil
}

func (s *session) playerFrame(src string) bool {
	low := strings.ToLower(src)
	for _, m := range s.markers {
		if m != "" && strings.Contains(low, m) {
			return true
		}
	}
	return false
}

// Eval runs js in the page and returns its result re-encoded as JSON, so
// callers stay decoupled from the CDP value representation.
func (s *session) Eval(ctx context.Context, js string) (string, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(res.Value.Val())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Click clicks the first visible match of selector. Absent or hidden
// elements report false without error; the driver just moves to the next
// selector.
func (s *session) Click(ctx context.Context, selector string) bool {
	p := s.page.Context(ctx)
	has, el, err := p.Has(selector)
	if err != nil || !has {
		return false
	}
	if vis, err := el.Visible(); err != nil || !vis {
		return false
	}
	if err := el.ScrollIntoView(); err != nil {
		return false
	}
	return el.Click(proto.InputMouseButtonLeft, 1) == nil
}

func (s *session) Exchanges() []capture.Exchange {
	return s.log.Snapshot()
}

// ResponseBody fetches a captured response body from the browser. Bodies
// are only retrievable while Chrome still buffers them, so a false here
// is common and the caller retries on its next poll.
func (s *session) ResponseBody(requestID string) (string, bool) {
	res, err := proto.NetworkGetResponseBody{
		RequestID: proto.NetworkRequestID(requestID),
	}.Call(s.page)
	if err != nil {
		return "", false
	}
	body := res.Body
	if res.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return "", false
		}
		body = string(decoded)
	}
	return body, true
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("browser: closing page", "exchanges", s.log.Len())
		if err := s.page.Close(); err != nil {
			s.logger.Debug("browser: page close failed", "error", err)
		}
	})
}
