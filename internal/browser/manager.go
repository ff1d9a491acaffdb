// Package browser backs the extraction engine with a real headless
// Chrome driven over CDP. One browser process serves many page sessions;
// the manager launches it lazily, recycles it after a configured number
// of sessions, and relaunches it when it dies under a session.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/sourcier"
)

// Config configures the browser manager.
type Config struct {
	// Bin overrides the browser binary. Empty lets the launcher resolve
	// (or download) one.
	Bin string

	// RemoteURL is the WebSocket URL of an external Chrome. Empty means
	// launch a local one.
	RemoteURL string

	// RecycleAfter is how many page sessions one Chrome process serves
	// before it is replaced. Player pages leak; a periodic fresh process
	// is cheaper than chasing what they leak. Default: 12.
	RecycleAfter int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RecycleAfter <= 0 {
		c.RecycleAfter = 12
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process and hands out isolated page sessions.
// It implements sourcier.Engine.
type Manager struct {
	cfg      Config
	mu       sync.Mutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	sessions int // sessions served by the current process
	startAt  time.Time
	closed   bool
}

// NewManager creates a Manager. Chrome is launched on the first OpenPage.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OpenPage creates a stealth page session in a fresh incognito context,
// relaunching Chrome first when the session budget is spent or the
// process has died.
func (m *Manager) OpenPage(ctx context.Context, cfg sourcier.PageConfig) (sourcier.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser == nil || m.sessions >= m.cfg.RecycleAfter {
		if err := m.relaunchLocked(); err != nil {
			return nil, err
		}
	}

	page, err := m.newPageLocked()
	if err != nil {
		// The process has probably died under us. One relaunch, one
		// retry; a second failure is the caller's problem.
		m.cfg.Logger.Warn("browser: page creation failed, relaunching", "error", err)
		if rerr := m.relaunchLocked(); rerr != nil {
			return nil, rerr
		}
		page, err = m.newPageLocked()
		if err != nil {
			return nil, fmt.Errorf("browser: create page: %w", err)
		}
	}
	m.sessions++

	sess, err := newSession(page, cfg, m.cfg.Logger)
	if err != nil {
		page.Close()
		return nil, err
	}
	return sess, nil
}

// newPageLocked opens a stealth page inside its own incognito context:
// cookies and storage from one extraction never reach the next. Contexts
// live until the recycle replaces the whole process.
func (m *Manager) newPageLocked() (*rod.Page, error) {
	inc, err := m.browser.Incognito()
	if err != nil {
		return nil, err
	}
	return stealth.Page(inc)
}

// Close shuts the browser down. Further OpenPage calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanupLocked()
	return nil
}

func (m *Manager) relaunchLocked() error {
	if m.browser != nil {
		m.cfg.Logger.Info("browser: recycling",
			"sessions", m.sessions, "uptime", time.Since(m.startAt))
	}
	m.cleanupLocked()

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		m.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("no-sandbox").
			Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled").
			Set("autoplay-policy", "no-user-gesture-required").
			Set("mute-audio")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Info("browser: launched chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		m.cfg.Logger.Warn("browser: ignore cert errors failed", "error", err)
	}

	m.browser = b
	m.sessions = 0
	m.startAt = time.Now()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
