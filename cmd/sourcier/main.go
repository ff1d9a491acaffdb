package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sourcier"
	"github.com/hazyhaar/sourcier/internal/browser"
	"github.com/hazyhaar/sourcier/internal/manifest"
	"github.com/hazyhaar/sourcier/internal/registry"
	"github.com/hazyhaar/sourcier/internal/shield"
)

func main() {
	addr := env("SOURCIER_ADDR", ":8080")
	registryPath := env("REGISTRY_DB", "data/sourcier.db")
	baseURL := env("CATALOG_BASE_URL", registry.DefaultBaseURL)
	patternsFile := env("CONFIG_FILE", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Channel registry, seeded with the built-in catalog. Seeding skips
	// existing rows, so operator edits survive restarts.
	reg, err := registry.Open(registryPath, logger)
	if err != nil {
		slog.Error("registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()
	if _, err := reg.Seed(ctx, registry.Catalog(baseURL)); err != nil {
		slog.Error("registry seed", "error", err)
		os.Exit(1)
	}

	// Extraction config from the environment, pattern overlay from file.
	cfg := sourcier.Config{
		AttemptTimeout: envDuration("ATTEMPT_TIMEOUT", 0),
		NavTimeout:     envDuration("NAV_TIMEOUT", 0),
		SettleWait:     envDuration("SETTLE_WAIT", 0),
		MaxAttempts:    envInt("MAX_ATTEMPTS", 0),
		RetryBackoff:   envDuration("RETRY_BACKOFF", 0),
		CacheTTL:       envDuration("CACHE_TTL", 0),
		CrashThreshold: envInt("CRASH_THRESHOLD", 0),
		CrashCooloff:   envDuration("CRASH_COOLOFF", 0),
	}
	if patternsFile != "" {
		overlay, err := manifest.LoadFile(patternsFile)
		if err != nil {
			slog.Error("patterns file", "error", err)
			os.Exit(1)
		}
		cfg.Patterns = overlay
		slog.Info("pattern overlay loaded", "file", patternsFile)
	}

	// Headless browser.
	mgr := browser.NewManager(browser.Config{
		Bin:          env("BROWSER_BIN", ""),
		RemoteURL:    env("BROWSER_WS", ""),
		RecycleAfter: envInt("BROWSER_RECYCLE_AFTER", 0),
		Logger:       logger,
	})

	resolve := func(ctx context.Context, slug string) (sourcier.Target, error) {
		ch, err := reg.Resolve(ctx, slug)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return sourcier.Target{}, fmt.Errorf("%w: unknown channel %q", sourcier.ErrInvalidTarget, slug)
			}
			return sourcier.Target{}, err
		}
		return sourcier.Target{
			Slug:    ch.Slug,
			Name:    ch.Name,
			PageURL: ch.PageURL,
			Premium: ch.Premium,
		}, nil
	}

	svc, err := sourcier.New(mgr, resolve, cfg, sourcier.WithLogger(logger))
	if err != nil {
		slog.Error("service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.APIStack() {
		r.Use(mw)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		n, _ := reg.Count(r.Context())
		writeJSON(w, 200, map[string]any{
			"service":  "sourcier",
			"channels": n,
			"endpoints": []string{
				"GET /api/health",
				"GET /api/channels",
				"GET /api/stream/{channel}",
				"PUT /api/channels/{slug}",
				"DELETE /api/channels/{slug}",
				"DELETE /api/cache",
				"DELETE /api/cache/{channel}",
			},
		})
	})

	started := time.Now()
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{
			"status":         "ok",
			"uptime_seconds": int(time.Since(started).Seconds()),
			"stats":          svc.Stats(),
		})
	})

	r.Get("/api/stream/{channel}", func(w http.ResponseWriter, r *http.Request) {
		channel := chi.URLParam(r, "channel")
		force := r.URL.Query().Get("force") == "1" || r.URL.Query().Get("force") == "true"

		res, err := svc.Extract(r.Context(), channel, force)
		if err != nil {
			writeExtractError(w, r, reg, channel, err)
			return
		}
		writeJSON(w, 200, res)
	})

	r.Get("/api/channels", func(w http.ResponseWriter, r *http.Request) {
		channels, err := reg.List(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if channels == nil {
			channels = []*registry.Channel{}
		}
		writeJSON(w, 200, channels)
	})

	r.Put("/api/channels/{slug}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			PageURL  string `json:"page_url"`
			Category string `json:"category"`
			Premium  bool   `json:"premium"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		ch := &registry.Channel{
			Slug:     chi.URLParam(r, "slug"),
			Name:     req.Name,
			PageURL:  req.PageURL,
			Category: req.Category,
			Premium:  req.Premium,
		}
		if err := reg.Upsert(r.Context(), ch); err != nil {
			writeError(w, 400, err)
			return
		}
		// A row that changed under a live cache entry must not keep
		// serving the old page's result.
		svc.Purge(ch.Slug)
		writeJSON(w, 200, ch)
	})

	r.Delete("/api/channels/{slug}", func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if err := reg.Delete(r.Context(), slug); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeError(w, 404, err)
				return
			}
			writeError(w, 500, err)
			return
		}
		svc.Purge(slug)
		writeJSON(w, 200, map[string]string{"status": "deleted"})
	})

	r.Delete("/api/cache", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]int{"purged": svc.PurgeAll()})
	})

	r.Delete("/api/cache/{channel}", func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if svc.Purge(chi.URLParam(r, "channel")) {
			n = 1
		}
		writeJSON(w, 200, map[string]int{"purged": n})
	})

	// Optional MCP over streamable HTTP, mounted on the same listener.
	if mcpTransport == "http" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "sourcier",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv, func(ctx context.Context) ([]sourcier.ChannelSummary, error) {
			channels, err := reg.List(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]sourcier.ChannelSummary, 0, len(channels))
			for _, c := range channels {
				out = append(out, sourcier.ChannelSummary{
					Slug:     c.Slug,
					Name:     c.Name,
					PageURL:  c.PageURL,
					Category: c.Category,
					Premium:  c.Premium,
				})
			}
			return out, nil
		})
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
		r.Handle("/mcp", handler)
		slog.Info("MCP enabled", "path", "/mcp")
	}

	// HTTP server. The write timeout must outlive a worst-case extraction
	// or the handler gets cut off mid-attempt.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.MaxExtractionTime() + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// writeExtractError maps the extraction failure taxonomy onto HTTP. An
// unknown channel also gets near-miss suggestions, so a typo comes back
// with the fix attached.
func writeExtractError(w http.ResponseWriter, r *http.Request, reg *registry.Registry, channel string, err error) {
	payload := map[string]any{
		"error": err.Error(),
		"kind":  sourcier.FailureKind(err),
	}
	var code int
	switch {
	case errors.Is(err, sourcier.ErrInvalidTarget):
		code = http.StatusBadRequest
		if hints, serr := reg.Suggest(r.Context(), channel, 3); serr == nil && len(hints) > 0 {
			payload["suggestions"] = hints
		}
	case errors.Is(err, sourcier.ErrPremiumLocked):
		code = http.StatusForbidden
	case errors.Is(err, sourcier.ErrNavigationTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, sourcier.ErrNoManifestFound),
		errors.Is(err, sourcier.ErrBrowserCrashed):
		code = http.StatusBadGateway
	case errors.Is(err, sourcier.ErrBrowserUnavailable):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, payload)
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", s)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", s)
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
