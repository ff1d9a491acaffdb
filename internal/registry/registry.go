// Package registry is the channel allow-list: the mapping from a channel
// slug to the page the extractor renders. Only confirmed free channels
// belong here; slugs can be flagged premium to park them without deleting
// the row. The store is SQLite so operator edits survive restarts, unlike
// extraction results, which only ever live in memory.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sourcier/internal/dbopen"
)

// ErrNotFound is returned when a slug has no registry row.
var ErrNotFound = errors.New("registry: channel not found")

// Channel is one allow-listed target.
type Channel struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	PageURL  string `json:"page_url"`
	Category string `json:"category"`
	Premium  bool   `json:"premium"`
}

// Registry wraps the channels database.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the registry database at path and applies the
// schema. Use ":memory:" in tests.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("registry: open: %w", err)
	}
	return &Registry{db: db, logger: logger, now: time.Now}, nil
}

// NewWithDB wraps an already-open database (tests).
func NewWithDB(db *sql.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger, now: time.Now}
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Resolve returns the channel for slug, or ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, slug string) (*Channel, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT slug, name, page_url, category, premium FROM channels WHERE slug = ?`, slug)
	var c Channel
	var premium int
	if err := row.Scan(&c.Slug, &c.Name, &c.PageURL, &c.Category, &premium); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
		}
		return nil, fmt.Errorf("registry: resolve %s: %w", slug, err)
	}
	c.Premium = premium != 0
	return &c, nil
}

// List returns every channel ordered by category then slug.
func (r *Registry) List(ctx context.Context) ([]*Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT slug, name, page_url, category, premium FROM channels ORDER BY category, slug`)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var c Channel
		var premium int
		if err := rows.Scan(&c.Slug, &c.Name, &c.PageURL, &c.Category, &premium); err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		c.Premium = premium != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Slugs returns every slug, for suggestion ranking and listings.
func (r *Registry) Slugs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT slug FROM channels ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("registry: slugs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("registry: slugs scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a channel row.
func (r *Registry) Upsert(ctx context.Context, c *Channel) error {
	if c.Slug == "" || c.PageURL == "" {
		return fmt.Errorf("registry: upsert: slug and page_url are required")
	}
	if c.Name == "" {
		c.Name = Humanize(c.Slug)
	}
	if c.Category == "" {
		c.Category = Categorize(c.Slug)
	}
	now := r.now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (slug, name, page_url, category, premium, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			page_url = excluded.page_url,
			category = excluded.category,
			premium = excluded.premium,
			updated_at = excluded.updated_at`,
		c.Slug, c.Name, c.PageURL, c.Category, boolInt(c.Premium), now, now)
	if err != nil {
		return fmt.Errorf("registry: upsert %s: %w", c.Slug, err)
	}
	return nil
}

// Delete removes a channel. Deleting an absent slug returns ErrNotFound.
func (r *Registry) Delete(ctx context.Context, slug string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return nil
}

// Count returns the number of registered channels.
func (r *Registry) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&n); err != nil {
		return 0, fmt.Errorf("registry: count: %w", err)
	}
	return n, nil
}

// Seed inserts the given channels, skipping slugs that already exist so
// operator edits survive restarts. Returns how many rows were inserted.
func (r *Registry) Seed(ctx context.Context, channels []Channel) (int, error) {
	now := r.now().Unix()
	inserted := 0
	for _, c := range channels {
		res, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO channels (slug, name, page_url, category, premium, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?)`,
			c.Slug, c.Name, c.PageURL, c.Category, boolInt(c.Premium), now, now)
		if err != nil {
			return inserted, fmt.Errorf("registry: seed %s: %w", c.Slug, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if inserted > 0 {
		r.logger.Info("registry seeded", "inserted", inserted, "total", len(channels))
	}
	return inserted, nil
}

// Suggest returns up to n registered slugs close to the unknown input:
// containment matches first, then edit-distance neighbours above the
// similarity cutoff.
func (r *Registry) Suggest(ctx context.Context, input string, n int) ([]string, error) {
	slugs, err := r.Slugs(ctx)
	if err != nil {
		return nil, err
	}
	return closeMatches(input, slugs, n), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
