package registry

// Schema is applied on open. The registry is configuration, not extraction
// state: rows survive restarts, cached manifests never touch this database.
const Schema = `
CREATE TABLE IF NOT EXISTS channels (
	slug       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	page_url   TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'other',
	premium    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_channels_category ON channels(category);
`
