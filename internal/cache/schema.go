package cache

import (
	"context"
	"strconv"
)

const schemaVersion = 1

var schemaStatements = []string{
	`PRAGMA foreign_keys = ON;`,
	`PRAGMA journal_mode = WAL;`,
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS notes (
		path         TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		content      TEXT NOT NULL,
		frontmatter  TEXT NOT NULL,
		body         TEXT NOT NULL,
		mtime        INTEGER NOT NULL,
		created_at   INTEGER NOT NULL,
		dir          TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_notes_dir ON notes(dir);`,
	`CREATE TABLE IF NOT EXISTS tags (
		note_path TEXT NOT NULL REFERENCES notes(path) ON DELETE CASCADE,
		tag       TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);`,
	`CREATE INDEX IF NOT EXISTS idx_tags_path ON tags(note_path);`,
	`CREATE TABLE IF NOT EXISTS links (
		source_path   TEXT NOT NULL REFERENCES notes(path) ON DELETE CASCADE,
		target_ref    TEXT NOT NULL,
		link_type     TEXT NOT NULL,
		display_text  TEXT NOT NULL,
		resolved_path TEXT NOT NULL DEFAULT '',
		broken        INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_path);`,
	`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_ref);`,
	`CREATE INDEX IF NOT EXISTS idx_links_resolved ON links(resolved_path);`,
	`CREATE INDEX IF NOT EXISTS idx_links_broken ON links(broken);`,
}

// ensureSchema creates tables/indices if absent and records the schema
// version.
func (c *Cache) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return c.ensureSchemaVersion(ctx)
}

func (c *Cache) ensureSchemaVersion(ctx context.Context) error {
	row := c.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`)
	var v string
	err := row.Scan(&v)
	if err != nil {
		_, insErr := c.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('schema_version', ?)`, schemaVersionString())
		return insErr
	}
	if v != schemaVersionString() {
		// Schema changed underneath us: the mismatch is only flagged here and
		// reported by SchemaMismatch. Open does not rebuild the tables and the
		// stored version is left unchanged.
		c.schemaMismatch = true
	}
	return nil
}

func schemaVersionString() string {
	return strconv.Itoa(schemaVersion)
}
