// Package cache implements a durable, queryable projection of vault notes,
// frontmatter, tags, and wikilinks, backed by SQLite. Per-path mutexes
// serialize concurrent upserts/deletes to the same note while unrelated
// paths proceed in parallel.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atomicobject/vaultweaver/internal/note"
	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/vaultpath"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// Note is the externally visible cached projection of one vault note.
type Note struct {
	Path        string
	ContentHash string
	Content     string
	Frontmatter map[string]interface{}
	Body        string
	Tags        []string
	ModTime     time.Time
	CreatedAt   time.Time
}

// Link is the cache's resolved view of an outgoing/incoming reference.
type Link struct {
	SourcePath   string
	TargetRef    string
	LinkType     note.LinkType
	DisplayText  string
	ResolvedPath string
	Broken       bool
}

// Pagination bounds a list query.
type Pagination struct {
	Offset int
	Limit  int // 0 means unlimited
}

// Stats summarizes the cache's current state.
type Stats struct {
	NoteCount       int
	TagCount        int
	LinkCount       int
	BrokenLinkCount int
	OrphanCount     int
	LastSyncAt      time.Time
}

// Cache is the shadow cache: a persistent, queryable index of vault state.
type Cache struct {
	db             *sql.DB
	path           string
	schemaMismatch bool

	mu       sync.Mutex // guards pathLock map
	pathLock map[string]*sync.Mutex

	metrics *observability.Metrics
}

// SetMetrics wires Prometheus recording into the cache. Optional.
func (c *Cache) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

func (c *Cache) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.CacheOpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Open opens (creating if absent) a shadow cache at dbPath.
func Open(dbPath string) (*Cache, error) {
	if dbPath == "" {
		return nil, vwerr.New("cache.Open", vwerr.CacheWriteError, fmt.Errorf("path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, vwerr.New("cache.Open", vwerr.CacheWriteError, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, vwerr.New("cache.Open", vwerr.CacheWriteError, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer connection avoids SQLITE_BUSY

	c := &Cache{db: db, path: dbPath, pathLock: make(map[string]*sync.Mutex)}
	if err := c.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, vwerr.New("cache.Open", vwerr.CacheWriteError, err)
	}
	return c, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// SchemaMismatch reports whether the on-disk schema version differs from
// the code's expectation; the caller should trigger FullSync in this case.
func (c *Cache) SchemaMismatch() bool { return c.schemaMismatch }

func (c *Cache) lockFor(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.pathLock[path]
	if !ok {
		l = &sync.Mutex{}
		c.pathLock[path] = l
	}
	return l
}

// KnownPaths implements watcher.Snapshot: returns path -> content hash for
// every indexed note, used for startup reconciliation.
func (c *Cache) KnownPaths() map[string]string {
	out := make(map[string]string)
	rows, err := c.db.Query(`SELECT path, content_hash FROM notes`)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var p, h string
		if rows.Scan(&p, &h) == nil {
			out[p] = h
		}
	}
	return out
}

// UpsertNote indexes a parsed note atomically: notes, tags, and link rows
// are all replaced in one transaction so readers never see a partial
// update.
func (c *Cache) UpsertNote(ctx context.Context, path string, parsed note.Parsed, mtime time.Time) error {
	defer c.observe("upsert", time.Now())
	path = vaultpath.Normalize(path)
	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
	}
	defer tx.Rollback()

	if err := deleteNoteRows(tx, path); err != nil {
		return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
	}

	fm, err := encodeJSON(parsed.Frontmatter)
	if err != nil {
		return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
	}

	createdAt := mtime
	if existing := existingCreatedAt(tx, path); !existing.IsZero() {
		createdAt = existing
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes(path, content_hash, content, frontmatter, body, mtime, created_at, dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		path, parsed.ContentHash, parsed.Content, fm, parsed.Body,
		mtime.UnixNano(), createdAt.UnixNano(), dirOf(path))
	if err != nil {
		return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
	}

	for _, tag := range parsed.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags(note_path, tag) VALUES (?, ?)`, path, tag); err != nil {
			return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
		}
	}

	for _, l := range parsed.Links {
		resolved, broken := resolveLinkTarget(tx, l.TargetRef)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO links(source_path, target_ref, link_type, display_text, resolved_path, broken)
			VALUES (?, ?, ?, ?, ?, ?)`,
			path, l.TargetRef, string(l.LinkType), l.DisplayText, resolved, boolToInt(broken))
		if err != nil {
			return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
		}
	}

	// Re-resolve other notes' links that targeted this path's basename and
	// were previously broken, so a link heals within one event of its
	// target appearing.
	if err := reresolveLinksTargeting(tx, path); err != nil {
		return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
	}

	if err := tx.Commit(); err != nil {
		return vwerr.New("cache.UpsertNote", vwerr.CacheWriteError, err)
	}
	return nil
}

func existingCreatedAt(tx *sql.Tx, path string) time.Time {
	row := tx.QueryRow(`SELECT created_at FROM notes WHERE path = ?`, path)
	var ns int64
	if err := row.Scan(&ns); err != nil {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func deleteNoteRows(tx *sql.Tx, path string) error {
	if _, err := tx.Exec(`DELETE FROM tags WHERE note_path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM links WHERE source_path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return err
	}
	return nil
}

// DeleteNote removes a note and marks any links that pointed at it broken.
func (c *Cache) DeleteNote(ctx context.Context, path string) error {
	defer c.observe("delete", time.Now())
	path = vaultpath.Normalize(path)
	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return vwerr.New("cache.DeleteNote", vwerr.CacheWriteError, err)
	}
	defer tx.Rollback()

	if err := deleteNoteRows(tx, path); err != nil {
		return vwerr.New("cache.DeleteNote", vwerr.CacheWriteError, err)
	}
	if _, err := tx.Exec(`UPDATE links SET broken = 1, resolved_path = '' WHERE resolved_path = ?`, path); err != nil {
		return vwerr.New("cache.DeleteNote", vwerr.CacheWriteError, err)
	}
	if err := tx.Commit(); err != nil {
		return vwerr.New("cache.DeleteNote", vwerr.CacheWriteError, err)
	}
	return nil
}

// GetNote returns the cached note at path, ok=false if absent.
func (c *Cache) GetNote(ctx context.Context, path string) (*Note, bool, error) {
	defer c.observe("get", time.Now())
	path = vaultpath.Normalize(path)
	row := c.db.QueryRowContext(ctx, `SELECT path, content_hash, content, frontmatter, body, mtime, created_at FROM notes WHERE path = ?`, path)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, vwerr.New("cache.GetNote", vwerr.CacheWriteError, err)
	}
	n.Tags = c.tagsFor(ctx, path)
	return n, true, nil
}

func scanNote(row *sql.Row) (*Note, error) {
	var n Note
	var fm string
	var mtimeNs, createdNs int64
	if err := row.Scan(&n.Path, &n.ContentHash, &n.Content, &fm, &n.Body, &mtimeNs, &createdNs); err != nil {
		return nil, err
	}
	n.ModTime = time.Unix(0, mtimeNs)
	n.CreatedAt = time.Unix(0, createdNs)
	n.Frontmatter, _ = decodeJSON(fm)
	return &n, nil
}

func (c *Cache) tagsFor(ctx context.Context, path string) []string {
	rows, err := c.db.QueryContext(ctx, `SELECT tag FROM tags WHERE note_path = ? ORDER BY tag`, path)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if rows.Scan(&t) == nil {
			out = append(out, t)
		}
	}
	return out
}

// ListByTag returns notes carrying tag, which may contain '*'/'?' globs.
// Wildcards are translated to safe LIKE patterns with an explicit ESCAPE
// clause rather than string-concatenated into the query.
func (c *Cache) ListByTag(ctx context.Context, tag string, pg Pagination) ([]Note, error) {
	pattern, hasGlob := globToLike(tag)
	var rows *sql.Rows
	var err error
	if hasGlob {
		q := `SELECT DISTINCT n.path, n.content_hash, n.content, n.frontmatter, n.body, n.mtime, n.created_at
			FROM notes n JOIN tags t ON t.note_path = n.path
			WHERE t.tag LIKE ? ESCAPE '\' ORDER BY n.path` + limitClause(pg)
		rows, err = c.db.QueryContext(ctx, q, pattern)
	} else {
		q := `SELECT DISTINCT n.path, n.content_hash, n.content, n.frontmatter, n.body, n.mtime, n.created_at
			FROM notes n JOIN tags t ON t.note_path = n.path
			WHERE t.tag = ? ORDER BY n.path` + limitClause(pg)
		rows, err = c.db.QueryContext(ctx, q, tag)
	}
	if err != nil {
		return nil, vwerr.New("cache.ListByTag", vwerr.CacheWriteError, err)
	}
	return c.scanNotes(ctx, rows)
}

// ListByDirectory returns notes whose path begins with prefix.
func (c *Cache) ListByDirectory(ctx context.Context, prefix string, pg Pagination) ([]Note, error) {
	prefix = vaultpath.Normalize(prefix)
	like := escapeLike(prefix) + "%"
	q := `SELECT path, content_hash, content, frontmatter, body, mtime, created_at
		FROM notes WHERE path LIKE ? ESCAPE '\' ORDER BY path` + limitClause(pg)
	rows, err := c.db.QueryContext(ctx, q, like)
	if err != nil {
		return nil, vwerr.New("cache.ListByDirectory", vwerr.CacheWriteError, err)
	}
	return c.scanNotes(ctx, rows)
}

func (c *Cache) scanNotes(ctx context.Context, rows *sql.Rows) ([]Note, error) {
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		var fm string
		var mtimeNs, createdNs int64
		if err := rows.Scan(&n.Path, &n.ContentHash, &n.Content, &fm, &n.Body, &mtimeNs, &createdNs); err != nil {
			return nil, vwerr.New("cache.scanNotes", vwerr.CacheWriteError, err)
		}
		n.ModTime = time.Unix(0, mtimeNs)
		n.CreatedAt = time.Unix(0, createdNs)
		n.Frontmatter, _ = decodeJSON(fm)
		n.Tags = c.tagsFor(ctx, n.Path)
		out = append(out, n)
	}
	return out, nil
}

// IncomingLinks returns links resolved to path, from any source note.
func (c *Cache) IncomingLinks(ctx context.Context, path string) ([]Link, error) {
	path = vaultpath.Normalize(path)
	rows, err := c.db.QueryContext(ctx, `
		SELECT source_path, target_ref, link_type, display_text, resolved_path, broken
		FROM links WHERE resolved_path = ? ORDER BY source_path`, path)
	if err != nil {
		return nil, vwerr.New("cache.IncomingLinks", vwerr.CacheWriteError, err)
	}
	return scanLinks(rows)
}

// OutgoingLinks returns links originating from path.
func (c *Cache) OutgoingLinks(ctx context.Context, path string) ([]Link, error) {
	path = vaultpath.Normalize(path)
	rows, err := c.db.QueryContext(ctx, `
		SELECT source_path, target_ref, link_type, display_text, resolved_path, broken
		FROM links WHERE source_path = ? ORDER BY target_ref`, path)
	if err != nil {
		return nil, vwerr.New("cache.OutgoingLinks", vwerr.CacheWriteError, err)
	}
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]Link, error) {
	defer rows.Close()
	var out []Link
	for rows.Next() {
		var l Link
		var linkType string
		var brokenInt int
		if err := rows.Scan(&l.SourcePath, &l.TargetRef, &linkType, &l.DisplayText, &l.ResolvedPath, &brokenInt); err != nil {
			return nil, vwerr.New("cache.scanLinks", vwerr.CacheWriteError, err)
		}
		l.LinkType = note.LinkType(linkType)
		l.Broken = brokenInt != 0
		out = append(out, l)
	}
	return out, nil
}

// Stats computes aggregate counts.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	row := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`)
	if err := row.Scan(&s.NoteCount); err != nil {
		return s, vwerr.New("cache.Stats", vwerr.CacheWriteError, err)
	}
	_ = c.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tag) FROM tags`).Scan(&s.TagCount)
	_ = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&s.LinkCount)
	_ = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links WHERE broken = 1`).Scan(&s.BrokenLinkCount)
	_ = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notes n
		WHERE NOT EXISTS (SELECT 1 FROM links l WHERE l.resolved_path = n.path)
		  AND NOT EXISTS (SELECT 1 FROM links l WHERE l.source_path = n.path AND l.broken = 0)
	`).Scan(&s.OrphanCount)

	if v, err := c.metaGet(ctx, "last_sync_at"); err == nil && v != "" {
		if ns, convErr := strconv.ParseInt(v, 10, 64); convErr == nil {
			s.LastSyncAt = time.Unix(0, ns)
		}
	}
	return s, nil
}

func (c *Cache) metaGet(ctx context.Context, key string) (string, error) {
	row := c.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key)
	var v string
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (c *Cache) metaSet(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// LastSyncAt returns the persisted timestamp of the last successful
// FullSync, used by the engine to decide whether to resync on startup.
func (c *Cache) LastSyncAt(ctx context.Context) (time.Time, error) {
	v, err := c.metaGet(ctx, "last_sync_at")
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(0, ns), nil
}

// FullSync idempotently reconciles the cache to vault ground truth: every
// file VaultIO reports is upserted, and every cached path VaultIO no longer
// reports is deleted.
func (c *Cache) FullSync(ctx context.Context, vio vaultio.VaultIO) error {
	files, err := vio.ListFiles("")
	if err != nil {
		return vwerr.New("cache.FullSync", vwerr.VaultIOError, err)
	}
	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f] = struct{}{}
	}

	for _, rel := range files {
		data, err := vio.ReadFile(rel)
		if err != nil {
			continue // transient read error; next sync retries
		}
		st, ok, err := vio.Stat(rel)
		if err != nil || !ok {
			continue
		}
		parsed := note.Parse(rel, data)
		if err := c.UpsertNote(ctx, rel, parsed, st.ModTime); err != nil {
			return err
		}
	}

	for known := range c.KnownPaths() {
		if _, ok := onDisk[known]; !ok {
			if err := c.DeleteNote(ctx, known); err != nil {
				return err
			}
		}
	}

	return c.metaSet(ctx, "last_sync_at", strconv.FormatInt(time.Now().UnixNano(), 10))
}

// --- helpers ---

func dirOf(path string) string {
	d := filepath.ToSlash(filepath.Dir(path))
	if d == "." {
		return ""
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func limitClause(pg Pagination) string {
	if pg.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", pg.Limit, maxInt(pg.Offset, 0))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// resolveLinkTarget resolves a wikilink/markdown target against the notes
// table using case-insensitive basename matching, case-preserving storage,
// preferring the shortest matching path when several notes share a basename.
func resolveLinkTarget(tx *sql.Tx, targetRef string) (resolved string, broken bool) {
	if note.IsExternal(targetRef) {
		return "", false // external URLs are recorded but never "broken"
	}
	target := targetRef
	if idx := strings.IndexAny(target, "#"); idx >= 0 {
		target = target[:idx]
	}
	target = strings.TrimSuffix(target, ".md")
	if target == "" {
		return "", false
	}

	if strings.Contains(target, "/") {
		candidate := vaultpath.AddMdSuffix(vaultpath.Normalize(target))
		if pathExists(tx, candidate) {
			return candidate, false
		}
	}

	base := strings.ToLower(vaultpath.Basename(target))
	rows, err := tx.Query(`SELECT path FROM notes`)
	if err != nil {
		return "", true
	}
	defer rows.Close()
	var best string
	for rows.Next() {
		var p string
		if rows.Scan(&p) != nil {
			continue
		}
		if strings.ToLower(vaultpath.Basename(p)) == base {
			if best == "" || len(p) < len(best) {
				best = p
			}
		}
	}
	if best == "" {
		return "", true
	}
	return best, false
}

func pathExists(tx *sql.Tx, path string) bool {
	row := tx.QueryRow(`SELECT 1 FROM notes WHERE path = ?`, path)
	var one int
	return row.Scan(&one) == nil
}

// reresolveLinksTargeting updates links whose target basename matches the
// newly-upserted path's basename and which are currently broken, healing
// them immediately.
func reresolveLinksTargeting(tx *sql.Tx, newPath string) error {
	base := strings.ToLower(vaultpath.Basename(newPath))
	rows, err := tx.Query(`SELECT rowid, target_ref FROM links WHERE broken = 1`)
	if err != nil {
		return err
	}
	type fix struct {
		rowid int64
		ref   string
	}
	var fixes []fix
	for rows.Next() {
		var f fix
		if rows.Scan(&f.rowid, &f.ref) == nil {
			fixes = append(fixes, f)
		}
	}
	rows.Close()

	for _, f := range fixes {
		target := f.ref
		if idx := strings.IndexAny(target, "#"); idx >= 0 {
			target = target[:idx]
		}
		target = strings.TrimSuffix(target, ".md")
		if strings.ToLower(vaultpath.Basename(target)) != base {
			continue
		}
		if _, err := tx.Exec(`UPDATE links SET resolved_path = ?, broken = 0 WHERE rowid = ?`, newPath, f.rowid); err != nil {
			return err
		}
	}
	return nil
}

// globToLike translates Obsidian-style '*'/'?' glob patterns into a safe
// SQL LIKE pattern: '*' -> '%', '?' -> '_', and any literal '%'/'_'/'\' in
// the input is escaped so user input can never be interpreted as wildcard
// syntax beyond the two characters '*' and '?'.
func globToLike(pattern string) (string, bool) {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern, false
	}
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), true
}

func escapeLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func encodeJSON(v map[string]interface{}) (string, error) {
	if v == nil {
		v = map[string]interface{}{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
