// Package note parses vault-relative Markdown bytes into the structured
// projection the shadow cache indexes: frontmatter, body, tags, and links,
// via a single deterministic Parse entry point.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// LinkType distinguishes wikilinks from inline Markdown links.
type LinkType string

const (
	LinkWikilink LinkType = "wikilink"
	LinkMarkdown LinkType = "markdown"
)

// Link is an outgoing reference extracted from a note's content.
type Link struct {
	SourcePath   string
	TargetRef    string
	LinkType     LinkType
	DisplayText  string
	ResolvedPath string // set by the cache at resolution time; empty until resolved
	Broken       bool
}

// Diagnostic names a non-fatal parsing issue.
type Diagnostic string

const (
	DiagFrontmatterInvalid Diagnostic = "FRONTMATTER_INVALID"
)

// Parsed is the deterministic projection of one note's bytes.
type Parsed struct {
	Path        string
	Content     string
	Body        string
	Frontmatter map[string]interface{}
	Tags        []string // lower-cased, deduplicated, sorted
	Links       []Link
	ContentHash string
	Diagnostics []Diagnostic
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

var (
	hashtagRegex  = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_/-]+)`)
	wikilinkRegex = regexp.MustCompile(`(!?)\[\[([^\]|#]+)(#[^\]|]*)?(?:\|([^\]]*))?\]\]`)
	mdLinkRegex   = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)
	fenceRegex    = regexp.MustCompile("(?m)^\\s*(```|~~~)")
)

// Parse deterministically extracts frontmatter, body, tags, and links from
// content. Re-parsing identical bytes yields identical Parsed values
// (modulo CreatedAt/ModifiedAt, which the caller supplies from filesystem
// metadata).
func Parse(path string, content []byte) Parsed {
	normalized := normalizeLineEndings(content)
	text := string(normalized)

	p := Parsed{
		Path:        path,
		Content:     text,
		ContentHash: hashContent(normalized),
	}

	fm, body, err := parseFrontmatter(text)
	if err != nil {
		p.Diagnostics = append(p.Diagnostics, DiagFrontmatterInvalid)
		p.Frontmatter = map[string]interface{}{}
		p.Body = text
	} else {
		p.Frontmatter = fm
		p.Body = body
	}

	p.Tags = extractTags(p.Frontmatter, text)
	p.Links = extractLinks(path, text)

	return p
}

func normalizeLineEndings(content []byte) []byte {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return []byte(s)
}

func hashContent(normalized []byte) string {
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:])
}

// parseFrontmatter splits a leading "---\n...\n---\n" block from body. An
// unparseable block returns an error; callers fall back to an empty map and
// the full content as body.
func parseFrontmatter(content string) (map[string]interface{}, string, error) {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return map[string]interface{}{}, content, nil
	}
	var fm map[string]interface{}
	rest, err := frontmatter.Parse(strings.NewReader(content), &fm)
	if err != nil {
		return nil, "", err
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}
	return fm, string(rest), nil
}

// Format re-serializes frontmatter+body back into note bytes, preserving
// unknown keys. Keys are written in yaml.v3's sorted-key order, so the
// original key order of the note is not kept.
func Format(fm map[string]interface{}, body string) ([]byte, error) {
	if len(fm) == 0 {
		return []byte(body), nil
	}
	data, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(data)
	b.WriteString("---\n")
	b.WriteString(body)
	return []byte(b.String()), nil
}

func extractTags(fm map[string]interface{}, content string) []string {
	set := make(map[string]struct{})

	if raw, ok := fm["tags"]; ok {
		for _, t := range normalizeFrontmatterTags(raw) {
			set[t] = struct{}{}
		}
	}

	for _, t := range extractInlineHashtags(content) {
		set[t] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeFrontmatterTags(raw interface{}) []string {
	var out []string
	switch v := raw.(type) {
	case string:
		for _, t := range strings.Split(v, ",") {
			if n := normalizeTag(t); n != "" {
				out = append(out, n)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if n := normalizeTag(s); n != "" {
					out = append(out, n)
				}
			}
		}
	case []string:
		for _, s := range v {
			if n := normalizeTag(s); n != "" {
				out = append(out, n)
			}
		}
	}
	return out
}

func normalizeTag(t string) string {
	t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
	return strings.ToLower(t)
}

// extractInlineHashtags finds #tag occurrences outside fenced code blocks.
func extractInlineHashtags(content string) []string {
	var out []string
	for _, line := range stripFencedBlocks(content) {
		for _, m := range hashtagRegex.FindAllStringSubmatch(line, -1) {
			if n := normalizeTag(m[1]); n != "" {
				out = append(out, n)
			}
		}
	}
	return out
}

// stripFencedBlocks returns the content's lines with any lines inside a
// ``` or ~~~ fenced block removed (fence marker lines themselves dropped too).
func stripFencedBlocks(content string) []string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		if fenceRegex.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		out = append(out, line)
	}
	return out
}

// extractLinks extracts wikilinks and Markdown links from content outside
// fenced code blocks, including links embedded in frontmatter text.
func extractLinks(path, content string) []Link {
	var links []Link
	unfenced := strings.Join(stripFencedBlocks(content), "\n")

	for _, m := range wikilinkRegex.FindAllStringSubmatch(unfenced, -1) {
		target := strings.TrimSpace(m[2])
		display := strings.TrimSpace(m[4])
		if target == "" {
			continue
		}
		target = filepath.ToSlash(target)
		links = append(links, Link{
			SourcePath:  path,
			TargetRef:   target,
			LinkType:    LinkWikilink,
			DisplayText: display,
		})
	}

	noWikilinks := wikilinkRegex.ReplaceAllString(unfenced, "")
	for _, m := range mdLinkRegex.FindAllStringSubmatch(noWikilinks, -1) {
		display := strings.TrimSpace(m[1])
		target := strings.TrimSpace(m[2])
		if target == "" {
			continue
		}
		links = append(links, Link{
			SourcePath:  path,
			TargetRef:   target,
			LinkType:    LinkMarkdown,
			DisplayText: display,
		})
	}

	return links
}

// IsExternal reports whether a link target is a URL rather than a
// vault-relative path.
func IsExternal(targetRef string) bool {
	lower := strings.ToLower(targetRef)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "obsidian://")
}
