package note_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atomicobject/vaultweaver/internal/note"
)

func TestParseFrontmatterAndTags(t *testing.T) {
	content := []byte(`---
title: Example
tags:
  - Project
  - daily-note
---
Body text with an inline #todo tag and #Project again.
`)

	p := note.Parse("notes/example.md", content)

	assert.Equal(t, "Example", p.Frontmatter["title"])
	assert.Equal(t, []string{"daily-note", "project", "todo"}, p.Tags)
	assert.Contains(t, p.Body, "Body text")
	assert.Empty(t, p.Diagnostics)
	assert.NotEmpty(t, p.ContentHash)
}

func TestParseIsDeterministic(t *testing.T) {
	content := []byte("# Title\n\nSome [[Other Note]] content.\n")
	a := note.Parse("a.md", content)
	b := note.Parse("a.md", content)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.Links, b.Links)
}

func TestParseMalformedFrontmatterFallsBack(t *testing.T) {
	content := []byte("---\nthis: [is, not: valid\n---\nbody\n")
	p := note.Parse("bad.md", content)
	assert.Contains(t, p.Diagnostics, note.DiagFrontmatterInvalid)
	assert.Empty(t, p.Frontmatter)
}

func TestExtractLinksWikilinkAndMarkdown(t *testing.T) {
	content := []byte("See [[Project Plan|the plan]] and [a link](./other.md).\n")
	p := note.Parse("source.md", content)

	assert.Len(t, p.Links, 2)

	var wiki, md *note.Link
	for i := range p.Links {
		switch p.Links[i].LinkType {
		case note.LinkWikilink:
			wiki = &p.Links[i]
		case note.LinkMarkdown:
			md = &p.Links[i]
		}
	}

	assert.NotNil(t, wiki)
	assert.Equal(t, "Project Plan", wiki.TargetRef)
	assert.Equal(t, "the plan", wiki.DisplayText)

	assert.NotNil(t, md)
	assert.Equal(t, "./other.md", md.TargetRef)
}

func TestExtractLinksIgnoresFencedCodeBlocks(t *testing.T) {
	content := []byte("```\n[[Not A Link]]\n```\n[[Real Link]]\n")
	p := note.Parse("source.md", content)
	assert.Len(t, p.Links, 1)
	assert.Equal(t, "Real Link", p.Links[0].TargetRef)
}

func TestFormatRoundTrip(t *testing.T) {
	fm := map[string]interface{}{"title": "Hello"}
	out, err := note.Format(fm, "body text\n")
	assert.NoError(t, err)
	assert.Contains(t, string(out), "---\n")
	assert.Contains(t, string(out), "title: Hello")
	assert.Contains(t, string(out), "body text")
}

func TestFormatNoFrontmatterReturnsBodyOnly(t *testing.T) {
	out, err := note.Format(nil, "just body\n")
	assert.NoError(t, err)
	assert.Equal(t, "just body\n", string(out))
}
