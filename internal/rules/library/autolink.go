package library

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/rules"
)

// AutoLink finds capitalized phrases that match another note's title and
// rewrites the first occurrence of each into a wikilink.
type AutoLink struct{}

func (AutoLink) ID() string            { return "autolink" }
func (AutoLink) Trigger() rules.Trigger { return rules.TriggerFileChange }
func (AutoLink) Priority() int         { return 40 }
func (AutoLink) Metadata() rules.Metadata {
	return rules.Metadata{
		Description: "Links recognized note titles on their first mention in the body.",
		Category:    "enrichment",
		Tags:        []string{"autolink"},
	}
}

var phraseRegex = regexp.MustCompile(`\b(?:[A-Z][a-zA-Z0-9]*(?:\s+[A-Z][a-zA-Z0-9]*){1,4})\b`)
var wikilinkSpan = regexp.MustCompile(`\[\[[^\]]*\]\]`)

func (AutoLink) Condition(rc *rules.RuleContext) (bool, error) {
	n, err := rc.Note()
	if err != nil {
		return false, err
	}
	minLen := optInt(rc.Options, "minContentLength", 200)
	return len(n.Body) > minLen, nil
}

func (AutoLink) Action(rc *rules.RuleContext) (rules.RuleResult, error) {
	n, err := rc.Note()
	if err != nil {
		return rules.RuleResult{}, err
	}

	maxLinks := optInt(rc.Options, "maxLinks", 10)
	threshold := optFloat(rc.Options, "matchThreshold", 0.8)

	existingSpans := wikilinkSpan.FindAllStringIndex(n.Body, -1)
	linked := map[string]bool{}
	var patches []rules.BodyPatch

	for _, m := range phraseRegex.FindAllStringIndex(n.Body, -1) {
		if len(patches) >= maxLinks {
			break
		}
		phrase := n.Body[m[0]:m[1]]
		key := strings.ToLower(phrase)
		if linked[key] {
			continue
		}
		if insideExistingLink(m[0], m[1], existingSpans) {
			continue
		}

		target, ok := bestTitleMatch(rc, phrase, threshold, rc.Event.Path)
		if !ok {
			continue
		}

		patches = append(patches, rules.BodyPatch{Start: m[0], End: m[1], Replace: "[[" + target + "]]"})
		linked[key] = true
	}

	if len(patches) == 0 {
		return rules.RuleResult{}, nil
	}

	return rules.RuleResult{
		NoteUpdates: []rules.NoteUpdate{{Path: rc.Event.Path, BodyPatches: patches}},
	}, nil
}

func insideExistingLink(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start >= s[0] && end <= s[1] {
			return true
		}
	}
	return false
}

// bestTitleMatch queries the cache for the highest-scoring title match for
// phrase, excluding the source note itself.
func bestTitleMatch(rc *rules.RuleContext, phrase string, threshold float64, selfPath string) (string, bool) {
	notes, err := rc.Cache.ListByDirectory(context.Background(), "", cache.Pagination{})
	if err != nil {
		return "", false
	}
	best := ""
	bestScore := 0.0
	for _, n := range notes {
		if n.Path == selfPath {
			continue
		}
		title := titleOf(n.Path)
		score := levenshteinRatio(strings.ToLower(phrase), strings.ToLower(title))
		if score >= threshold && score > bestScore {
			bestScore = score
			best = title
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

func titleOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// levenshteinRatio returns 1 - (editDistance / maxLen), in [0,1].
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
