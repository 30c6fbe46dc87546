// Package retrieval picks the reference documents most relevant to a pain
// point and extracts plain text from uploaded reference files.
package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kalambet/msgforge/internal/storage"
)

// Match weights per document field.
const (
	weightTag         = 3
	weightDescription = 2
	weightContent     = 1
	weightName        = 1

	contentPrefixLen = 1000
	minWordLen       = 3
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "had": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true, "have": true,
	"how": true, "its": true, "may": true, "new": true, "now": true, "old": true,
	"see": true, "way": true, "who": true, "did": true, "get": true, "got": true,
	"let": true, "say": true, "she": true, "too": true, "use": true, "with": true,
	"this": true, "that": true, "from": true, "they": true, "what": true, "when": true,
	"why": true, "your": true, "into": true, "just": true, "like": true, "than": true,
	"then": true, "them": true, "been": true, "were": true, "will": true, "does": true,
	"about": true, "there": true, "their": true, "which": true, "would": true, "should": true,
	"could": true, "after": true, "before": true, "every": true, "still": true, "really": true,
}

// ExtractKeywords collects lowercase keywords for a pain point: metadata
// topics, tools and roles, its priority keywords, and significant title
// words. Duplicates are removed; first occurrence wins.
func ExtractKeywords(p storage.PainPoint) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
	}

	for _, group := range [][]string{p.Metadata.Topics, p.Metadata.Tools, p.Metadata.Roles, p.Keywords} {
		for _, k := range group {
			add(k)
		}
	}
	for _, w := range titleWords(p.Title) {
		add(w)
	}
	return out
}

func titleWords(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '.'
	})
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, "-.")
		if len([]rune(f)) < minWordLen || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Score returns the weighted keyword overlap between doc and keywords.
func Score(doc storage.ReferenceDoc, keywords []string) int {
	name := strings.ToLower(doc.Name)
	desc := strings.ToLower(doc.Description)
	content := doc.Content
	if r := []rune(content); len(r) > contentPrefixLen {
		content = string(r[:contentPrefixLen])
	}
	content = strings.ToLower(content)

	tags := make([]string, len(doc.Tags))
	for i, t := range doc.Tags {
		tags[i] = strings.ToLower(t)
	}

	score := 0
	for _, k := range keywords {
		for _, t := range tags {
			if strings.Contains(t, k) {
				score += weightTag
				break
			}
		}
		if strings.Contains(desc, k) {
			score += weightDescription
		}
		if strings.Contains(content, k) {
			score += weightContent
		}
		if strings.Contains(name, k) {
			score += weightName
		}
	}
	return score
}

// SelectRelevant returns up to topK docs ordered by descending Score. If
// there are no more than topK docs, or every doc scores zero, docs is
// returned unchanged. Ties, including zero-scored fillers, keep their
// original order.
func SelectRelevant(docs []storage.ReferenceDoc, keywords []string, topK int) []storage.ReferenceDoc {
	if topK <= 0 || len(docs) <= topK {
		return docs
	}

	type scored struct {
		doc   storage.ReferenceDoc
		score int
	}
	ranked := make([]scored, len(docs))
	matched := false
	for i, d := range docs {
		ranked[i] = scored{doc: d, score: Score(d, keywords)}
		if ranked[i].score > 0 {
			matched = true
		}
	}
	if !matched {
		return docs
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]storage.ReferenceDoc, topK)
	for i := range out {
		out[i] = ranked[i].doc
	}
	return out
}
