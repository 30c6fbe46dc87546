package scoring

import (
	"context"
	"regexp"
	"strings"

	"github.com/kalambet/msgforge/internal/gate"
)

var (
	numberRe  = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\b`)
	unitRe    = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:ms|s|sec|seconds|minutes|min|hours|h|days|gb|mb|tb|kb|%|x|rps|qps|cpu|vcpu|nodes|pods)\b`)
	codeRe    = regexp.MustCompile("`[^`]+`|--[a-z][a-z0-9-]+|\\b[a-z0-9_-]+\\.(?:yaml|yml|json|go|py|ts|sh|toml|tf)\\b|\\b[a-z]+(?:/[a-z0-9_.-]+)+\\b")
	properRe  = regexp.MustCompile(`\b[A-Z][a-z]+[A-Z][A-Za-z]*\b|\b[A-Z]{2,}[a-z]*\b`)
	sentEndRe = regexp.MustCompile(`[.!?]\s+[A-Z]\w*`)
)

// SpecificityScorer rewards concrete detail: numbers, units, code-ish
// tokens, named tools and vocabulary shared with the reference documents.
type SpecificityScorer struct{}

func NewSpecificityScorer() *SpecificityScorer { return &SpecificityScorer{} }

func (s *SpecificityScorer) Name() string { return gate.DimSpecificity }

func (s *SpecificityScorer) Score(_ context.Context, in Input) (float64, error) {
	if strings.TrimSpace(in.Content) == "" {
		return 0, nil
	}
	n := float64(len(words(in.Content)))

	// Capitalized words that only start a sentence are not names.
	stripped := sentEndRe.ReplaceAllString(in.Content, ". ")

	signals := []struct {
		count  int
		weight float64
		max    float64
	}{
		{len(numberRe.FindAllString(in.Content, -1)), 0.6, 2},
		{len(unitRe.FindAllString(in.Content, -1)), 0.8, 2},
		{len(codeRe.FindAllString(in.Content, -1)), 0.8, 2},
		{len(properRe.FindAllString(stripped, -1)), 0.5, 2},
	}

	score := 0.0
	for _, sig := range signals {
		// Normalize to a 150-word draft so long drafts do not win by length.
		v := float64(sig.count) * sig.weight * 150 / max(n, 150)
		score += min(v, sig.max)
	}
	score += referenceOverlap(in.Content, in.References) * 2
	return clamp(score), nil
}

// referenceOverlap returns the fraction (0–1) of distinct significant
// reference words that also appear in content.
func referenceOverlap(content string, refs []string) float64 {
	if len(refs) == 0 {
		return 0
	}
	refWords := make(map[string]bool)
	for _, r := range refs {
		for _, w := range words(r) {
			if len(w) >= 5 {
				refWords[w] = true
			}
		}
	}
	if len(refWords) == 0 {
		return 0
	}
	seen := make(map[string]bool)
	for _, w := range words(content) {
		if refWords[w] {
			seen[w] = true
		}
	}
	// Cap the denominator so a large corpus does not make overlap unreachable.
	return min(float64(len(seen))/min(float64(len(refWords)), 20), 1)
}
