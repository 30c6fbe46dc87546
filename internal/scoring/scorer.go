// Package scoring rates a draft along five independent quality dimensions.
// Individual scorer failures never fail the whole evaluation.
package scoring

import (
	"context"
	"strings"
	"unicode"
)

// Input is the draft being scored plus the reference texts it was written
// from.
type Input struct {
	Content    string
	References []string
}

// Scorer rates one quality dimension on a 0–10 scale.
type Scorer interface {
	Name() string
	Score(ctx context.Context, in Input) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc struct {
	ScorerName string
	Fn         func(ctx context.Context, in Input) (float64, error)
}

func (f ScorerFunc) Name() string { return f.ScorerName }

func (f ScorerFunc) Score(ctx context.Context, in Input) (float64, error) {
	return f.Fn(ctx, in)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return v
	}
}

// words splits text into lowercase word tokens, keeping in-word punctuation
// such as hyphens, apostrophes, dots and slashes.
func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",;:!?()[]{}\"`", r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, ".'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}
