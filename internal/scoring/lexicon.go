package scoring

import (
	"context"
	"regexp"
	"strings"

	"github.com/kalambet/msgforge/internal/gate"
)

// LexiconScorer counts phrase hits per 100 words. Higher scores mean more
// of the unwanted phrasing.
type LexiconScorer struct {
	name     string
	phrases  []string
	patterns []*regexp.Regexp
	// weight is the score contributed by one hit per 100 words.
	weight float64
}

func (s *LexiconScorer) Name() string { return s.name }

func (s *LexiconScorer) Score(_ context.Context, in Input) (float64, error) {
	tokens := words(in.Content)
	n := len(tokens)
	if n == 0 {
		return 0, nil
	}
	text := " " + strings.Join(tokens, " ") + " "

	hits := 0
	for _, p := range s.phrases {
		hits += strings.Count(text, " "+p+" ")
	}
	for _, re := range s.patterns {
		hits += len(re.FindAllStringIndex(in.Content, -1))
	}
	density := float64(hits) * 100 / float64(n)
	return clamp(density * s.weight), nil
}

// NewSlopScorer detects filler phrasing typical of generated text.
func NewSlopScorer() *LexiconScorer {
	return &LexiconScorer{
		name:   gate.DimSlop,
		weight: 2,
		phrases: []string{
			"in today's fast-paced world", "in today's digital landscape", "it's important to note",
			"it is important to note", "let's dive in", "dive deep", "delve", "delve into",
			"at the end of the day", "game-changer", "game changer", "unlock the power",
			"unleash", "elevate", "navigate the complexities", "ever-evolving", "tapestry",
			"in conclusion", "furthermore", "moreover", "whether you're", "look no further",
			"the world of", "a testament to", "embark on", "journey",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bnot (?:just|only) [^.]{1,40}, but\b`),
			regexp.MustCompile(`\x{2014}`),
			regexp.MustCompile(`(?i)\bimagine a world\b`),
		},
	}
}

// NewVendorSpeakScorer detects vendor marketing buzzwords.
func NewVendorSpeakScorer() *LexiconScorer {
	return &LexiconScorer{
		name:   gate.DimVendorSpeak,
		weight: 2.5,
		phrases: []string{
			"seamless", "seamlessly", "cutting-edge", "best-in-class", "world-class", "leverage",
			"leverages", "leveraging", "synergy", "synergies", "robust", "scalable solution",
			"next-generation", "next-gen", "revolutionize", "revolutionary", "empower", "empowers",
			"industry-leading", "state-of-the-art", "holistic", "turnkey", "paradigm",
			"mission-critical", "end-to-end solution", "single pane of glass", "enterprise-grade",
			"innovative", "streamline", "streamlines", "supercharge", "transformative",
		},
	}
}
