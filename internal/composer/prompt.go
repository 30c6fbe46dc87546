package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/msgforge/internal/storage"
)

const defaultMaxReferenceTokens = 4000

const baseRules = `Rules:
- Only state facts present in the pain point or the reference material. Do not invent customers, metrics, quotes or product capabilities.
- Write the way a practitioner talks. Avoid vendor buzzwords such as "seamless", "cutting-edge", "leverage", "synergy", "best-in-class" and "revolutionize".
- Prefer concrete tools, numbers and steps over adjectives.
- Do not open with a rhetorical question or close with a generic call to action.`

// Composer assembles the system prompt for a generation call from the voice
// guide, fixed writing rules and the selected reference documents.
type Composer struct {
	MaxReferenceTokens int
}

// New creates a Composer with the given token budget for reference material.
// If maxReferenceTokens <= 0, the default (4000) is used.
func New(maxReferenceTokens int) *Composer {
	if maxReferenceTokens <= 0 {
		maxReferenceTokens = defaultMaxReferenceTokens
	}
	return &Composer{MaxReferenceTokens: maxReferenceTokens}
}

// System builds the system prompt. docs are expected in relevance order; a
// doc that does not fit the remaining budget is skipped and later, smaller
// docs may still be included.
func (c *Composer) System(voice storage.VoiceProfile, docs []storage.ReferenceDoc) string {
	var sb strings.Builder

	sb.WriteString("You write marketing messaging for technical audiences.\n\n")
	if guide := strings.TrimSpace(voice.Guide); guide != "" {
		fmt.Fprintf(&sb, "[Voice: %s]\n%s\n\n", voice.Name, guide)
	}
	sb.WriteString(baseRules)

	if len(docs) == 0 {
		return sb.String()
	}

	header := "\n\n[Reference Material]\n"
	remaining := c.MaxReferenceTokens - EstimateTokens(header)

	var selected []string
	for _, d := range docs {
		entry := formatDoc(d)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatDoc(d storage.ReferenceDoc) string {
	if d.Description != "" {
		return fmt.Sprintf("(%s: %s)\n%s\n\n", d.Name, d.Description, d.Content)
	}
	return fmt.Sprintf("(%s)\n%s\n\n", d.Name, d.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
