package tagging

import (
	"fmt"
	"strings"
)

const maxContentChars = 4000

const systemPrompt = `You tag customer pain points for a marketing team. Read the pain point and return a JSON object with four arrays of short lowercase strings:
- "keywords": search terms a marketer would use to find this pain point
- "topics": the problem areas it touches (e.g. onboarding, billing, reliability)
- "tools": products, vendors or technologies it names
- "roles": job titles of the people who feel the pain

Use only what the text supports. Leave an array empty rather than guessing.`

// BuildPrompt renders the user turn for tagging. Long content is cut to
// keep the request small.
func BuildPrompt(title, content string) string {
	content = strings.TrimSpace(content)
	if r := []rune(content); len(r) > maxContentChars {
		content = string(r[:maxContentChars])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Title]\n%s", strings.TrimSpace(title))
	if content != "" {
		fmt.Fprintf(&sb, "\n\n[Content]\n%s", content)
	}
	return sb.String()
}
