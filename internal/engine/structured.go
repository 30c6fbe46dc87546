package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse is returned when a structured reply could not be decoded after
// all parse retries.
var ErrParse = errors.New("unparseable model response")

// StructuredOptions tunes GenerateStructured.
type StructuredOptions struct {
	System      string
	Temperature float64
	// MaxParseRetries is how many extra generations are attempted when the
	// reply is not valid JSON.
	MaxParseRetries int
}

// GenerateStructured asks e for a JSON object and decodes it into out.
// Malformed replies are regenerated up to MaxParseRetries times; generator
// errors are returned immediately.
func GenerateStructured(ctx context.Context, e Engine, prompt string, opts StructuredOptions, out any) error {
	prompt += "\n\nRespond with only a JSON object."
	var lastErr error
	for attempt := 0; attempt <= opts.MaxParseRetries; attempt++ {
		resp, err := e.Generate(ctx, prompt, GenerateOptions{
			System:      opts.System,
			Temperature: opts.Temperature,
			JSON:        true,
		})
		if err != nil {
			return err
		}
		raw, err := ExtractJSON(resp)
		if err == nil {
			err = json.Unmarshal([]byte(raw), out)
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrParse, lastErr)
}

// ExtractJSON pulls the JSON object out of a model reply. Small models often
// wrap JSON in markdown code fences or prepend filler text, so fences are
// stripped and the outermost braces are taken.
func ExtractJSON(resp string) (string, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}
