// Package tagging derives keywords and topic metadata for pain points that
// arrive without them.
package tagging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/storage"
)

const (
	defaultTimeout = 10 * time.Second
	maxTags        = 8
)

// Tags is the structured reply the model is asked for.
type Tags struct {
	Keywords []string `json:"keywords"`
	Topics   []string `json:"topics"`
	Tools    []string `json:"tools"`
	Roles    []string `json:"roles"`
}

// Tagger uses the generator to tag pain points.
type Tagger struct {
	engine  engine.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Tagger. A zero timeout uses 10s.
func New(e engine.Engine, timeout time.Duration) *Tagger {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Tagger{engine: e, timeout: timeout, logger: slog.Default()}
}

// Tag asks the model for tags describing a pain point. On any failure
// (timeout, generator error, unparseable reply) it returns zero Tags so
// callers never block on tagging.
func (t *Tagger) Tag(ctx context.Context, title, content string) Tags {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(content) == "" {
		return Tags{}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var out Tags
	err := engine.GenerateStructured(ctx, t.engine, BuildPrompt(title, content), engine.StructuredOptions{
		System:          systemPrompt,
		Temperature:     0.1,
		MaxParseRetries: 1,
	}, &out)
	if err != nil {
		t.logger.Warn("pain point tagging failed", "error", err)
		return Tags{}
	}
	return Tags{
		Keywords: clean(out.Keywords),
		Topics:   clean(out.Topics),
		Tools:    clean(out.Tools),
		Roles:    clean(out.Roles),
	}
}

// Fill tags p when it has neither keywords nor metadata. Pain points that
// already carry tags are left untouched.
func (t *Tagger) Fill(ctx context.Context, p *storage.PainPoint) {
	if len(p.Keywords) > 0 || !isEmpty(p.Metadata) {
		return
	}
	tags := t.Tag(ctx, p.Title, p.Content)
	p.Keywords = tags.Keywords
	p.Metadata = storage.PainPointMetadata{Topics: tags.Topics, Tools: tags.Tools, Roles: tags.Roles}
}

func isEmpty(m storage.PainPointMetadata) bool {
	return len(m.Topics) == 0 && len(m.Tools) == 0 && len(m.Roles) == 0
}

// clean lowercases, trims and dedupes tags, keeping at most maxTags.
func clean(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
