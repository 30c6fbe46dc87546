package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/storage"
)

// PolishName is the registered name of the polish action.
const PolishName = "polish"

const polishSystem = `You are an editor for B2B marketing copy. Tighten the draft you are given:
cut filler, remove buzzwords, keep every concrete number, name and claim exactly
as written. Do not add facts. Return only the revised text.`

// Versions is the part of the version manager actions use.
type Versions interface {
	Active(ctx context.Context, sessionID, assetType string) (storage.SessionVersion, error)
	CreateVersionFrom(ctx context.Context, sessionID, assetType, content, source string) (storage.SessionVersion, error)
}

// PolishResult is stored as the result of a polish job.
type PolishResult struct {
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	FromVersion   int    `json:"from_version"`
}

// NewPolish returns a factory for the polish action: rewrite the active
// version through the generator and store the output as a new version.
// e is expected to be rate limited and retried (see engine.Guarded).
func NewPolish(e engine.Engine, versions Versions) Factory {
	return func(sessionID, assetType string) Action {
		return func(ctx context.Context, progress ProgressFunc) (any, error) {
			progress(10, "loading active version")
			current, err := versions.Active(ctx, sessionID, assetType)
			if err != nil {
				return nil, fmt.Errorf("loading active version: %w", err)
			}

			progress(30, "rewriting")
			out, err := e.Generate(ctx, current.Content, engine.GenerateOptions{System: polishSystem, Temperature: 0.3})
			if err != nil {
				return nil, fmt.Errorf("polishing: %w", err)
			}
			out = strings.TrimSpace(out)
			if out == "" {
				return nil, fmt.Errorf("polishing: generator returned empty text")
			}

			progress(80, "saving version")
			v, err := versions.CreateVersionFrom(ctx, sessionID, assetType, out, storage.SourceAction)
			if err != nil {
				return nil, err
			}
			return PolishResult{VersionID: v.ID, VersionNumber: v.VersionNumber, FromVersion: current.VersionNumber}, nil
		}
	}
}
