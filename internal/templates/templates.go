// Package templates loads per-asset-type prompt templates. A custom
// directory can override or extend the built-in set.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
)

//go:embed builtin/*.md
var builtinFS embed.FS

// ErrUnknownAssetType is returned when no template exists for an asset type.
var ErrUnknownAssetType = errors.New("unknown asset type")

// BuiltinAssetTypes lists the asset types shipped with msgforge.
var BuiltinAssetTypes = []string{
	"battlecard",
	"talk_track",
	"launch_messaging",
	"social_hook",
	"one_pager",
	"email_copy",
	"messaging_template",
	"narrative",
}

var assetTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Data is the input available to a template.
type Data struct {
	Title     string
	Content   string
	Keywords  []string
	AssetType string
}

// Loader resolves templates from dir first, then the built-ins.
type Loader struct {
	dir string
}

// NewLoader returns a Loader. An empty dir uses only the built-ins.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Source returns the raw template text for assetType.
func (l *Loader) Source(assetType string) (string, error) {
	if !assetTypePattern.MatchString(assetType) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, assetType)
	}

	if l.dir != "" {
		b, err := os.ReadFile(filepath.Join(l.dir, assetType+".md"))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reading template %s: %w", assetType, err)
		}
	}

	b, err := builtinFS.ReadFile("builtin/" + assetType + ".md")
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, assetType)
	}
	return string(b), nil
}

// Validate reports ErrUnknownAssetType if assetType has no template.
func (l *Loader) Validate(assetType string) error {
	_, err := l.Source(assetType)
	return err
}

// Render fills the template for assetType with d.
func (l *Loader) Render(assetType string, d Data) (string, error) {
	src, err := l.Source(assetType)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(assetType).Funcs(template.FuncMap{"join": strings.Join}).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", assetType, err)
	}
	d.AssetType = assetType

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", assetType, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Available lists built-in asset types plus any extra types found in dir.
func (l *Loader) Available() []string {
	out := append([]string(nil), BuiltinAssetTypes...)
	if l.dir == "" {
		return out
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, a := range out {
		seen[a] = true
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".md")
		if !ok || e.IsDir() || seen[name] || !assetTypePattern.MatchString(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}
