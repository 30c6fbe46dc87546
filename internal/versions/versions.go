// Package versions keeps the edit history of each (session, asset type)
// pair with exactly one active version.
package versions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/msgforge/internal/storage"
)

// ErrInvalidInput is returned for empty identifiers, empty content or an
// unknown source tag.
var ErrInvalidInput = errors.New("invalid version input")

// Store is the persistence the Manager needs.
type Store interface {
	InsertActiveVersion(v storage.SessionVersion) (storage.SessionVersion, error)
	ActivateVersion(id string) (storage.SessionVersion, error)
	ListVersions(sessionID, assetType string) ([]storage.SessionVersion, error)
	GetActiveVersion(sessionID, assetType string) (storage.SessionVersion, error)
}

type Manager struct {
	store  Store
	logger *slog.Logger
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, logger: slog.Default()}
}

// CreateVersion stores content as a user edit.
func (m *Manager) CreateVersion(ctx context.Context, sessionID, assetType, content string) (storage.SessionVersion, error) {
	return m.CreateVersionFrom(ctx, sessionID, assetType, content, storage.SourceEdit)
}

// CreateVersionFrom appends a version numbered one past the current maximum
// and makes it the active one.
func (m *Manager) CreateVersionFrom(ctx context.Context, sessionID, assetType, content, source string) (storage.SessionVersion, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionVersion{}, err
	}
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(assetType) == "" {
		return storage.SessionVersion{}, fmt.Errorf("%w: session id and asset type are required", ErrInvalidInput)
	}
	if strings.TrimSpace(content) == "" {
		return storage.SessionVersion{}, fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	switch source {
	case storage.SourceEdit, storage.SourceGeneration, storage.SourceAction:
	default:
		return storage.SessionVersion{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, source)
	}

	v, err := m.store.InsertActiveVersion(storage.SessionVersion{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		AssetType: assetType,
		Content:   content,
		Source:    source,
	})
	if err != nil {
		return storage.SessionVersion{}, fmt.Errorf("creating version: %w", err)
	}
	m.logger.Debug("version created", "session_id", sessionID, "asset_type", assetType,
		"version", v.VersionNumber, "source", source)
	return v, nil
}

// Activate makes an existing (possibly older) version the active one.
func (m *Manager) Activate(ctx context.Context, versionID string) (storage.SessionVersion, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionVersion{}, err
	}
	v, err := m.store.ActivateVersion(versionID)
	if err != nil {
		return storage.SessionVersion{}, fmt.Errorf("activating version %s: %w", versionID, err)
	}
	m.logger.Info("version activated", "session_id", v.SessionID, "asset_type", v.AssetType, "version", v.VersionNumber)
	return v, nil
}

func (m *Manager) List(ctx context.Context, sessionID, assetType string) ([]storage.SessionVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store.ListVersions(sessionID, assetType)
}

// Active returns the active version or storage.ErrNotFound.
func (m *Manager) Active(ctx context.Context, sessionID, assetType string) (storage.SessionVersion, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionVersion{}, err
	}
	return m.store.GetActiveVersion(sessionID, assetType)
}
