package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// --- Session versions ---

// InsertActiveVersion appends a new version for (sessionID, assetType) and
// makes it the only active one. Inside a single write transaction it reads
// the current maximum version number, deactivates every active version of
// the pair, then inserts the new row. The deactivate-then-insert order keeps
// the partial unique index on is_active satisfied at every statement.
func (s *Store) InsertActiveVersion(v SessionVersion) (SessionVersion, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SessionVersion{}, fmt.Errorf("beginning version transaction: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(version_number) FROM session_versions WHERE session_id = ? AND asset_type = ?`,
		v.SessionID, v.AssetType).Scan(&maxVersion); err != nil {
		return SessionVersion{}, fmt.Errorf("reading max version: %w", err)
	}
	v.VersionNumber = int(maxVersion.Int64) + 1

	if _, err := tx.Exec(`UPDATE session_versions SET is_active = 0
		WHERE session_id = ? AND asset_type = ? AND is_active = 1`, v.SessionID, v.AssetType); err != nil {
		return SessionVersion{}, fmt.Errorf("deactivating versions: %w", err)
	}

	v.IsActive = true
	if _, err := tx.Exec(`INSERT INTO session_versions (id, session_id, asset_type, version_number, content, source, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		v.ID, v.SessionID, v.AssetType, v.VersionNumber, v.Content, v.Source, formatTime(v.CreatedAt)); err != nil {
		return SessionVersion{}, fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SessionVersion{}, fmt.Errorf("committing version: %w", err)
	}
	return v, nil
}

// ActivateVersion makes an existing version the active one for its pair.
func (s *Store) ActivateVersion(id string) (SessionVersion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return SessionVersion{}, fmt.Errorf("beginning activate transaction: %w", err)
	}
	defer tx.Rollback()

	v, err := scanVersion(tx.QueryRow(`SELECT `+versionColumns+` FROM session_versions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionVersion{}, ErrNotFound
	}
	if err != nil {
		return SessionVersion{}, err
	}

	if _, err := tx.Exec(`UPDATE session_versions SET is_active = 0
		WHERE session_id = ? AND asset_type = ? AND is_active = 1`, v.SessionID, v.AssetType); err != nil {
		return SessionVersion{}, fmt.Errorf("deactivating versions: %w", err)
	}
	if _, err := tx.Exec(`UPDATE session_versions SET is_active = 1 WHERE id = ?`, id); err != nil {
		return SessionVersion{}, fmt.Errorf("activating version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SessionVersion{}, fmt.Errorf("committing activation: %w", err)
	}
	v.IsActive = true
	return v, nil
}

const versionColumns = `id, session_id, asset_type, version_number, content, source, is_active, created_at`

func scanVersion(sc scanner) (SessionVersion, error) {
	var v SessionVersion
	var active int
	var createdAt string
	if err := sc.Scan(&v.ID, &v.SessionID, &v.AssetType, &v.VersionNumber, &v.Content, &v.Source, &active, &createdAt); err != nil {
		return SessionVersion{}, err
	}
	v.IsActive = active == 1
	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return SessionVersion{}, err
	}
	return v, nil
}

// ListVersions returns every version of the pair in ascending version order.
func (s *Store) ListVersions(sessionID, assetType string) ([]SessionVersion, error) {
	rows, err := s.db.Query(`SELECT `+versionColumns+` FROM session_versions
		WHERE session_id = ? AND asset_type = ? ORDER BY version_number ASC`, sessionID, assetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetActiveVersion returns the active version of the pair or ErrNotFound.
func (s *Store) GetActiveVersion(sessionID, assetType string) (SessionVersion, error) {
	v, err := scanVersion(s.db.QueryRow(`SELECT `+versionColumns+` FROM session_versions
		WHERE session_id = ? AND asset_type = ? AND is_active = 1`, sessionID, assetType))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionVersion{}, ErrNotFound
	}
	return v, err
}
