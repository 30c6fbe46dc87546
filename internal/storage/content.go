package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/msgforge/internal/gate"
)

// --- Pain points ---

func (s *Store) SavePainPoint(p PainPoint) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	keywords, err := encodeJSON(stringsOrEmpty(p.Keywords))
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}
	meta, err := encodeJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pain_points (id, title, content, source, source_url, keywords, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content, p.Source, p.SourceURL, keywords, meta, formatTime(p.CreatedAt),
	)
	return err
}

// PainPointExistsByURL reports whether a pain point with the given source URL
// has already been stored. Empty URLs never match.
func (s *Store) PainPointExistsByURL(url string) (bool, error) {
	if url == "" {
		return false, nil
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pain_points WHERE source_url = ?`, url).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

const painPointColumns = `id, title, content, source, source_url, keywords, metadata, created_at`

func scanPainPoint(sc scanner) (PainPoint, error) {
	var p PainPoint
	var keywords, meta, createdAt string
	if err := sc.Scan(&p.ID, &p.Title, &p.Content, &p.Source, &p.SourceURL, &keywords, &meta, &createdAt); err != nil {
		return PainPoint{}, err
	}
	var err error
	if p.Keywords, err = decodeStrings(keywords); err != nil {
		return PainPoint{}, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &p.Metadata); err != nil {
			return PainPoint{}, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return PainPoint{}, err
	}
	return p, nil
}

func (s *Store) GetPainPoint(id string) (PainPoint, error) {
	p, err := scanPainPoint(s.db.QueryRow(`SELECT `+painPointColumns+` FROM pain_points WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PainPoint{}, ErrNotFound
	}
	return p, err
}

func (s *Store) ListPainPoints(limit, offset int) ([]PainPoint, error) {
	rows, err := s.db.Query(`SELECT `+painPointColumns+` FROM pain_points ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PainPoint
	for rows.Next() {
		p, err := scanPainPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Voice profiles ---

func (s *Store) SaveVoiceProfile(v VoiceProfile) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	th, err := encodeJSON(v.Thresholds)
	if err != nil {
		return fmt.Errorf("encoding thresholds: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO voice_profiles (id, name, guide, thresholds, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.Guide, th, formatTime(v.CreatedAt),
	)
	return err
}

const voiceProfileColumns = `id, name, guide, thresholds, created_at`

func scanVoiceProfile(sc scanner) (VoiceProfile, error) {
	var v VoiceProfile
	var th, createdAt string
	if err := sc.Scan(&v.ID, &v.Name, &v.Guide, &th, &createdAt); err != nil {
		return VoiceProfile{}, err
	}
	// Profiles stored without thresholds get the defaults.
	v.Thresholds = gate.DefaultThresholds()
	if th != "" && th != "{}" {
		if err := json.Unmarshal([]byte(th), &v.Thresholds); err != nil {
			return VoiceProfile{}, fmt.Errorf("decoding thresholds: %w", err)
		}
	}
	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return VoiceProfile{}, err
	}
	return v, nil
}

func (s *Store) GetVoiceProfile(id string) (VoiceProfile, error) {
	v, err := scanVoiceProfile(s.db.QueryRow(`SELECT `+voiceProfileColumns+` FROM voice_profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return VoiceProfile{}, ErrNotFound
	}
	return v, err
}

func (s *Store) ListVoiceProfiles() ([]VoiceProfile, error) {
	rows, err := s.db.Query(`SELECT ` + voiceProfileColumns + ` FROM voice_profiles ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VoiceProfile
	for rows.Next() {
		v, err := scanVoiceProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Reference docs ---

func (s *Store) SaveReferenceDoc(d ReferenceDoc) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	tags, err := encodeJSON(stringsOrEmpty(d.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO reference_docs (id, name, description, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, d.Content, tags, formatTime(d.CreatedAt),
	)
	return err
}

// ListReferenceDocs returns all reference docs in insertion order. The order
// matters: relevance filtering keeps it for ties.
func (s *Store) ListReferenceDocs() ([]ReferenceDoc, error) {
	rows, err := s.db.Query(`SELECT id, name, description, content, tags, created_at FROM reference_docs ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReferenceDoc
	for rows.Next() {
		var d ReferenceDoc
		var tags, createdAt string
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Content, &tags, &createdAt); err != nil {
			return nil, err
		}
		if d.Tags, err = decodeStrings(tags); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteReferenceDoc(id string) error {
	res, err := s.db.Exec(`DELETE FROM reference_docs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

