package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// --- Variants ---

func (s *Store) SaveVariant(v Variant) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	if v.ReviewStatus == "" {
		v.ReviewStatus = ReviewPending
	}
	if v.Health.Failed == nil {
		v.Health.Failed = []string{}
	}
	health, err := encodeJSON(v.Health)
	if err != nil {
		return fmt.Errorf("encoding scorer health: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO variants (id, job_id, pain_point_id, voice_profile_id, asset_type, variant_index, content,
			slop_score, vendor_speak_score, authenticity_score, specificity_score, persona_avg_score,
			scorer_health, review_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.JobID, v.PainPointID, v.VoiceProfileID, v.AssetType, v.VariantIndex, v.Content,
		v.Scores.Slop, v.Scores.VendorSpeak, v.Scores.Authenticity, v.Scores.Specificity, v.Scores.PersonaAvg,
		health, v.ReviewStatus, formatTime(v.CreatedAt),
	)
	return err
}

const variantColumns = `id, job_id, pain_point_id, voice_profile_id, asset_type, variant_index, content,
	slop_score, vendor_speak_score, authenticity_score, specificity_score, persona_avg_score,
	scorer_health, review_status, created_at`

func scanVariant(sc scanner) (Variant, error) {
	var v Variant
	var health, createdAt string
	if err := sc.Scan(&v.ID, &v.JobID, &v.PainPointID, &v.VoiceProfileID, &v.AssetType, &v.VariantIndex, &v.Content,
		&v.Scores.Slop, &v.Scores.VendorSpeak, &v.Scores.Authenticity, &v.Scores.Specificity, &v.Scores.PersonaAvg,
		&health, &v.ReviewStatus, &createdAt); err != nil {
		return Variant{}, err
	}
	if err := json.Unmarshal([]byte(health), &v.Health); err != nil {
		return Variant{}, fmt.Errorf("decoding scorer health: %w", err)
	}
	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return Variant{}, err
	}
	return v, nil
}

func (s *Store) GetVariant(id string) (Variant, error) {
	v, err := scanVariant(s.db.QueryRow(`SELECT `+variantColumns+` FROM variants WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Variant{}, ErrNotFound
	}
	return v, err
}

// ListVariantsByJob returns a job's variants grouped by cell, in generation order.
func (s *Store) ListVariantsByJob(jobID string) ([]Variant, error) {
	rows, err := s.db.Query(`SELECT `+variantColumns+` FROM variants WHERE job_id = ?
		ORDER BY voice_profile_id ASC, asset_type ASC, variant_index ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SetVariantReview sets the review status of a single variant.
func (s *Store) SetVariantReview(id, status string) error {
	res, err := s.db.Exec(`UPDATE variants SET review_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

// SelectVariant marks one variant as selected and returns any previously
// selected sibling in the same (job, voice profile, asset type) cell to
// approved. Both writes happen in one transaction.
func (s *Store) SelectVariant(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning select transaction: %w", err)
	}
	defer tx.Rollback()

	var jobID, voiceID, assetType string
	err = tx.QueryRow(`SELECT job_id, voice_profile_id, asset_type FROM variants WHERE id = ?`, id).
		Scan(&jobID, &voiceID, &assetType)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE variants SET review_status = 'approved'
		WHERE job_id = ? AND voice_profile_id = ? AND asset_type = ? AND review_status = 'selected' AND id != ?`,
		jobID, voiceID, assetType, id); err != nil {
		return fmt.Errorf("clearing previous selection: %w", err)
	}
	if _, err := tx.Exec(`UPDATE variants SET review_status = 'selected' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("selecting variant: %w", err)
	}
	return tx.Commit()
}
