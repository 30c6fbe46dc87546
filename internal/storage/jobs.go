package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Generation jobs ---

func (s *Store) EnqueueGenerationJob(job GenerationJob) error {
	now := s.now()
	voices, err := encodeJSON(stringsOrEmpty(job.VoiceProfileIDs))
	if err != nil {
		return fmt.Errorf("encoding voice profile ids: %w", err)
	}
	assets, err := encodeJSON(stringsOrEmpty(job.AssetTypes))
	if err != nil {
		return fmt.Errorf("encoding asset types: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO generation_jobs (id, status, pain_point_id, voice_profile_ids, asset_types, attempts, created_at, updated_at)
		VALUES (?, 'pending', ?, ?, ?, 0, ?, ?)`,
		job.ID, job.PainPointID, voices, assets, formatTime(now), formatTime(now),
	)
	return err
}

const generationJobColumns = `id, status, pain_point_id, voice_profile_ids, asset_types, attempts,
	error_message, error_stack, created_at, updated_at, started_at, completed_at`

func scanGenerationJob(sc scanner) (GenerationJob, error) {
	var j GenerationJob
	var voices, assets, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString
	if err := sc.Scan(&j.ID, &j.Status, &j.PainPointID, &voices, &assets, &j.Attempts,
		&j.ErrorMessage, &j.ErrorStack, &createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return GenerationJob{}, err
	}
	var err error
	if j.VoiceProfileIDs, err = decodeStrings(voices); err != nil {
		return GenerationJob{}, err
	}
	if j.AssetTypes, err = decodeStrings(assets); err != nil {
		return GenerationJob{}, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return GenerationJob{}, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return GenerationJob{}, err
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return GenerationJob{}, err
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return GenerationJob{}, err
	}
	return j, nil
}

func (s *Store) GetGenerationJob(id string) (GenerationJob, error) {
	j, err := scanGenerationJob(s.db.QueryRow(`SELECT `+generationJobColumns+` FROM generation_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return GenerationJob{}, ErrNotFound
	}
	return j, err
}

// ListGenerationJobs lists jobs newest first. An empty status lists all.
func (s *Store) ListGenerationJobs(status string, limit, offset int) ([]GenerationJob, error) {
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationJob
	for rows.Next() {
		j, err := scanGenerationJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimNextGenerationJob moves the oldest pending job to running and returns
// it. Returns nil, nil when the queue is empty.
func (s *Store) ClaimNextGenerationJob() (*GenerationJob, error) {
	now := formatTime(s.now())

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanGenerationJob(tx.QueryRow(`SELECT ` + generationJobColumns + ` FROM generation_jobs
		WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE generation_jobs
		SET status = 'running', attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`, now, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	claimed, err := s.GetGenerationJob(j.ID)
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// TransitionGenerationJob moves a job from one status to another as a
// conditional update. It returns ErrConflict when the job exists but is not
// in the from status. Callers are responsible for deciding whether the
// transition is legal.
//
// Entering running stamps started_at; entering completed or failed stamps
// completed_at; entering pending clears error fields and both stamps.
func (s *Store) TransitionGenerationJob(id, from, to, errMsg, errStack string) error {
	now := formatTime(s.now())

	var query string
	var args []any
	switch to {
	case JobRunning:
		query = `UPDATE generation_jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, now, now, id, from}
	case JobCompleted:
		query = `UPDATE generation_jobs SET status = ?, error_message = '', error_stack = '', completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, now, now, id, from}
	case JobFailed:
		query = `UPDATE generation_jobs SET status = ?, error_message = ?, error_stack = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, errMsg, errStack, now, now, id, from}
	case JobPending:
		query = `UPDATE generation_jobs SET status = ?, error_message = '', error_stack = '', started_at = NULL, completed_at = NULL, updated_at = ? WHERE id = ? AND status = ?`
		args = []any{to, now, id, from}
	default:
		return fmt.Errorf("unknown job status %q", to)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetGenerationJob(id); err != nil {
		return err
	}
	return ErrConflict
}

// RequeueStaleGenerationJobs returns running jobs untouched since before
// cutoff to pending. Such jobs were orphaned by a crashed process. This is
// the running -> pending recovery edge, not a regular job transition.
func (s *Store) RequeueStaleGenerationJobs(cutoff time.Time) (int, error) {
	now := formatTime(s.now())
	res, err := s.db.Exec(`UPDATE generation_jobs
		SET status = 'pending', started_at = NULL, updated_at = ?,
		    error_message = 'requeued after stale run'
		WHERE status = 'running' AND updated_at < ?`, now, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// TouchGenerationJob bumps updated_at so a long run is not considered stale.
func (s *Store) TouchGenerationJob(id string) error {
	res, err := s.db.Exec(`UPDATE generation_jobs SET updated_at = ? WHERE id = ?`, formatTime(s.now()), id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}
