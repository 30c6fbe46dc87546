package storage

import (
	"database/sql"
	"errors"
	"time"
)

// --- Action jobs ---

func (s *Store) CreateActionJob(a ActionJob) error {
	now := formatTime(s.now())
	_, err := s.db.Exec(`
		INSERT INTO action_jobs (id, session_id, asset_type, action_name, status, progress, current_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'running', 0, ?, ?, ?)`,
		a.ID, a.SessionID, a.AssetType, a.ActionName, a.CurrentStep, now, now,
	)
	return err
}

const actionJobColumns = `id, session_id, asset_type, action_name, status, progress, current_step,
	result, error_message, created_at, updated_at, completed_at`

func scanActionJob(sc scanner) (ActionJob, error) {
	var a ActionJob
	var createdAt, updatedAt string
	var completedAt sql.NullString
	if err := sc.Scan(&a.ID, &a.SessionID, &a.AssetType, &a.ActionName, &a.Status, &a.Progress, &a.CurrentStep,
		&a.Result, &a.ErrorMessage, &createdAt, &updatedAt, &completedAt); err != nil {
		return ActionJob{}, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return ActionJob{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ActionJob{}, err
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return ActionJob{}, err
	}
	return a, nil
}

func (s *Store) GetActionJob(id string) (ActionJob, error) {
	a, err := scanActionJob(s.db.QueryRow(`SELECT `+actionJobColumns+` FROM action_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ActionJob{}, ErrNotFound
	}
	return a, err
}

// ListActionJobs returns a session's action jobs, newest first.
func (s *Store) ListActionJobs(sessionID string, limit int) ([]ActionJob, error) {
	rows, err := s.db.Query(`SELECT `+actionJobColumns+` FROM action_jobs
		WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionJob
	for rows.Next() {
		a, err := scanActionJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateActionProgress records progress on a running job. Progress never
// moves backwards; updates to a terminal job are ignored.
func (s *Store) UpdateActionProgress(id string, progress int, step string) error {
	_, err := s.db.Exec(`UPDATE action_jobs
		SET progress = MAX(progress, ?), current_step = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		progress, step, formatTime(s.now()), id)
	return err
}

// FinishActionJob moves a running job to a terminal status. Completed jobs
// get progress 100. Returns ErrConflict if the job already finished.
func (s *Store) FinishActionJob(id, status, result, errMsg string) error {
	now := formatTime(s.now())
	var res sql.Result
	var err error
	if status == ActionCompleted {
		res, err = s.db.Exec(`UPDATE action_jobs
			SET status = ?, progress = 100, result = ?, error_message = '', updated_at = ?, completed_at = ?
			WHERE id = ? AND status = 'running'`, status, result, now, now, id)
	} else {
		res, err = s.db.Exec(`UPDATE action_jobs
			SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = 'running'`, status, errMsg, now, now, id)
	}
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
	if _, err := s.GetActionJob(id); err != nil {
		return err
	}
	return ErrConflict
}

// FailStaleActionJobs fails running action jobs untouched since before
// cutoff. Their goroutines died with a previous process and cannot be resumed.
func (s *Store) FailStaleActionJobs(cutoff time.Time, reason string) (int, error) {
	now := formatTime(s.now())
	res, err := s.db.Exec(`UPDATE action_jobs
		SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
		WHERE status = 'running' AND updated_at < ?`, reason, now, now, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
