package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// --- Discovery schedules ---

func (s *Store) SaveSchedule(sc DiscoverySchedule) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = s.now()
	}
	cfg, err := encodeJSON(sc.Config)
	if err != nil {
		return fmt.Errorf("encoding schedule config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO discovery_schedules (id, name, config, is_active, next_run_at, last_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, cfg, boolToInt(sc.IsActive), formatNullTime(sc.NextRunAt), formatNullTime(sc.LastRunAt),
		formatTime(sc.CreatedAt),
	)
	return err
}

const scheduleColumns = `id, name, config, is_active, next_run_at, last_run_at, last_error, created_at`

func scanSchedule(sc scanner) (DiscoverySchedule, error) {
	var d DiscoverySchedule
	var cfg, createdAt string
	var active int
	var nextRun, lastRun sql.NullString
	if err := sc.Scan(&d.ID, &d.Name, &cfg, &active, &nextRun, &lastRun, &d.LastError, &createdAt); err != nil {
		return DiscoverySchedule{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &d.Config); err != nil {
		return DiscoverySchedule{}, fmt.Errorf("decoding schedule config: %w", err)
	}
	d.IsActive = active == 1
	var err error
	if d.NextRunAt, err = parseNullTime(nextRun); err != nil {
		return DiscoverySchedule{}, err
	}
	if d.LastRunAt, err = parseNullTime(lastRun); err != nil {
		return DiscoverySchedule{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return DiscoverySchedule{}, err
	}
	return d, nil
}

func (s *Store) GetSchedule(id string) (DiscoverySchedule, error) {
	d, err := scanSchedule(s.db.QueryRow(`SELECT `+scheduleColumns+` FROM discovery_schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return DiscoverySchedule{}, ErrNotFound
	}
	return d, err
}

func (s *Store) ListSchedules() ([]DiscoverySchedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM discovery_schedules ORDER BY created_at ASC, rowid ASC`)
}

// ListDueSchedules returns active schedules that never ran or whose
// next_run_at is at or before now. Never-run schedules come first.
func (s *Store) ListDueSchedules(now time.Time) ([]DiscoverySchedule, error) {
	return s.querySchedules(`SELECT `+scheduleColumns+` FROM discovery_schedules
		WHERE is_active = 1 AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY COALESCE(next_run_at, '') ASC, created_at ASC, rowid ASC`, formatTime(now))
}

func (s *Store) querySchedules(query string, args ...any) ([]DiscoverySchedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DiscoverySchedule
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkScheduleSucceeded records a successful run and moves next_run_at forward.
func (s *Store) MarkScheduleSucceeded(id string, ranAt, nextRun time.Time) error {
	res, err := s.db.Exec(`UPDATE discovery_schedules
		SET last_run_at = ?, next_run_at = ?, last_error = '' WHERE id = ?`,
		formatTime(ranAt), formatTime(nextRun), id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

// MarkScheduleFailed records the error only. next_run_at is left as is so
// the schedule stays due.
func (s *Store) MarkScheduleFailed(id, errMsg string) error {
	res, err := s.db.Exec(`UPDATE discovery_schedules SET last_error = ? WHERE id = ?`, errMsg, id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}

func (s *Store) SetScheduleActive(id string, active bool) error {
	res, err := s.db.Exec(`UPDATE discovery_schedules SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	return rowsAffected(res)
}
