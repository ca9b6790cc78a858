package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Recording statuses
const (
	RecordingStatusPending        = "pending"
	RecordingStatusProcessing     = "processing"
	RecordingStatusLiveProcessing = "live_processing"
	RecordingStatusDone           = "done"
	RecordingStatusFailed         = "failed"
)

// RecordingState is one counting run: a live camera session or an offline
// video
type RecordingState struct {
	ID       string
	CameraID string
	Source   string
	Status   string
	// Results is the JSON-encoded counts snapshot, nil until first flush.
	Results   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

const recordingColumns = `id, camera_id, source, status, results, created_at, updated_at`

// CreateRecording inserts a recording. CreatedAt defaults to now.
func (m *Manager) CreateRecording(ctx context.Context, rec RecordingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = RecordingStatusPending
	}

	var results interface{}
	if len(rec.Results) > 0 {
		results = string(rec.Results)
	}

	query := `
		INSERT INTO recordings (` + recordingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.CameraID, rec.Source, rec.Status, results, rec.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	return nil
}

// UpdateRecordingResult overwrites the counts snapshot and status
func (m *Manager) UpdateRecordingResult(ctx context.Context, id string, results []byte, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `UPDATE recordings SET results = ?, status = ?, updated_at = ? WHERE id = ?`
	res, err := m.db.GetDB().ExecContext(ctx, query, string(results), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update recording result: %w", err)
	}
	return checkRecordingUpdated(res, id)
}

// UpdateRecordingStatus sets the status only
func (m *Manager) UpdateRecordingStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `UPDATE recordings SET status = ?, updated_at = ? WHERE id = ?`
	res, err := m.db.GetDB().ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update recording status: %w", err)
	}
	return checkRecordingUpdated(res, id)
}

func checkRecordingUpdated(res sql.Result, id string) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	return nil
}

// GetRecording retrieves a recording by ID
func (m *Manager) GetRecording(ctx context.Context, id string) (*RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = ?`
	rec, err := scanRecording(m.db.GetDB().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return rec, nil
}

// LatestRecording returns the newest recording of a camera
func (m *Manager) LatestRecording(ctx context.Context, cameraID string) (*RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + recordingColumns + ` FROM recordings
		WHERE camera_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	rec, err := scanRecording(m.db.GetDB().QueryRowContext(ctx, query, cameraID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: camera %s has no recordings", ErrRecordingNotFound, cameraID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest recording: %w", err)
	}
	return rec, nil
}

// RecordingFilter narrows ListRecordings
type RecordingFilter struct {
	CameraID string
	Status   string
	Limit    int
	Offset   int
}

// ListRecordings lists recordings, newest first
func (m *Manager) ListRecordings(ctx context.Context, filter RecordingFilter) ([]RecordingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE 1=1`
	var args []interface{}
	if filter.CameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, filter.CameraID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recordings []RecordingState
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, *rec)
	}

	return recordings, rows.Err()
}

// DeleteRecording deletes a recording
func (m *Manager) DeleteRecording(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	return checkRecordingUpdated(res, id)
}

// MarkInterruptedRecordings moves recordings left in a processing status by
// a previous run to failed and returns how many were changed
func (m *Manager) MarkInterruptedRecordings(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `UPDATE recordings SET status = ?, updated_at = ? WHERE status IN (?, ?)`
	res, err := m.db.GetDB().ExecContext(ctx, query,
		RecordingStatusFailed, time.Now().UTC(),
		RecordingStatusProcessing, RecordingStatusLiveProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted recordings: %w", err)
	}
	return res.RowsAffected()
}

// DeleteRecordingsBefore deletes finished recordings last updated before
// cutoff. Recordings still being processed are kept.
func (m *Manager) DeleteRecordingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `DELETE FROM recordings WHERE updated_at < ? AND status NOT IN (?, ?)`
	res, err := m.db.GetDB().ExecContext(ctx, query,
		cutoff.UTC(), RecordingStatusProcessing, RecordingStatusLiveProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old recordings: %w", err)
	}
	return res.RowsAffected()
}

func scanRecording(row rowScanner) (*RecordingState, error) {
	var rec RecordingState
	var results sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.CameraID, &rec.Source, &rec.Status, &results,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if results.Valid && results.String != "" {
		rec.Results = []byte(results.String)
	}
	return &rec, nil
}
