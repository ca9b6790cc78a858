package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CameraState is a camera row
type CameraState struct {
	ID                  string
	Name                string
	RTSPURL             string
	Enabled             bool
	ProcessingStartTime string
	ProcessingEndTime   string
	// LinesConfig is the JSON-encoded line configuration, nil when unset.
	LinesConfig []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const cameraColumns = `id, name, rtsp_url, enabled, processing_start_time, processing_end_time, lines_config, created_at, updated_at`

// SaveCamera saves or updates a camera in the database
func (m *Manager) SaveCamera(ctx context.Context, cam CameraState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO cameras (id, name, rtsp_url, enabled, processing_start_time, processing_end_time, lines_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rtsp_url = excluded.rtsp_url,
			enabled = excluded.enabled,
			processing_start_time = excluded.processing_start_time,
			processing_end_time = excluded.processing_end_time,
			lines_config = excluded.lines_config,
			updated_at = excluded.updated_at
	`

	var lines interface{}
	if len(cam.LinesConfig) > 0 {
		lines = string(cam.LinesConfig)
	}

	now := time.Now().UTC()
	_, err := m.db.GetDB().ExecContext(ctx, query,
		cam.ID, cam.Name, cam.RTSPURL, cam.Enabled,
		cam.ProcessingStartTime, cam.ProcessingEndTime, lines,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}

	return nil
}

// GetCamera retrieves a camera by ID
func (m *Manager) GetCamera(ctx context.Context, cameraID string) (*CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + cameraColumns + ` FROM cameras WHERE id = ?`
	cam, err := scanCamera(m.db.GetDB().QueryRowContext(ctx, query, cameraID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}

	return cam, nil
}

// ListCameras lists all cameras ordered by name
func (m *Manager) ListCameras(ctx context.Context, enabledOnly bool) ([]CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + cameraColumns + ` FROM cameras`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []CameraState
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, *cam)
	}

	return cameras, rows.Err()
}

// DeleteCamera deletes a camera. Its recordings are kept.
func (m *Manager) DeleteCamera(ctx context.Context, cameraID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM cameras WHERE id = ?`, cameraID)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (*CameraState, error) {
	var cam CameraState
	var lines sql.NullString
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(
		&cam.ID, &cam.Name, &cam.RTSPURL, &cam.Enabled,
		&cam.ProcessingStartTime, &cam.ProcessingEndTime, &lines,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if lines.Valid && lines.String != "" {
		cam.LinesConfig = []byte(lines.String)
	}
	cam.CreatedAt = createdAt.Time
	cam.UpdatedAt = updatedAt.Time
	return &cam, nil
}
