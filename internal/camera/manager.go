package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/service"
	"github.com/vzahanych/footfall-counter/internal/state"
)

// ErrCameraNotFound is returned for unknown camera ids
var ErrCameraNotFound = state.ErrCameraNotFound

// Store is the persistence the camera manager needs
type Store interface {
	SaveCamera(ctx context.Context, cam state.CameraState) error
	GetCamera(ctx context.Context, cameraID string) (*state.CameraState, error)
	ListCameras(ctx context.Context, enabledOnly bool) ([]state.CameraState, error)
	DeleteCamera(ctx context.Context, cameraID string) error
	SaveSystemState(ctx context.Context, key, value string) error
}

// Manager is the camera registry. Cameras from the configuration file are
// seeded into the store on start and on reload; the API edits them after.
type Manager struct {
	*service.ServiceBase
	store Store
	seed  []config.CameraConfig
}

// NewManager creates a camera manager
func NewManager(store Store, seed []config.CameraConfig, log *logger.Logger) *Manager {
	return &Manager{
		ServiceBase: service.NewServiceBase("camera-manager", log),
		store:       store,
		seed:        seed,
	}
}

// Start seeds configured cameras into the store
func (m *Manager) Start(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStarting)
	m.LogInfo("Starting camera manager", "configured_cameras", len(m.seed))

	if err := m.Seed(ctx, m.seed); err != nil {
		m.LogError("Failed to seed cameras", err)
		return err
	}

	m.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops the camera manager
func (m *Manager) Stop(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Seed upserts cameras from configuration
func (m *Manager) Seed(ctx context.Context, cameras []config.CameraConfig) error {
	for _, cc := range cameras {
		cam, err := FromConfig(cc)
		if err != nil {
			return err
		}
		if err := m.Save(ctx, cam); err != nil {
			return fmt.Errorf("failed to seed camera %s: %w", cc.ID, err)
		}
	}

	if len(cameras) > 0 {
		if err := m.store.SaveSystemState(ctx, "cameras_seeded_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
			m.LogWarn("Failed to record seed time", "error", err)
		}
	}
	return nil
}

// OnConfigChange re-seeds cameras after a configuration reload
func (m *Manager) OnConfigChange(ctx context.Context, oldConfig, newConfig *config.Config) error {
	m.seed = newConfig.Counter.Cameras
	return m.Seed(ctx, m.seed)
}

// Get returns a camera by id
func (m *Manager) Get(ctx context.Context, id string) (*Camera, error) {
	cs, err := m.store.GetCamera(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromState(*cs)
}

// List returns all cameras. Rows that cannot be decoded are logged and
// skipped.
func (m *Manager) List(ctx context.Context) ([]*Camera, error) {
	rows, err := m.store.ListCameras(ctx, false)
	if err != nil {
		return nil, err
	}

	cameras := make([]*Camera, 0, len(rows))
	for _, cs := range rows {
		cam, err := fromState(cs)
		if err != nil {
			m.LogWarn("Skipping camera with invalid configuration", "camera_id", cs.ID, "error", err)
			continue
		}
		cameras = append(cameras, cam)
	}
	return cameras, nil
}

// Save validates and stores a camera, then announces the change so the
// supervisor can react without waiting for its next poll
func (m *Manager) Save(ctx context.Context, cam *Camera) error {
	if cam.Name == "" {
		cam.Name = cam.ID
	}
	if err := cam.Validate(); err != nil {
		return fmt.Errorf("invalid camera %q: %w", cam.ID, err)
	}

	cs, err := cam.toState()
	if err != nil {
		return err
	}
	if err := m.store.SaveCamera(ctx, cs); err != nil {
		return err
	}

	m.LogInfo("Camera saved", "camera_id", cam.ID, "name", cam.Name, "configured", cam.Configured())
	m.PublishEvent(service.EventTypeCameraUpdated, map[string]interface{}{
		"camera_id": cam.ID,
	})
	return nil
}

// Delete removes a camera
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteCamera(ctx, id); err != nil {
		return err
	}

	m.LogInfo("Camera deleted", "camera_id", id)
	m.PublishEvent(service.EventTypeCameraDeleted, map[string]interface{}{
		"camera_id": id,
	})
	return nil
}
