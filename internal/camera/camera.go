package camera

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/geometry"
	"github.com/vzahanych/footfall-counter/internal/state"
)

// Camera is a configured camera
type Camera struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	RTSPURL             string          `json:"rtsp_url"`
	Enabled             bool            `json:"enabled"`
	ProcessingStartTime string          `json:"processing_start_time,omitempty"`
	ProcessingEndTime   string          `json:"processing_end_time,omitempty"`
	Lines               *counting.Lines `json:"lines,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Schedule returns the processing window. ok is false when either time is
// missing or malformed.
func (c *Camera) Schedule() (Schedule, bool) {
	if c.ProcessingStartTime == "" || c.ProcessingEndTime == "" {
		return Schedule{}, false
	}
	s, err := ParseSchedule(c.ProcessingStartTime, c.ProcessingEndTime)
	if err != nil {
		return Schedule{}, false
	}
	return s, true
}

// Configured reports whether the camera can run live sessions: it is
// enabled, has a stream URL, a schedule and usable lines.
func (c *Camera) Configured() bool {
	if !c.Enabled || c.RTSPURL == "" || c.Lines == nil || !c.Lines.Valid() {
		return false
	}
	_, ok := c.Schedule()
	return ok
}

// Validate checks the fields an API client may set
func (c *Camera) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("camera id is required")
	}
	if c.RTSPURL == "" {
		return fmt.Errorf("rtsp_url is required")
	}
	if (c.ProcessingStartTime == "") != (c.ProcessingEndTime == "") {
		return fmt.Errorf("processing_start_time and processing_end_time must be set together")
	}
	if c.ProcessingStartTime != "" {
		if _, err := ParseSchedule(c.ProcessingStartTime, c.ProcessingEndTime); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}
	if c.Lines != nil {
		if !c.Lines.Entrant.Valid() || !c.Lines.Passerby.Valid() {
			return fmt.Errorf("entrant and passerby lines need at least 2 points")
		}
		if !c.Lines.InSide.Known() {
			return fmt.Errorf("lines.in_side must be left or right")
		}
	}
	return nil
}

// FromConfig converts a YAML camera entry. A missing in_side means right.
func FromConfig(cc config.CameraConfig) (*Camera, error) {
	cam := &Camera{
		ID:                  cc.ID,
		Name:                cc.Name,
		RTSPURL:             cc.RTSPURL,
		Enabled:             !cc.Disabled,
		ProcessingStartTime: cc.ProcessingStartTime,
		ProcessingEndTime:   cc.ProcessingEndTime,
	}
	if cam.Name == "" {
		cam.Name = cam.ID
	}
	if cc.Lines != nil {
		side := geometry.Right
		if cc.Lines.InSide != "" {
			parsed, err := geometry.ParseSide(cc.Lines.InSide)
			if err != nil {
				return nil, fmt.Errorf("camera %s: %w", cc.ID, err)
			}
			side = parsed
		}
		cam.Lines = &counting.Lines{
			Entrant:  cc.Lines.Entrant.Clone(),
			Passerby: cc.Lines.Passerby.Clone(),
			InSide:   side,
		}
	}
	return cam, nil
}

func (c *Camera) toState() (state.CameraState, error) {
	cs := state.CameraState{
		ID:                  c.ID,
		Name:                c.Name,
		RTSPURL:             c.RTSPURL,
		Enabled:             c.Enabled,
		ProcessingStartTime: c.ProcessingStartTime,
		ProcessingEndTime:   c.ProcessingEndTime,
	}
	if c.Lines != nil {
		data, err := json.Marshal(c.Lines)
		if err != nil {
			return state.CameraState{}, fmt.Errorf("failed to encode lines: %w", err)
		}
		cs.LinesConfig = data
	}
	return cs, nil
}

func fromState(cs state.CameraState) (*Camera, error) {
	cam := &Camera{
		ID:                  cs.ID,
		Name:                cs.Name,
		RTSPURL:             cs.RTSPURL,
		Enabled:             cs.Enabled,
		ProcessingStartTime: cs.ProcessingStartTime,
		ProcessingEndTime:   cs.ProcessingEndTime,
		CreatedAt:           cs.CreatedAt,
		UpdatedAt:           cs.UpdatedAt,
	}
	if len(cs.LinesConfig) > 0 {
		var lines counting.Lines
		if err := json.Unmarshal(cs.LinesConfig, &lines); err != nil {
			return nil, fmt.Errorf("camera %s has invalid lines: %w", cs.ID, err)
		}
		cam.Lines = &lines
	}
	return cam, nil
}

// Clone returns a deep copy of the camera
func (c *Camera) Clone() *Camera {
	out := *c
	if c.Lines != nil {
		lines := c.Lines.Clone()
		out.Lines = &lines
	}
	return &out
}
