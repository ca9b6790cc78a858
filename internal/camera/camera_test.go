package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/geometry"
)

func testCameraConfig(id string) config.CameraConfig {
	return config.CameraConfig{
		ID:                  id,
		RTSPURL:             "rtsp://10.0.0.5:554/stream1",
		ProcessingStartTime: "08:00",
		ProcessingEndTime:   "18:00",
		Lines: &config.LinesConfig{
			Entrant:  geometry.Polyline{{X: 0, Y: 500}, {X: 1000, Y: 500}},
			Passerby: geometry.Polyline{{X: 0, Y: 100}, {X: 1000, Y: 100}},
		},
	}
}

func TestFromConfig(t *testing.T) {
	cam, err := FromConfig(testCameraConfig("3"))
	require.NoError(t, err)

	assert.Equal(t, "3", cam.Name)
	assert.True(t, cam.Enabled)
	require.NotNil(t, cam.Lines)
	assert.Equal(t, geometry.Right, cam.Lines.InSide, "missing in_side defaults to right")
	assert.True(t, cam.Configured())
}

func TestFromConfig_InvalidSide(t *testing.T) {
	cc := testCameraConfig("3")
	cc.Lines.InSide = "inside"
	_, err := FromConfig(cc)
	assert.Error(t, err)
}

func TestCamera_Configured(t *testing.T) {
	base, err := FromConfig(testCameraConfig("1"))
	require.NoError(t, err)

	cases := map[string]func(c *Camera){
		"disabled":       func(c *Camera) { c.Enabled = false },
		"no start":       func(c *Camera) { c.ProcessingStartTime = "" },
		"no end":         func(c *Camera) { c.ProcessingEndTime = "" },
		"bad time":       func(c *Camera) { c.ProcessingEndTime = "late" },
		"no lines":       func(c *Camera) { c.Lines = nil },
		"short line":     func(c *Camera) { c.Lines.Entrant = c.Lines.Entrant[:1] },
		"no stream url":  func(c *Camera) { c.RTSPURL = "" },
		"unknown inside": func(c *Camera) { c.Lines.InSide = geometry.Unknown },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base.Clone()
			mutate(c)
			assert.False(t, c.Configured())
		})
	}
}

func TestCamera_Validate(t *testing.T) {
	cam := &Camera{ID: "1", RTSPURL: "rtsp://cam", Enabled: true}
	assert.NoError(t, cam.Validate(), "schedule and lines are optional")

	cam.ProcessingStartTime = "08:00"
	assert.Error(t, cam.Validate(), "start without end")

	cam.ProcessingEndTime = "18:00"
	cam.Lines = &counting.Lines{
		Entrant:  geometry.Polyline{{X: 0, Y: 0}, {X: 1, Y: 0}},
		Passerby: geometry.Polyline{{X: 0, Y: 1}},
		InSide:   geometry.Left,
	}
	assert.Error(t, cam.Validate(), "passerby line too short")

	cam.Lines.Passerby = append(cam.Lines.Passerby, geometry.Point{X: 1, Y: 1})
	assert.NoError(t, cam.Validate())

	assert.Error(t, (&Camera{RTSPURL: "rtsp://cam"}).Validate(), "missing id")
}

func TestCamera_StateRoundTrip(t *testing.T) {
	cam, err := FromConfig(testCameraConfig("7"))
	require.NoError(t, err)
	cam.Lines.InSide = geometry.Left

	cs, err := cam.toState()
	require.NoError(t, err)

	back, err := fromState(cs)
	require.NoError(t, err)
	assert.Equal(t, cam.Lines, back.Lines)
	assert.Equal(t, cam.ProcessingStartTime, back.ProcessingStartTime)
}

func TestCamera_CloneIsDeep(t *testing.T) {
	cam, err := FromConfig(testCameraConfig("1"))
	require.NoError(t, err)

	c := cam.Clone()
	c.Lines.Entrant[0].X = 42
	assert.Equal(t, 0.0, cam.Lines.Entrant[0].X)
}
