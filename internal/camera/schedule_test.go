package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hh, mm int) time.Time {
	return time.Date(2025, 3, 14, hh, mm, 30, 0, time.Local)
}

func TestSchedule_Window(t *testing.T) {
	s, err := ParseSchedule("08:00", "18:00")
	require.NoError(t, err)

	assert.False(t, s.Contains(at(7, 59)))
	assert.True(t, s.Contains(at(8, 0)))
	assert.True(t, s.Contains(at(17, 59)))
	assert.False(t, s.Contains(at(18, 0)))
	assert.Equal(t, "08:00-18:00", s.String())
}

func TestSchedule_NoOvernightWrap(t *testing.T) {
	s, err := ParseSchedule("22:00", "06:00")
	require.NoError(t, err)

	for _, h := range []int{0, 5, 12, 22, 23} {
		assert.False(t, s.Contains(at(h, 0)), "hour %d", h)
	}
}

func TestSchedule_ComparesNumerically(t *testing.T) {
	s, err := ParseSchedule("9:05", "10:00")
	require.NoError(t, err)
	assert.True(t, s.Contains(at(9, 30)))
}

func TestParseClock_Invalid(t *testing.T) {
	for _, in := range []string{"", "8h", "24:00", "12:60", "noon"} {
		_, err := ParseClock(in)
		assert.Error(t, err, in)
	}
}
