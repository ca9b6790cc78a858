package camera

import (
	"fmt"
	"time"
)

// Schedule is a same-day processing window in local clock time. Start and
// End are minutes after midnight.
type Schedule struct {
	Start int
	End   int
}

// ParseClock parses "HH:MM" into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM): %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseSchedule parses a start and end time of day
func ParseSchedule(start, end string) (Schedule, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Schedule{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return Schedule{}, fmt.Errorf("end: %w", err)
	}
	return Schedule{Start: s, End: e}, nil
}

// Contains reports whether t falls in [Start, End). A window whose end is
// not after its start never contains anything; overnight windows are not
// supported.
func (s Schedule) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return s.Start <= m && m < s.End
}

func (s Schedule) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.Start/60, s.Start%60, s.End/60, s.End%60)
}
