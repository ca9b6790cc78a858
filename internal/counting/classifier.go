// Package counting turns per-frame track lists into entrant and passerby
// counts.
package counting

import (
	"errors"
	"fmt"

	"github.com/vzahanych/footfall-counter/internal/geometry"
)

// DefaultFallbackLabel is used when a track has no usable class label.
const DefaultFallbackLabel = "Person"

// ErrIncompleteLines is returned when a line configuration cannot be used
// for counting.
var ErrIncompleteLines = errors.New("line configuration requires entrant and passerby lines with at least 2 points and an in_side")

// Status is the classification of one track.
type Status int

const (
	Neutral Status = iota
	Passerby
	Entrant
)

// String returns the lowercase name of the status
func (s Status) String() string {
	switch s {
	case Passerby:
		return "passerby"
	case Entrant:
		return "entrant"
	default:
		return "neutral"
	}
}

// Strategy selects how a crossing is detected.
type Strategy string

const (
	// StrategySideChange counts a crossing when the side of the reference
	// point flips between two observations.
	StrategySideChange Strategy = "side_change"
	// StrategyPathIntersection additionally requires the motion segment
	// between two observations to intersect the line.
	StrategyPathIntersection Strategy = "path_intersection"
)

// Lines is the per-camera line configuration.
type Lines struct {
	Entrant  geometry.Polyline `json:"entrant" yaml:"entrant"`
	Passerby geometry.Polyline `json:"passerby" yaml:"passerby"`
	InSide   geometry.Side     `json:"in_side" yaml:"in_side"`
}

// Valid reports whether both lines are usable and the in side is set.
func (l Lines) Valid() bool {
	return l.Entrant.Valid() && l.Passerby.Valid() && l.InSide.Known()
}

// Clone returns a copy that shares no memory with l.
func (l Lines) Clone() Lines {
	return Lines{
		Entrant:  l.Entrant.Clone(),
		Passerby: l.Passerby.Clone(),
		InSide:   l.InSide,
	}
}

// Scale maps lines drawn on a canvas of size (fromW, fromH) onto frames of
// size (toW, toH). A zero canvas dimension leaves that axis unscaled.
func (l Lines) Scale(fromW, fromH, toW, toH int) Lines {
	sx, sy := 1.0, 1.0
	if fromW > 0 {
		sx = float64(toW) / float64(fromW)
	}
	if fromH > 0 {
		sy = float64(toH) / float64(fromH)
	}
	return Lines{
		Entrant:  l.Entrant.Scale(sx, sy),
		Passerby: l.Passerby.Scale(sx, sy),
		InSide:   l.InSide,
	}
}

// Track is one tracked object in one frame.
type Track struct {
	ID         int           `json:"track_id"`
	BBox       geometry.BBox `json:"bbox"`
	ClassID    int           `json:"class_id"`
	ClassName  string        `json:"class_name"`
	Confidence float64       `json:"confidence"`
}

// TrackState is the classification state of one track id.
type TrackState struct {
	Status           Status
	LastEntrantSide  geometry.Side
	LastPasserbySide geometry.Side
	LastPoint        geometry.Point
	// CountedLabel is the class slot the track currently occupies.
	CountedLabel string

	observed    bool
	labelCounts map[string]int
	labelOrder  []string
}

func newTrackState() *TrackState {
	return &TrackState{
		LastEntrantSide:  geometry.Unknown,
		LastPasserbySide: geometry.Unknown,
		labelCounts:      make(map[string]int),
	}
}

func (s *TrackState) recordLabel(label string) {
	if label == "" {
		return
	}
	if _, ok := s.labelCounts[label]; !ok {
		s.labelOrder = append(s.labelOrder, label)
	}
	s.labelCounts[label]++
}

// MajorityLabel returns the most frequent label seen for the track. Ties go
// to the label seen first. Empty when no label was recorded.
func (s *TrackState) MajorityLabel() string {
	best, bestCount := "", 0
	for _, label := range s.labelOrder {
		if n := s.labelCounts[label]; n > bestCount {
			best, bestCount = label, n
		}
	}
	return best
}

// Transition describes a status change produced by Observe.
type Transition struct {
	TrackID int
	From    Status
	To      Status
	Label   string
	Point   geometry.Point
}

// Options configures a Classifier.
type Options struct {
	Strategy Strategy
	// SideTest defaults to geometry.SideOf.
	SideTest      geometry.SideFunc
	FallbackLabel string
	// ClassNames lists the class slots of the aggregate. When empty every
	// label gets its own slot.
	ClassNames []string
}

// Classifier holds the track states and counts of one session. It is not
// safe for concurrent use.
type Classifier struct {
	lines  Lines
	opts   Options
	sideOf geometry.SideFunc
	slots  map[string]bool
	tracks map[int]*TrackState
	counts Counts
}

// NewClassifier creates a classifier for the given lines. The lines are
// copied.
func NewClassifier(lines Lines, opts Options) (*Classifier, error) {
	if !lines.Valid() {
		return nil, ErrIncompleteLines
	}
	switch opts.Strategy {
	case "":
		opts.Strategy = StrategySideChange
	case StrategySideChange, StrategyPathIntersection:
	default:
		return nil, fmt.Errorf("unknown counting strategy %q", opts.Strategy)
	}
	if opts.FallbackLabel == "" {
		opts.FallbackLabel = DefaultFallbackLabel
	}
	sideOf := opts.SideTest
	if sideOf == nil {
		sideOf = geometry.SideOf
	}

	var slots map[string]bool
	classNames := opts.ClassNames
	if len(classNames) > 0 {
		slots = make(map[string]bool, len(classNames)+1)
		for _, name := range classNames {
			slots[name] = true
		}
		if !slots[opts.FallbackLabel] {
			slots[opts.FallbackLabel] = true
			classNames = append(append([]string(nil), classNames...), opts.FallbackLabel)
		}
	}

	return &Classifier{
		lines:  lines.Clone(),
		opts:   opts,
		sideOf: sideOf,
		slots:  slots,
		tracks: make(map[int]*TrackState),
		counts: NewCounts(classNames),
	}, nil
}

// Lines returns the line configuration in use.
func (c *Classifier) Lines() Lines {
	return c.lines.Clone()
}

// slotFor maps a label to the class slot it is counted under.
func (c *Classifier) slotFor(label string) string {
	if label == "" {
		return c.opts.FallbackLabel
	}
	if c.slots != nil && !c.slots[label] {
		return c.opts.FallbackLabel
	}
	return label
}

// Observe applies one frame of tracks in order and returns the status
// changes it caused.
func (c *Classifier) Observe(tracks []Track) []Transition {
	var transitions []Transition
	for _, t := range tracks {
		if tr, ok := c.observe(t); ok {
			transitions = append(transitions, tr)
		}
	}
	return transitions
}

func (c *Classifier) observe(t Track) (Transition, bool) {
	ref := t.BBox.Center()
	st, ok := c.tracks[t.ID]
	if !ok {
		st = newTrackState()
		c.tracks[t.ID] = st
	}
	st.recordLabel(t.ClassName)
	label := c.slotFor(t.ClassName)

	tr := Transition{TrackID: t.ID, From: st.Status, Label: label, Point: ref}

	passSide := c.sideOf(ref, c.lines.Passerby)
	if c.crossed(st, ref, passSide, st.LastPasserbySide, c.lines.Passerby) && st.Status == Neutral {
		st.Status = Passerby
		st.CountedLabel = label
		c.counts.Passersby.add(label, 1)
	}
	if passSide.Known() {
		st.LastPasserbySide = passSide
	}

	entSide := c.sideOf(ref, c.lines.Entrant)
	outSide := c.lines.InSide.Opposite()
	if entSide == c.lines.InSide && st.LastEntrantSide == outSide &&
		c.crossed(st, ref, entSide, st.LastEntrantSide, c.lines.Entrant) {
		switch st.Status {
		case Neutral:
			st.Status = Entrant
			st.CountedLabel = label
			c.counts.Entrants.add(label, 1)
		case Passerby:
			c.counts.Passersby.add(st.CountedLabel, -1)
			st.Status = Entrant
			st.CountedLabel = label
			c.counts.Entrants.add(label, 1)
		}
	}
	if entSide.Known() {
		st.LastEntrantSide = entSide
	}

	st.LastPoint = ref
	st.observed = true

	tr.To = st.Status
	return tr, tr.From != tr.To
}

// crossed reports whether the track moved from last to current across line
// under the configured strategy.
func (c *Classifier) crossed(st *TrackState, ref geometry.Point, current, last geometry.Side, line geometry.Polyline) bool {
	if !current.Known() || !last.Known() || current == last {
		return false
	}
	if c.opts.Strategy == StrategyPathIntersection {
		return st.observed && geometry.PathCrossesPolyline(st.LastPoint, ref, line)
	}
	return true
}

// Counts returns a copy of the live counts.
func (c *Classifier) Counts() Counts {
	return c.counts.Clone()
}

// TrackCount is the number of track ids seen so far.
func (c *Classifier) TrackCount() int {
	return len(c.tracks)
}

// State returns a copy of the state of a track.
func (c *Classifier) State(trackID int) (TrackState, bool) {
	st, ok := c.tracks[trackID]
	if !ok {
		return TrackState{}, false
	}
	return *st, true
}

// Check verifies that the live totals match the number of classified tracks.
func (c *Classifier) Check() error {
	classified := 0
	for _, st := range c.tracks {
		if st.Status != Neutral {
			classified++
		}
	}
	if got := c.counts.Overall(); got != classified {
		return fmt.Errorf("count mismatch: totals=%d classified tracks=%d", got, classified)
	}
	return nil
}

// FinalCounts re-tallies the classified tracks using the majority label of
// each one. Totals match the live counts.
func (c *Classifier) FinalCounts() Counts {
	final := NewCounts(c.slotNames())
	for _, st := range c.tracks {
		label := c.slotFor(st.MajorityLabel())
		switch st.Status {
		case Entrant:
			final.Entrants.add(label, 1)
		case Passerby:
			final.Passersby.add(label, 1)
		}
	}
	return final
}

func (c *Classifier) slotNames() []string {
	if c.slots == nil {
		return nil
	}
	names := make([]string, 0, len(c.slots))
	for name := range c.slots {
		names = append(names, name)
	}
	return names
}
