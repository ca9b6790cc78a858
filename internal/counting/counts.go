package counting

import (
	"encoding/json"
)

// Tally holds per-class counters and their total.
type Tally struct {
	ByClass map[string]int `json:"by_class"`
	Total   int            `json:"total"`
}

func newTally(classNames []string) Tally {
	t := Tally{ByClass: make(map[string]int, len(classNames))}
	for _, name := range classNames {
		t.ByClass[name] = 0
	}
	return t
}

func (t *Tally) add(label string, delta int) {
	if t.ByClass == nil {
		t.ByClass = make(map[string]int)
	}
	t.ByClass[label] += delta
	t.Total += delta
}

func (t Tally) clone() Tally {
	out := Tally{ByClass: make(map[string]int, len(t.ByClass)), Total: t.Total}
	for k, v := range t.ByClass {
		out.ByClass[k] = v
	}
	return out
}

// Counts is the aggregate of one session.
type Counts struct {
	Entrants  Tally `json:"entrants"`
	Passersby Tally `json:"passersby"`
}

// NewCounts returns zeroed counts with a slot for every class name.
func NewCounts(classNames []string) Counts {
	return Counts{
		Entrants:  newTally(classNames),
		Passersby: newTally(classNames),
	}
}

// Overall is the number of tracks counted in either category.
func (c Counts) Overall() int {
	return c.Entrants.Total + c.Passersby.Total
}

// Clone returns a deep copy.
func (c Counts) Clone() Counts {
	return Counts{
		Entrants:  c.Entrants.clone(),
		Passersby: c.Passersby.clone(),
	}
}

// MarshalJSON writes the counts with an extra "overall" total so consumers
// reading a stored snapshot need not add the two categories themselves.
func (c Counts) MarshalJSON() ([]byte, error) {
	type tallies Counts
	type overall struct {
		Total int `json:"total"`
	}
	return json.Marshal(struct {
		Overall overall `json:"overall"`
		tallies
	}{
		Overall: overall{Total: c.Overall()},
		tallies: tallies(c),
	})
}
