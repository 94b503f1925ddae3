package syncindex

import (
	"fmt"
	"math"
	"sort"
)

// Marker is a user-placed, labelled timestamp.
type Marker struct {
	Ms    float64 `json:"ms"`
	Label string  `json:"label"`
}

// MarkerSet keeps markers ascending by Ms with no two at the same
// rounded millisecond.
type MarkerSet struct {
	items []Marker
}

// NewMarkerSet builds a set from persisted markers. Later duplicates are
// dropped.
func NewMarkerSet(markers []Marker) *MarkerSet {
	s := &MarkerSet{}
	for _, m := range markers {
		s.Add(m.Ms, m.Label)
	}
	return s
}

func (s *MarkerSet) Len() int { return len(s.items) }

func (s *MarkerSet) At(i int) (Marker, bool) {
	if i < 0 || i >= len(s.items) {
		return Marker{}, false
	}
	return s.items[i], true
}

// List returns a copy in ascending order.
func (s *MarkerSet) List() []Marker {
	cp := make([]Marker, len(s.items))
	copy(cp, s.items)
	return cp
}

// Index builds a SyncIndex over the marker labels.
func (s *MarkerSet) Index() *Index {
	ev := make([]Event, len(s.items))
	for i, m := range s.items {
		ev[i] = Event{Ms: m.Ms, Text: m.Label}
	}
	return &Index{events: ev}
}

func (s *MarkerSet) find(ms float64) int {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].Ms >= ms })
	if i < len(s.items) && s.items[i].Ms == ms {
		return i
	}
	return -1
}

// IndexOf returns the position of the marker at round(ms), or -1.
func (s *MarkerSet) IndexOf(ms float64) int {
	return s.find(math.Round(ms))
}

// Add inserts a marker at round(ms). It returns false when one already
// exists there.
func (s *MarkerSet) Add(ms float64, label string) bool {
	ms = math.Round(ms)
	if s.find(ms) >= 0 {
		return false
	}
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].Ms > ms })
	s.items = append(s.items, Marker{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = Marker{Ms: ms, Label: label}
	return true
}

// AddAuto inserts a marker labelled "Part n", n being the set size after
// insertion.
func (s *MarkerSet) AddAuto(ms float64) (Marker, bool) {
	ms = math.Round(ms)
	if s.find(ms) >= 0 {
		return Marker{}, false
	}
	m := Marker{Ms: ms, Label: fmt.Sprintf("Part %d", len(s.items)+1)}
	s.Add(m.Ms, m.Label)
	return m, true
}

func (s *MarkerSet) Delete(ms float64) bool {
	i := s.find(math.Round(ms))
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *MarkerSet) Rename(ms float64, label string) bool {
	i := s.find(math.Round(ms))
	if i < 0 {
		return false
	}
	s.items[i].Label = label
	return true
}

// Nudge moves marker idx by delta, clamped to [0, max]. A move onto an
// occupied millisecond is refused. The set is re-sorted, so the returned
// marker may sit at a different index.
func (s *MarkerSet) Nudge(idx int, delta, max float64) (Marker, bool) {
	m, ok := s.At(idx)
	if !ok {
		return Marker{}, false
	}
	target := math.Round(math.Max(0, math.Min(max, m.Ms+delta)))
	if target == m.Ms {
		return m, true
	}
	if s.find(target) >= 0 {
		return m, false
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.Add(target, m.Label)
	return Marker{Ms: target, Label: m.Label}, true
}
