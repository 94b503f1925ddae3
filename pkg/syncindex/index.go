// Package syncindex maps a playback position onto timestamp-ordered events
// (lyric lines, markers).
package syncindex

import "sort"

// Placeholder is shown as the current line when no event has been reached.
const Placeholder = "READY"

// unset is the cursor state before the first Update after a Reset.
const unset = -2

// Event is one timestamped entry.
type Event struct {
	Ms   float64
	Text string
}

// Index is an ascending-by-Ms event list. It does not re-sort its input.
type Index struct {
	events []Event
}

func New(events []Event) *Index {
	cp := make([]Event, len(events))
	copy(cp, events)
	return &Index{events: cp}
}

func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.events)
}

// At returns event k.
func (x *Index) At(k int) (Event, bool) {
	if x == nil || k < 0 || k >= len(x.events) {
		return Event{}, false
	}
	return x.events[k], true
}

// Events returns a copy of the indexed events.
func (x *Index) Events() []Event {
	if x == nil {
		return nil
	}
	cp := make([]Event, len(x.events))
	copy(cp, x.events)
	return cp
}

// Lookup returns the greatest k with events[k].Ms <= pos, or -1.
func (x *Index) Lookup(pos float64) int {
	if x == nil {
		return -1
	}
	n := sort.Search(len(x.events), func(i int) bool {
		return x.events[i].Ms > pos
	})
	return n - 1
}

// Window holds the texts around a current index.
type Window struct {
	Index    int    `json:"index"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Next     string `json:"next"`
}

// WindowAt derives previous/current/next for k, clamped to the valid range.
func (x *Index) WindowAt(k int) Window {
	w := Window{Index: k, Current: Placeholder}
	if prev, ok := x.At(k - 1); ok {
		w.Previous = prev.Text
	}
	if cur, ok := x.At(k); ok {
		w.Current = cur.Text
	}
	if next, ok := x.At(k + 1); ok {
		w.Next = next.Text
	}
	return w
}

// Cursor remembers the last published index so callers only republish on
// change.
type Cursor struct {
	k int
}

func NewCursor() *Cursor {
	return &Cursor{k: unset}
}

// Reset forces the next Update to report a change.
func (c *Cursor) Reset() {
	c.k = unset
}

// Current returns the last published index (-1 when none).
func (c *Cursor) Current() int {
	if c.k == unset {
		return -1
	}
	return c.k
}

// Update resolves pos against x and reports whether the index moved.
func (c *Cursor) Update(x *Index, pos float64) (int, bool) {
	k := x.Lookup(pos)
	if k == c.k {
		return k, false
	}
	c.k = k
	return k, true
}
