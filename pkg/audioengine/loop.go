package audioengine

import (
	"math"

	"stemquina/pkg/spec"
)

// LoopController holds the A/B points. Either may be unset.
type LoopController struct {
	A, B *float64
}

func (l *LoopController) SetA(ms float64) { v := ms; l.A = &v }
func (l *LoopController) SetB(ms float64) { v := ms; l.B = &v }
func (l *LoopController) ClearA()         { l.A = nil }
func (l *LoopController) ClearB()         { l.B = nil }

func (l *LoopController) Clear() {
	l.A, l.B = nil, nil
}

func (l *LoopController) Set() bool { return l.A != nil && l.B != nil }

// ShouldLoop reports whether pos has just crossed B. The test is
// A <= pos, pos >= B and pos < B+window; it does not require A < B.
func (l *LoopController) ShouldLoop(pos float64) bool {
	if !l.Set() {
		return false
	}
	a, b := *l.A, *l.B
	return a <= pos && pos >= b && pos < b+spec.LoopWindowMs
}

// Nudge moves both points by delta, A floored at 0 and B capped at
// duration. It is a no-op when either is unset.
func (l *LoopController) Nudge(delta, duration float64) bool {
	if !l.Set() {
		return false
	}
	a := math.Max(0, *l.A+delta)
	b := math.Min(duration, *l.B+delta)
	l.A, l.B = &a, &b
	return true
}

// NudgePoint moves a single point, clamped to [0, duration].
func (l *LoopController) NudgePoint(which byte, delta, duration float64) bool {
	p := l.A
	if which == 'B' {
		p = l.B
	}
	if p == nil {
		return false
	}
	v := math.Max(0, math.Min(duration, *p+delta))
	if which == 'B' {
		l.B = &v
	} else {
		l.A = &v
	}
	return true
}

func (l *LoopController) snapshot() (a, b *float64) {
	return copyPtr(l.A), copyPtr(l.B)
}

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
