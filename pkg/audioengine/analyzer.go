package audioengine

import (
	"math"

	"stemquina/pkg/spec"
)

// MeterFrames is the window used for live channel levels.
const MeterFrames = 1024

// peak returns the largest absolute sample in frames[from:from+n].
func peak(p *PCM, from, n int) float64 {
	if p.Len() == 0 || from >= p.Len() {
		return 0
	}
	end := min(from+n, p.Len())
	var m float64
	for _, f := range p.Frames[max(0, from):end] {
		m = math.Max(m, math.Max(math.Abs(f[0]), math.Abs(f[1])))
	}
	return m
}

// Levels reports each channel's post-gain peak around the live position.
func (e *Engine) Levels() [spec.NumTracks]float64 {
	e.lock()
	defer e.unlock()

	var lv [spec.NumTracks]float64
	pos := e.current()
	for i := range lv {
		t, _ := e.bank.Track(i)
		lv[i] = peak(t.PCM, t.PCM.FrameAt(pos), MeterFrames) * e.mix.EffectiveGain(i)
	}
	return lv
}

// Samples returns n mono samples of track i starting at the live
// position, zero-padded past the end.
func (e *Engine) Samples(i, n int) ([]float64, error) {
	e.lock()
	defer e.unlock()

	t, err := e.bank.Track(i)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	from := t.PCM.FrameAt(e.current())
	for k := 0; k < n && from+k < t.PCM.Len(); k++ {
		f := t.PCM.Frames[from+k]
		out[k] = (f[0] + f[1]) / 2
	}
	return out, nil
}
