package codec

import (
	"math"

	"stemquina/pkg/audioengine"
)

// WaveformPoints is the default envelope resolution.
const WaveformPoints = 3000

// Waveform reduces a buffer to about n peak points in [0,1], normalised
// by the loudest sample of the whole buffer.
func Waveform(p *audioengine.PCM, n int) []float64 {
	if p.Len() == 0 || n <= 0 {
		return nil
	}
	step := max(1, p.Len()/n)

	var top float64
	for _, f := range p.Frames {
		top = math.Max(top, math.Max(math.Abs(f[0]), math.Abs(f[1])))
	}
	if top == 0 {
		top = 1
	}

	out := make([]float64, 0, p.Len()/step+1)
	for i := 0; i < p.Len(); i += step {
		var peak float64
		for _, f := range p.Frames[i:min(i+step, p.Len())] {
			peak = math.Max(peak, math.Max(math.Abs(f[0]), math.Abs(f[1])))
		}
		out = append(out, peak/top)
	}
	return out
}
