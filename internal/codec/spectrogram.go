package codec

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	SpectrumWindow = 2048
	SpectrumBands  = 20
	PeakDecay      = 0.92
)

// Spectrum computes band levels of a mono window in [-1,1]. Magnitudes
// are taken on the 16-bit scale, log-compressed and averaged into equal
// bands.
func Spectrum(samples []float64, bands int) []float64 {
	if bands <= 0 {
		return nil
	}
	out := make([]float64, bands)
	if len(samples) < 2 {
		return out
	}

	window := make([]float64, len(samples))
	for i, v := range samples {
		window[i] = v * 32768
	}
	coeffs := fft.FFTReal(window)
	half := len(coeffs) / 2

	logs := make([]float64, half)
	for i := 0; i < half; i++ {
		logs[i] = math.Log10(cmplx.Abs(coeffs[i]) + 1)
	}

	// equal split; the first half%bands bands get one extra bin
	base, extra := half/bands, half%bands
	pos := 0
	for b := 0; b < bands; b++ {
		size := base
		if b < extra {
			size++
		}
		if size == 0 {
			continue
		}
		var sum float64
		for _, v := range logs[pos : pos+size] {
			sum += v
		}
		pos += size
		out[b] = math.Pow(sum/float64(size), 1.4) * 0.4
	}
	return out
}

// Peaks holds falling bar peaks for a spectrum display.
type Peaks struct {
	Values []float64
}

func NewPeaks(bands int) *Peaks {
	return &Peaks{Values: make([]float64, bands)}
}

// Decay lowers every bar by the decay factor.
func (p *Peaks) Decay() {
	for i := range p.Values {
		p.Values[i] *= PeakDecay
	}
}

// Merge raises bars to the new levels where they are higher.
func (p *Peaks) Merge(levels []float64) {
	for i := range p.Values {
		if i < len(levels) {
			p.Values[i] = math.Max(p.Values[i], levels[i])
		}
	}
}
