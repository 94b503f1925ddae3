package audioengine

import (
	"fmt"
	"math"
	"time"

	"stemquina/pkg/spec"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// Voice is one channel handed to an Output in a single Play call.
type Voice struct {
	Track int
	PCM   *PCM
	Start int // first frame, source-time
	Speed float64
	Gain  float64
}

// Output is the audio sink. Play starts every voice together; Stop halts
// all of them immediately. Click may be called from any goroutine.
type Output interface {
	Play(voices []Voice) (int, error)
	Stop()
	SetGain(track int, gain float64)
	Click()
}

// ======================================================
// Speaker output (beep)
// ======================================================

// SpeakerOutput plays voices on the default device through beep's speaker.
// All channels go into the speaker mixer under one lock, so they start on
// the same sample.
type SpeakerOutput struct {
	quality int
	gains   [spec.NumTracks]*effects.Gain
}

func NewSpeakerOutput(buffer time.Duration) (*SpeakerOutput, error) {
	sr := beep.SampleRate(spec.SampleRate)
	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, fmt.Errorf("speaker init: %w", err)
	}
	return &SpeakerOutput{quality: 4}, nil
}

func (o *SpeakerOutput) Play(voices []Voice) (int, error) {
	var gains [spec.NumTracks]*effects.Gain
	streams := make([]beep.Streamer, 0, len(voices))

	for _, v := range voices {
		if v.PCM.Len() == 0 || v.Start >= v.PCM.Len() || v.Track < 0 || v.Track >= spec.NumTracks {
			continue
		}
		var s beep.Streamer = v.PCM.Streamer(v.Start)

		// rate change: tempo and pitch move together
		ratio := v.Speed * float64(v.PCM.Rate) / spec.SampleRate
		if ratio != 1 {
			s = beep.ResampleRatio(o.quality, ratio, s)
		}
		g := &effects.Gain{Streamer: s, Gain: clampGain(v.Gain) - 1}
		gains[v.Track] = g
		streams = append(streams, g)
	}
	if len(streams) == 0 {
		return 0, ErrNoChannels
	}

	speaker.Clear()
	speaker.Lock()
	o.gains = gains
	speaker.Unlock()
	speaker.Play(streams...)
	return len(streams), nil
}

func (o *SpeakerOutput) Stop() {
	speaker.Clear()
	speaker.Lock()
	o.gains = [spec.NumTracks]*effects.Gain{}
	speaker.Unlock()
}

func (o *SpeakerOutput) SetGain(track int, gain float64) {
	if track < 0 || track >= spec.NumTracks {
		return
	}
	speaker.Lock()
	if g := o.gains[track]; g != nil {
		g.Gain = clampGain(gain) - 1
	}
	speaker.Unlock()
}

func (o *SpeakerOutput) Click() {
	speaker.Play(Tone(spec.ClickFreq, spec.ClickDuration, spec.ClickAmp))
}

// Tone is a fixed-pitch sine burst.
func Tone(freq float64, d time.Duration, amp float64) beep.Streamer {
	sr := beep.SampleRate(spec.SampleRate)
	total := sr.N(d)
	i := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if i >= total {
			return 0, false
		}
		n := 0
		for n < len(samples) && i < total {
			v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
			samples[n] = [2]float64{v, v}
			n++
			i++
		}
		return n, true
	})
}
