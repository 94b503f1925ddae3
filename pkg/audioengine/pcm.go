package audioengine

import (
	"fmt"
	"math"

	"stemquina/pkg/spec"

	"github.com/faiface/beep"
)

// PCM is a decoded, owned stereo buffer at the canonical rate.
// Mono sources are duplicated into both sides by the decoder.
type PCM struct {
	Frames [][2]float64
	Rate   int
}

func NewPCM(frames [][2]float64) *PCM {
	return &PCM{Frames: frames, Rate: spec.SampleRate}
}

func (p *PCM) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Frames)
}

// DurationMs is the buffer length in milliseconds.
func (p *PCM) DurationMs() float64 {
	if p == nil || p.Rate <= 0 {
		return 0
	}
	return float64(len(p.Frames)) * 1000 / float64(p.Rate)
}

// FrameAt converts a content position to a frame index, clamped to the
// buffer.
func (p *PCM) FrameAt(ms float64) int {
	if p == nil {
		return 0
	}
	i := int(math.Floor(ms * float64(p.Rate) / 1000))
	if i < 0 {
		return 0
	}
	if i > len(p.Frames) {
		return len(p.Frames)
	}
	return i
}

// Streamer returns a seekable reader over the buffer starting at frame from.
// Readers share the samples but keep their own cursor.
func (p *PCM) Streamer(from int) beep.StreamSeeker {
	from = max(0, min(from, len(p.Frames)))
	return &pcmStreamer{pcm: p, pos: from}
}

// pcmStreamer reads straight out of a PCM buffer.
type pcmStreamer struct {
	pcm *PCM
	pos int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.pcm.Frames) {
		return 0, false
	}
	n := copy(samples, s.pcm.Frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

func (s *pcmStreamer) Len() int { return len(s.pcm.Frames) }

func (s *pcmStreamer) Position() int { return s.pos }

func (s *pcmStreamer) Seek(p int) error {
	if p < 0 || p > len(s.pcm.Frames) {
		return fmt.Errorf("seek %d out of range [0, %d]", p, len(s.pcm.Frames))
	}
	s.pos = p
	return nil
}
