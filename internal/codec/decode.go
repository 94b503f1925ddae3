package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"stemquina/pkg/audioengine"
	"stemquina/pkg/spec"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrUnsupported = errors.New("unsupported audio format")

// resampleQuality is beep's interpolation order for rate conversion.
const resampleQuality = 4

// Supported reports whether path has a decodable extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range spec.AudioExts {
		if ext == e {
			return true
		}
	}
	return false
}

// Decode reads a whole file into a stereo buffer at the canonical rate.
func Decode(path string) (*audioengine.PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		frames [][2]float64
		rate   int
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		frames, rate, err = decodeWAV(f)
	case ".mp3":
		s, format, derr := mp3.Decode(io.NopCloser(f))
		if derr != nil {
			return nil, fmt.Errorf("mp3 %s: %w", filepath.Base(path), derr)
		}
		frames, err = drain(s)
		rate = int(format.SampleRate)
	case ".flac":
		s, format, derr := flac.Decode(f)
		if derr != nil {
			return nil, fmt.Errorf("flac %s: %w", filepath.Base(path), derr)
		}
		frames, err = drain(s)
		rate = int(format.SampleRate)
	case ".opus", ".ogg":
		frames, rate, err = decodeOpus(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return toCanonical(frames, rate)
}

// drain reads a beep streamer to the end.
func drain(s beep.Streamer) ([][2]float64, error) {
	var out [][2]float64
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		out = append(out, buf[:n]...)
		if !ok {
			break
		}
	}
	return out, s.Err()
}

// toCanonical converts frames at rate to spec.SampleRate.
func toCanonical(frames [][2]float64, rate int) (*audioengine.PCM, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("bad sample rate %d", rate)
	}
	if rate == spec.SampleRate {
		return audioengine.NewPCM(frames), nil
	}
	src := &audioengine.PCM{Frames: frames, Rate: rate}
	r := beep.Resample(resampleQuality, beep.SampleRate(rate), beep.SampleRate(spec.SampleRate), src.Streamer(0))
	out, err := drain(r)
	if err != nil {
		return nil, err
	}
	return audioengine.NewPCM(out), nil
}

func decodeWAV(r io.ReadSeeker) ([][2]float64, int, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	frames, err := intFrames(buf, int(d.BitDepth))
	if err != nil {
		return nil, 0, err
	}
	return frames, buf.Format.SampleRate, nil
}

// intFrames scales interleaved integer samples to stereo floats. Mono is
// duplicated; channels past the second are dropped.
func intFrames(buf *audio.IntBuffer, depth int) ([][2]float64, error) {
	ch := buf.Format.NumChannels
	if ch < 1 {
		return nil, errors.New("no channels")
	}
	if depth <= 0 {
		depth = 16
	}
	scale := float64(int64(1) << (depth - 1))

	frames := make([][2]float64, len(buf.Data)/ch)
	for i := range frames {
		l := float64(buf.Data[i*ch]) / scale
		r := l
		if ch > 1 {
			r = float64(buf.Data[i*ch+1]) / scale
		}
		frames[i] = [2]float64{l, r}
	}
	return frames, nil
}
