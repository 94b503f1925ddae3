package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/hraban/opus"
)

// opusRate is the fixed output rate of libopusfile.
const opusRate = 48000

// opusChannels reads the channel count out of the OpusHead packet.
func opusChannels(b []byte) int {
	i := bytes.Index(b, []byte("OpusHead"))
	if i < 0 || i+9 >= len(b) {
		return 2
	}
	if ch := int(b[i+9]); ch >= 1 {
		return ch
	}
	return 2
}

// decodeOpus decodes an Ogg-Opus stream into stereo frames at 48 kHz.
func decodeOpus(r io.Reader) ([][2]float64, int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	ch := opusChannels(raw)

	s, err := opus.NewStream(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	defer s.Close()

	// 120 ms at 48 kHz is the largest opus frame
	pcm := make([]int16, 5760*ch)
	var frames [][2]float64
	for {
		n, err := s.Read(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		for i := 0; i < n; i++ {
			l := float64(pcm[i*ch]) / 32768.0
			r := l
			if ch > 1 {
				r = float64(pcm[i*ch+1]) / 32768.0
			}
			frames = append(frames, [2]float64{l, r})
		}
	}
	return frames, opusRate, nil
}
