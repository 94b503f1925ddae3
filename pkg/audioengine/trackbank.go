package audioengine

import (
	"fmt"

	"stemquina/pkg/spec"
)

// Track is one channel slot: an optional buffer plus its mix state.
type Track struct {
	PCM      *PCM
	Waveform []float64
	Volume   float64
	Mute     bool
	Name     string
	Mapping  string // source file name or spec.None
}

// TrackBank owns the five channel slots. Slot 0 is the reference recording
// and alone defines the session duration.
type TrackBank struct {
	tracks [spec.NumTracks]Track
}

func NewTrackBank() *TrackBank {
	b := &TrackBank{}
	for i := range b.tracks {
		b.tracks[i] = Track{Volume: spec.DefaultVolume, Mapping: spec.None}
	}
	return b
}

func checkSlot(i int) error {
	if i < 0 || i >= spec.NumTracks {
		return fmt.Errorf("%w: %d", ErrBadTrack, i)
	}
	return nil
}

// Track returns a copy of slot i's state.
func (b *TrackBank) Track(i int) (Track, error) {
	if err := checkSlot(i); err != nil {
		return Track{}, err
	}
	return b.tracks[i], nil
}

// Has reports whether slot i holds a buffer.
func (b *TrackBank) Has(i int) bool {
	return checkSlot(i) == nil && b.tracks[i].PCM.Len() > 0
}

// Swap replaces slot i's buffer wholesale. A nil pcm empties the slot.
func (b *TrackBank) Swap(i int, pcm *PCM, waveform []float64, mapping string) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	if pcm == nil {
		waveform = nil
		mapping = spec.None
	}
	if mapping == "" {
		mapping = spec.None
	}
	t := &b.tracks[i]
	t.PCM, t.Waveform, t.Mapping = pcm, waveform, mapping
	return nil
}

func (b *TrackBank) SetVolume(i int, v float64) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	b.tracks[i].Volume = clampGain(v)
	return nil
}

func (b *TrackBank) SetMute(i int, m bool) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	b.tracks[i].Mute = m
	return nil
}

func (b *TrackBank) SetName(i int, name string) error {
	if err := checkSlot(i); err != nil {
		return err
	}
	b.tracks[i].Name = name
	return nil
}

// Mutes snapshots the mute vector.
func (b *TrackBank) Mutes() [spec.NumTracks]bool {
	var m [spec.NumTracks]bool
	for i := range b.tracks {
		m[i] = b.tracks[i].Mute
	}
	return m
}

func (b *TrackBank) setMutes(m [spec.NumTracks]bool) {
	for i := range b.tracks {
		b.tracks[i].Mute = m[i]
	}
}

// DurationMs is slot 0's buffer length; an empty reference yields 0.
func (b *TrackBank) DurationMs() float64 {
	return b.tracks[spec.Reference].PCM.DurationMs()
}

// Active lists slots with a buffer, ascending.
func (b *TrackBank) Active() []int {
	var out []int
	for i := range b.tracks {
		if b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}
