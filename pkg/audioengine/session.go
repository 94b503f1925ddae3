package audioengine

import (
	"fmt"
	"log"
	"time"

	"stemquina/pkg/spec"
	"stemquina/pkg/syncindex"
)

// SessionState is what gets written back after every mutation.
type SessionState struct {
	Song        string
	Names       [spec.NumTracks]string
	Volumes     [spec.NumTracks]float64
	Mutes       [spec.NumTracks]bool
	Markers     []syncindex.Marker
	LoopA       *float64
	LoopB       *float64
	Mappings    [spec.NumTracks]string
	Fingerprint string
}

// Persister receives session snapshots. Persist must not block.
type Persister interface {
	Persist(SessionState)
}

// SongTrack is one prepared slot of a loaded song.
type SongTrack struct {
	PCM      *PCM
	Waveform []float64
	Name     string
	Volume   float64
	Mute     bool
	Mapping  string
}

// Song is a fully decoded song ready to be swapped in.
type Song struct {
	Name        string
	Tracks      [spec.NumTracks]SongTrack
	Markers     []syncindex.Marker
	LoopA       *float64
	LoopB       *float64
	Lyrics      []syncindex.Event
	Stems       []string
	Fingerprint string
}

func (e *Engine) snapshot() SessionState {
	st := SessionState{
		Song:        e.song,
		Markers:     e.markers.List(),
		Fingerprint: e.fingerprint,
	}
	st.LoopA, st.LoopB = e.loop.snapshot()
	for i := 0; i < spec.NumTracks; i++ {
		t, _ := e.bank.Track(i)
		st.Names[i] = t.Name
		st.Volumes[i] = t.Volume
		st.Mutes[i] = t.Mute
		st.Mappings[i] = t.Mapping
	}
	return st
}

func (e *Engine) save() {
	if e.persist == nil || e.song == "" {
		return
	}
	e.persist.Persist(e.snapshot())
}

// ======================================================
// Song / stem hand-off
// ======================================================

// CanReplace reports whether the session may be swapped out without
// losing an in-progress lyric edit.
func (e *Engine) CanReplace() bool {
	e.lock()
	defer e.unlock()
	return !e.editing
}

// DeliverSong queues s to replace the session on the next tick. If a
// lyric edit is open by then, s is held until the edit is saved or
// discarded and a LOAD_BLOCKED event is published. A later delivery
// replaces a held one.
func (e *Engine) DeliverSong(s *Song) {
	e.Post(func() {
		if e.editing {
			e.pending = s
			ev := e.event(EventBlocked)
			ev.Song = s.Name
			ev.Error = ErrUnsavedLyrics.Error()
			e.emit(ev)
			return
		}
		e.applySong(s)
	})
}

// applyPending swaps in a song held back by the edit that just ended.
func (e *Engine) applyPending() {
	if s := e.pending; s != nil && !e.editing {
		e.pending = nil
		e.applySong(s)
	}
}

func (e *Engine) applySong(s *Song) {
	e.out.Stop()
	e.playing = false
	e.cancelCountIn()
	e.stopHold()
	e.countIn = false
	e.position = 0
	e.speed = spec.SpeedDefault
	e.lastStop = time.Time{}

	for i := range s.Tracks {
		t := s.Tracks[i]
		e.bank.Swap(i, t.PCM, t.Waveform, t.Mapping)
		e.bank.SetVolume(i, t.Volume)
		e.bank.SetMute(i, t.Mute)
		e.bank.SetName(i, t.Name)
	}
	e.mix.ResetSolo()

	e.markers = syncindex.NewMarkerSet(s.Markers)
	e.markerIdx = e.markers.Index()
	e.loop = LoopController{A: copyPtr(s.LoopA), B: copyPtr(s.LoopB)}
	e.lyrics = syncindex.New(s.Lyrics)
	e.lyricCur.Reset()
	e.markerCur.Reset()

	e.song = s.Name
	e.stems = append([]string(nil), s.Stems...)
	e.fingerprint = s.Fingerprint

	e.save()
	ev := e.event(EventSong)
	ev.Song = s.Name
	e.emit(ev)
}

// DeliverStem queues a reloaded stem of song for slot i. Playback
// restarts at the current position so the new channel joins in sync. The
// stem is dropped if another song was loaded in the meantime.
func (e *Engine) DeliverStem(song string, i int, mapping string, pcm *PCM, waveform []float64) {
	e.Post(func() {
		if e.song != song {
			log.Printf("[Warn] stem %s for %q dropped, %q is loaded", mapping, song, e.song)
			return
		}
		if err := e.swapStem(i, mapping, pcm, waveform); err != nil {
			log.Printf("[Error] stem %d: %v", i, err)
		}
	})
}

// ClearStem empties slot i immediately.
func (e *Engine) ClearStem(i int) error {
	e.lock()
	defer e.unlock()
	return e.swapStem(i, spec.None, nil, nil)
}

func (e *Engine) swapStem(i int, mapping string, pcm *PCM, waveform []float64) error {
	if i == spec.Reference {
		return fmt.Errorf("%w: reference slot is not a stem", ErrBadTrack)
	}
	if err := e.bank.Swap(i, pcm, waveform, mapping); err != nil {
		return err
	}
	e.save()
	ev := e.event(EventStem)
	ev.Track = i
	e.emit(ev)

	if e.playing {
		return e.playFrom(e.current(), true)
	}
	return nil
}

// Stems lists the candidate stem files of the loaded song.
func (e *Engine) Stems() []string {
	e.lock()
	defer e.unlock()
	return append([]string(nil), e.stems...)
}

// SetStems replaces the candidate list, e.g. after a rescan.
func (e *Engine) SetStems(stems []string) {
	e.lock()
	defer e.unlock()
	e.stems = append([]string(nil), stems...)
}

// ======================================================
// Lyrics
// ======================================================

// BeginLyricsEdit closes the replace gate until the edit is committed or
// discarded.
func (e *Engine) BeginLyricsEdit() error {
	e.lock()
	defer e.unlock()
	if e.song == "" {
		return ErrNoSong
	}
	e.editing = true
	e.emitType(EventLyrics)
	return nil
}

// SetLyrics installs freshly parsed lines and ends any edit.
func (e *Engine) SetLyrics(lines []syncindex.Event) {
	e.lock()
	defer e.unlock()
	e.lyrics = syncindex.New(lines)
	e.lyricCur.Reset()
	e.editing = false
	e.emitType(EventLyrics)
	e.syncCursors()
	e.applyPending()
}

// DiscardLyricsEdit drops the edit and keeps the current lines.
func (e *Engine) DiscardLyricsEdit() {
	e.lock()
	defer e.unlock()
	e.editing = false
	e.emitType(EventLyrics)
	e.applyPending()
}

func (e *Engine) Editing() bool {
	e.lock()
	defer e.unlock()
	return e.editing
}

// Lyrics returns the current lines.
func (e *Engine) Lyrics() []syncindex.Event {
	e.lock()
	defer e.unlock()
	return e.lyrics.Events()
}

// ======================================================
// Mix
// ======================================================

func (e *Engine) applyGains() {
	for i := 0; i < spec.NumTracks; i++ {
		e.out.SetGain(i, e.mix.EffectiveGain(i))
	}
	e.save()
	e.emitType(EventMix)
}

func (e *Engine) SetVolume(i int, v float64) error {
	e.lock()
	defer e.unlock()
	if err := e.bank.SetVolume(i, v); err != nil {
		return err
	}
	e.applyGains()
	return nil
}

func (e *Engine) SetMute(i int, m bool) error {
	e.lock()
	defer e.unlock()
	if err := e.bank.SetMute(i, m); err != nil {
		return err
	}
	e.applyGains()
	return nil
}

func (e *Engine) ToggleMute(i int) error {
	e.lock()
	defer e.unlock()
	t, err := e.bank.Track(i)
	if err != nil {
		return err
	}
	e.bank.SetMute(i, !t.Mute)
	e.applyGains()
	return nil
}

func (e *Engine) Solo(i int) error {
	e.lock()
	defer e.unlock()
	if err := e.mix.Solo(i); err != nil {
		return err
	}
	e.applyGains()
	return nil
}

func (e *Engine) SetMasterVolume(v float64) {
	e.lock()
	defer e.unlock()
	e.mix.SetMasterVolume(v)
	e.applyGains()
}

func (e *Engine) SetTrackName(i int, name string) error {
	e.lock()
	defer e.unlock()
	if err := e.bank.SetName(i, name); err != nil {
		return err
	}
	e.save()
	e.emitType(EventMix)
	return nil
}

// ======================================================
// Loop
// ======================================================

func (e *Engine) loopChanged() {
	e.save()
	e.emitType(EventLoop)
}

func (e *Engine) SetLoopA(ms float64) {
	e.lock()
	defer e.unlock()
	e.loop.SetA(e.clampToDuration(ms))
	e.loopChanged()
}

func (e *Engine) SetLoopB(ms float64) {
	e.lock()
	defer e.unlock()
	e.loop.SetB(e.clampToDuration(ms))
	e.loopChanged()
}

// SetLoopFraction sets point 'A' or 'B' to f * duration.
func (e *Engine) SetLoopFraction(which byte, f float64) error {
	e.lock()
	defer e.unlock()
	ms := e.clampToDuration(f * e.bank.DurationMs())
	switch which {
	case 'A':
		e.loop.SetA(ms)
	case 'B':
		e.loop.SetB(ms)
	default:
		return fmt.Errorf("unknown loop point %q", which)
	}
	e.loopChanged()
	return nil
}

func (e *Engine) ClearLoopA() {
	e.lock()
	defer e.unlock()
	e.loop.ClearA()
	e.loopChanged()
}

func (e *Engine) ClearLoopB() {
	e.lock()
	defer e.unlock()
	e.loop.ClearB()
	e.loopChanged()
}

func (e *Engine) ClearLoop() {
	e.lock()
	defer e.unlock()
	e.loop.Clear()
	e.loopChanged()
}

// Loop returns copies of the loop points.
func (e *Engine) Loop() (a, b *float64) {
	e.lock()
	defer e.unlock()
	return e.loop.snapshot()
}

// ======================================================
// Markers
// ======================================================

func (e *Engine) markersChanged() {
	e.markerIdx = e.markers.Index()
	e.markerCur.Reset()
	e.save()
	e.emitType(EventMarkers)
	e.syncCursors()
}

// AddMarker drops an auto-labelled marker at the current position.
func (e *Engine) AddMarker() (syncindex.Marker, bool) {
	e.lock()
	defer e.unlock()
	if e.bank.DurationMs() <= 0 {
		return syncindex.Marker{}, false
	}
	m, ok := e.markers.AddAuto(e.current())
	if ok {
		e.markersChanged()
	}
	return m, ok
}

func (e *Engine) DeleteMarker(ms float64) bool {
	e.lock()
	defer e.unlock()
	ok := e.markers.Delete(ms)
	if ok {
		e.markersChanged()
	}
	return ok
}

func (e *Engine) RenameMarker(ms float64, label string) bool {
	e.lock()
	defer e.unlock()
	ok := e.markers.Rename(ms, label)
	if ok {
		e.markersChanged()
	}
	return ok
}

func (e *Engine) Markers() []syncindex.Marker {
	e.lock()
	defer e.unlock()
	return e.markers.List()
}

// ======================================================
// Nudges (single step and press-and-hold)
// ======================================================

type HoldTarget int

const (
	HoldLoop HoldTarget = iota // both points
	HoldLoopA
	HoldLoopB
	HoldMarker
)

// nudgeStep builds one nudge; it runs under the engine lock. Marker
// nudges follow the marker by ms since re-sorting can move its index.
func (e *Engine) nudgeStep(target HoldTarget, marker int, delta float64) (func() bool, error) {
	switch target {
	case HoldLoop:
		return func() bool {
			ok := e.loop.Nudge(delta, e.bank.DurationMs())
			if ok {
				e.loopChanged()
			}
			return ok
		}, nil
	case HoldLoopA, HoldLoopB:
		which := byte('A')
		if target == HoldLoopB {
			which = 'B'
		}
		return func() bool {
			ok := e.loop.NudgePoint(which, delta, e.bank.DurationMs())
			if ok {
				e.loopChanged()
			}
			return ok
		}, nil
	case HoldMarker:
		m, ok := e.markers.At(marker)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrNoMarker, marker)
		}
		ms := m.Ms
		return func() bool {
			idx := e.markers.IndexOf(ms)
			if idx < 0 {
				return false
			}
			moved, ok := e.markers.Nudge(idx, delta, e.bank.DurationMs())
			if ok {
				ms = moved.Ms
				e.markersChanged()
			}
			return ok
		}, nil
	}
	return nil, fmt.Errorf("unknown nudge target %d", target)
}

// Nudge applies a single step.
func (e *Engine) Nudge(target HoldTarget, marker int, delta float64) (bool, error) {
	e.lock()
	defer e.unlock()
	step, err := e.nudgeStep(target, marker, delta)
	if err != nil {
		return false, err
	}
	return step(), nil
}

// StartHold applies one step now, then repeats after the hold delay until
// StopHold.
func (e *Engine) StartHold(target HoldTarget, marker int, delta float64) error {
	e.lock()
	defer e.unlock()

	e.stopHold()
	step, err := e.nudgeStep(target, marker, delta)
	if err != nil {
		return err
	}
	step()

	gen := e.holdGen
	e.hold = StartRepeat(spec.HoldDelay, spec.HoldRepeat, func() {
		e.Post(func() {
			if e.holdGen == gen {
				step()
			}
		})
	})
	return nil
}

func (e *Engine) StopHold() {
	e.lock()
	defer e.unlock()
	e.stopHold()
}

func (e *Engine) stopHold() {
	if e.hold != nil {
		e.hold.Stop()
		e.hold = nil
	}
	e.holdGen++
}
