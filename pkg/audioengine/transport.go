package audioengine

import (
	"fmt"
	"math"
	"time"

	"stemquina/pkg/spec"
)

// playFrom stops every channel, stores ms as the pending position and
// either hands off to the count-in or starts audio right away. When
// nothing starts the previous position is put back.
func (e *Engine) playFrom(ms float64, ignoreCountIn bool) error {
	prev := e.current()
	e.out.Stop()
	e.playing = false
	e.cancelCountIn()

	ms = math.Max(0, ms)
	e.position = ms

	if e.countIn && !ignoreCountIn {
		e.beginCountIn(ms)
		return nil
	}
	err := e.startAudio(ms)
	if !e.playing {
		e.position = prev
	}
	return err
}

// startAudio starts every loaded slot at ms in one Play call. It only
// touches the position on success.
func (e *Engine) startAudio(ms float64) error {
	dur := e.bank.DurationMs()
	if dur <= 0 {
		e.emitType(EventState)
		return ErrNoReference
	}
	if ms >= dur {
		if !e.repeat {
			e.emitType(EventState)
			return nil
		}
		ms = 0
		e.position = 0
	}

	voices := make([]Voice, 0, spec.NumTracks)
	for _, i := range e.bank.Active() {
		t, _ := e.bank.Track(i)
		voices = append(voices, Voice{
			Track: i,
			PCM:   t.PCM,
			Start: t.PCM.FrameAt(ms),
			Speed: e.speed,
			Gain:  e.mix.EffectiveGain(i),
		})
	}

	n, err := e.out.Play(voices)
	if err != nil || n == 0 {
		e.out.Stop()
		e.emitType(EventState)
		if err == nil {
			err = ErrNoChannels
		}
		return fmt.Errorf("start at %.0fms: %w", ms, err)
	}

	e.startRef = e.clock.Now().Add(-time.Duration(ms / e.speed * float64(time.Millisecond)))
	e.playing = true
	e.emitType(EventState)
	return nil
}

// stopLogic halts audio and clears playing/counting. A second stop within
// the double-stop window rewinds to 0.
func (e *Engine) stopLogic() {
	now := e.clock.Now()
	if e.playing {
		e.position = math.Max(0, math.Min(e.derive(now), e.bank.DurationMs()))
	}
	if !e.lastStop.IsZero() && now.Sub(e.lastStop) < spec.DoubleStop {
		e.position = 0
	}
	e.playing = false
	e.cancelCountIn()
	e.out.Stop()
	e.lastStop = now
	e.emitType(EventState)
}

// restart re-enters playback at ms if playing; otherwise it only moves
// the stored position.
func (e *Engine) restart(ms float64) error {
	if e.playing {
		return e.playFrom(ms, true)
	}
	e.position = ms
	e.emitType(EventState)
	return nil
}

func (e *Engine) clampToDuration(ms float64) float64 {
	return math.Max(0, math.Min(ms, e.bank.DurationMs()))
}

// ======================================================
// Public transport surface
// ======================================================

// PlayFrom starts playback at ms, honouring the count-in setting.
func (e *Engine) PlayFrom(ms float64) error {
	e.lock()
	defer e.unlock()
	return e.playFrom(e.clampToDuration(ms), false)
}

// Toggle stops when playing or counting, otherwise plays from the current
// position.
func (e *Engine) Toggle() error {
	e.lock()
	defer e.unlock()

	if e.bank.DurationMs() <= 0 {
		return ErrNoReference
	}
	if e.playing || e.counting {
		e.stopLogic()
		return nil
	}
	return e.playFrom(e.position, false)
}

func (e *Engine) Stop() {
	e.lock()
	defer e.unlock()
	e.stopLogic()
}

// Seek moves by delta ms, clamped to [0, duration].
func (e *Engine) Seek(delta float64) error {
	e.lock()
	defer e.unlock()
	return e.restart(e.clampToDuration(e.current() + delta))
}

// SeekTo moves to an absolute position.
func (e *Engine) SeekTo(ms float64) error {
	e.lock()
	defer e.unlock()
	return e.restart(e.clampToDuration(ms))
}

// SeekFraction moves to f * duration, f in [0,1].
func (e *Engine) SeekFraction(f float64) error {
	e.lock()
	defer e.unlock()
	f = math.Max(0, math.Min(1, f))
	return e.restart(e.clampToDuration(f * e.bank.DurationMs()))
}

// ChangeSpeed adds delta, rounds to one decimal and clamps to the speed
// range. Playback restarts at the pre-change position.
func (e *Engine) ChangeSpeed(delta float64) error {
	e.lock()
	defer e.unlock()

	pos := e.current()
	s := math.Round((e.speed+delta)*10) / 10
	e.speed = math.Max(spec.SpeedMin, math.Min(spec.SpeedMax, s))
	return e.restart(e.clampToDuration(pos))
}

// JumpToMarker moves to marker idx. Out-of-range indices are ignored.
func (e *Engine) JumpToMarker(idx int) error {
	e.lock()
	defer e.unlock()

	m, ok := e.markers.At(idx)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoMarker, idx)
	}
	return e.restart(m.Ms)
}

// JumpToLyric moves to lyric line k.
func (e *Engine) JumpToLyric(k int) error {
	e.lock()
	defer e.unlock()

	ev, ok := e.lyrics.At(k)
	if !ok {
		return fmt.Errorf("lyric line %d out of range", k)
	}
	return e.restart(e.clampToDuration(ev.Ms))
}

func (e *Engine) SetRepeat(on bool) {
	e.lock()
	defer e.unlock()
	e.repeat = on
	e.emitType(EventState)
}

func (e *Engine) SetCountIn(on bool) {
	e.lock()
	defer e.unlock()
	e.countIn = on
	e.emitType(EventState)
}
