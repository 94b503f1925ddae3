package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"stemquina/internal/codec"
	"stemquina/internal/library"
	"stemquina/internal/lyrics"
	"stemquina/pkg/audioengine"
	"stemquina/pkg/spec"
)

// Verbs is the full command set, for help and client completion.
var Verbs = []string{
	// read-only
	"ABOUT", "PING", "WHOAMI", "HELP", "STATUS", "LEVELS", "SPECTRUM", "WAVE",
	"SONGS", "MARKERS", "LYRICS", "STEMS",
	// control
	"RELEASE", "TOGGLE", "STOP", "PLAY-FROM", "SEEK", "SEEK-TO", "SEEK-FRAC",
	"SPEED", "JUMP", "LYRIC", "LOOP-A", "LOOP-B", "LOOP-FRAC", "LOOP-CLEAR",
	"NUDGE", "HOLD", "HOLD-STOP", "MARKER-ADD", "MARKER-DEL", "MARKER-RENAME",
	"VOL", "MUTE", "SOLO", "MASTER", "NAME", "REPEAT", "COUNT-IN",
	"LOAD", "LOAD-SAVE", "LOAD-DISCARD", "STEM",
	"LYRICS-EDIT", "LYRICS-DRAFT", "LYRICS-STAMP", "LYRICS-SAVE", "LYRICS-DISCARD",
}

const (
	replyOK     = "OK"
	errArg      = "ERR ARG"
	errUnknown  = "ERR UNKNOWN"
	errLocked   = "ERR CONTROL_LOCKED"
	errEditing  = "ERR NOT_EDITING"
	errInternal = "ERR INTERNAL"
)

// errReply maps an engine or library error to its protocol line.
func errReply(err error) string {
	switch {
	case err == nil:
		return replyOK
	case errors.Is(err, audioengine.ErrNoSong), errors.Is(err, library.ErrNoSong):
		return "ERR NO_SONG"
	case errors.Is(err, audioengine.ErrUnsavedLyrics):
		return "ERR UNSAVED_LYRICS"
	case errors.Is(err, audioengine.ErrNoReference):
		return "ERR NO_REFERENCE"
	case errors.Is(err, audioengine.ErrNoChannels):
		return "ERR NO_CHANNELS"
	case errors.Is(err, audioengine.ErrBadTrack):
		return "ERR BAD_TRACK"
	case errors.Is(err, audioengine.ErrNoMarker):
		return "ERR NO_MARKER"
	}
	log.Printf("[Error] %v", err)
	return errInternal
}

func jsonReply(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return errInternal
	}
	return string(b)
}

func argInt(parts []string, idx int) (int, bool) {
	if len(parts) <= idx {
		return 0, false
	}
	v, err := strconv.Atoi(parts[idx])
	if err != nil {
		return 0, false
	}
	return v, true
}

func argFloat(parts []string, idx int) (float64, bool) {
	if len(parts) <= idx {
		return 0, false
	}
	v, err := strconv.ParseFloat(parts[idx], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// argSwitch reads on/off; a missing argument yields (false, false).
func argSwitch(parts []string, idx int) (bool, bool) {
	if len(parts) <= idx {
		return false, false
	}
	switch strings.ToUpper(parts[idx]) {
	case "ON", "1", "TRUE":
		return true, true
	case "OFF", "0", "FALSE":
		return false, true
	}
	return false, false
}

// argStep reads a nudge delta: "+" / "-" for one step, or a signed ms value.
func argStep(parts []string, idx int) (float64, bool) {
	if len(parts) <= idx {
		return 0, false
	}
	switch parts[idx] {
	case "+":
		return spec.NudgeStepMs, true
	case "-":
		return -spec.NudgeStepMs, true
	}
	return argFloat(parts, idx)
}

// argText decodes a JSON string argument, so text may carry newlines.
func argText(raw string) (string, bool) {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", false
	}
	return s, true
}

func holdTarget(s string) (audioengine.HoldTarget, bool) {
	switch strings.ToUpper(s) {
	case "LOOP":
		return audioengine.HoldLoop, true
	case "A":
		return audioengine.HoldLoopA, true
	case "B":
		return audioengine.HoldLoopB, true
	case "MARKER":
		return audioengine.HoldMarker, true
	}
	return 0, false
}

// Exec runs one protocol line for c and returns the reply.
func (s *Server) Exec(c *client, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	raw := ""
	if len(parts) == 2 {
		raw = strings.TrimSpace(parts[1])
	}
	args := strings.Fields(raw)

	if reply, ok := s.execRead(c, cmd, args); ok {
		return reply
	}

	if !claimable(cmd) {
		return errUnknown
	}
	if !s.claimOwner(c) {
		return errLocked
	}
	return s.execControl(c, cmd, raw, args)
}

func claimable(cmd string) bool {
	for _, v := range Verbs {
		if v == cmd {
			return true
		}
	}
	return false
}

// ======================================================
// Read-only commands (no owner needed)
// ======================================================

func (s *Server) execRead(c *client, cmd string, args []string) (string, bool) {
	eng := s.Engine
	switch cmd {
	case "ABOUT":
		return fmt.Sprintf("%s V.%d.%d", spec.AppName, spec.VersionMajor, spec.VersionMinor), true

	case "PING":
		return "Pong", true

	case "WHOAMI":
		if s.isOwner(c) {
			return "OWNER " + c.id, true
		}
		return "OBSERVER " + c.id, true

	case "HELP":
		return strings.Join(Verbs, " "), true

	case "STATUS":
		return jsonReply(eng.Status()), true

	case "LEVELS":
		return jsonReply(eng.Levels()), true

	case "SPECTRUM":
		samples, err := eng.Samples(spec.Reference, codec.SpectrumWindow)
		if err != nil {
			return errReply(err), true
		}
		bands := codec.Spectrum(samples, codec.SpectrumBands)
		s.pmu.Lock()
		s.peaks.Decay()
		s.peaks.Merge(bands)
		peaks := append([]float64(nil), s.peaks.Values...)
		s.pmu.Unlock()
		return jsonReply(map[string][]float64{"bands": bands, "peaks": peaks}), true

	case "WAVE":
		i, ok := argInt(args, 0)
		if !ok {
			return errArg, true
		}
		w, err := eng.Waveform(i)
		if err != nil {
			return errReply(err), true
		}
		return jsonReply(w), true

	case "SONGS":
		songs, err := s.Library.Songs()
		if err != nil {
			return errReply(err), true
		}
		if songs == nil {
			songs = []string{}
		}
		return jsonReply(songs), true

	case "MARKERS":
		return jsonReply(eng.Markers()), true

	case "LYRICS":
		return jsonReply(eng.Lyrics()), true

	case "STEMS":
		return jsonReply(eng.Stems()), true
	}
	return "", false
}

// ======================================================
// Control commands (owner only)
// ======================================================

func (s *Server) execControl(c *client, cmd, raw string, args []string) string {
	eng := s.Engine
	switch cmd {

	case "RELEASE":
		s.releaseOwner(c)
		return replyOK

	// ---------------- transport ----------------

	case "TOGGLE":
		return errReply(eng.Toggle())

	case "STOP":
		eng.Stop()
		return replyOK

	case "PLAY-FROM":
		ms, ok := argFloat(args, 0)
		if !ok {
			return errArg
		}
		return errReply(eng.PlayFrom(ms))

	case "SEEK":
		d, ok := argFloat(args, 0)
		if !ok {
			return errArg
		}
		return errReply(eng.Seek(d))

	case "SEEK-TO":
		ms, ok := argFloat(args, 0)
		if !ok {
			return errArg
		}
		return errReply(eng.SeekTo(ms))

	case "SEEK-FRAC":
		f, ok := argFloat(args, 0)
		if !ok || f < 0 || f > 1 {
			return errArg
		}
		return errReply(eng.SeekFraction(f))

	case "SPEED":
		if len(args) != 1 {
			return errArg
		}
		var d float64
		switch strings.ToUpper(args[0]) {
		case "UP", "+":
			d = spec.SpeedStep
		case "DOWN", "-":
			d = -spec.SpeedStep
		default:
			v, ok := argFloat(args, 0)
			if !ok {
				return errArg
			}
			d = v
		}
		return errReply(eng.ChangeSpeed(d))

	case "JUMP":
		// Number keys: 1..9 map to markers 0..8.
		n, ok := argInt(args, 0)
		if !ok || n < 1 || n > spec.MarkerKeysMax {
			return errArg
		}
		return errReply(eng.JumpToMarker(n - 1))

	case "LYRIC":
		k, ok := argInt(args, 0)
		if !ok || k < 0 || k >= len(eng.Lyrics()) {
			return errArg
		}
		return errReply(eng.JumpToLyric(k))

	case "REPEAT":
		on, ok := argSwitch(args, 0)
		if !ok {
			return errArg
		}
		eng.SetRepeat(on)
		return replyOK

	case "COUNT-IN":
		on, ok := argSwitch(args, 0)
		if !ok {
			return errArg
		}
		eng.SetCountIn(on)
		return replyOK

	// ---------------- loop ----------------

	case "LOOP-A", "LOOP-B":
		ms := eng.Position()
		if len(args) > 0 {
			v, ok := argFloat(args, 0)
			if !ok {
				return errArg
			}
			ms = v
		}
		if cmd == "LOOP-A" {
			eng.SetLoopA(ms)
		} else {
			eng.SetLoopB(ms)
		}
		return replyOK

	case "LOOP-FRAC":
		f, ok := argFloat(args, 1)
		if !ok || f < 0 || f > 1 {
			return errArg
		}
		switch strings.ToUpper(args[0]) {
		case "A":
			return errReply(eng.SetLoopFraction('A', f))
		case "B":
			return errReply(eng.SetLoopFraction('B', f))
		}
		return errArg

	case "LOOP-CLEAR":
		if len(args) == 0 {
			eng.ClearLoop()
			return replyOK
		}
		switch strings.ToUpper(args[0]) {
		case "A":
			eng.ClearLoopA()
		case "B":
			eng.ClearLoopB()
		default:
			return errArg
		}
		return replyOK

	// ---------------- nudges ----------------

	case "NUDGE", "HOLD":
		if len(args) < 2 {
			return errArg
		}
		target, ok := holdTarget(args[0])
		if !ok {
			return errArg
		}
		delta, ok := argStep(args, 1)
		if !ok {
			return errArg
		}
		marker := 0
		if target == audioengine.HoldMarker {
			if marker, ok = argInt(args, 2); !ok {
				return errArg
			}
		}
		if cmd == "HOLD" {
			return errReply(eng.StartHold(target, marker, delta))
		}
		_, err := eng.Nudge(target, marker, delta)
		return errReply(err)

	case "HOLD-STOP":
		eng.StopHold()
		return replyOK

	// ---------------- markers ----------------

	case "MARKER-ADD":
		m, ok := eng.AddMarker()
		if !ok {
			return "ERR NO_MARKER"
		}
		return jsonReply(m)

	case "MARKER-DEL":
		ms, ok := argFloat(args, 0)
		if !ok {
			return errArg
		}
		if !eng.DeleteMarker(ms) {
			return "ERR NO_MARKER"
		}
		return replyOK

	case "MARKER-RENAME":
		ms, ok := argFloat(args, 0)
		if !ok || len(args) < 2 {
			return errArg
		}
		label := strings.TrimSpace(strings.TrimPrefix(raw, args[0]))
		if !eng.RenameMarker(ms, label) {
			return "ERR NO_MARKER"
		}
		return replyOK

	// ---------------- mix ----------------

	case "VOL":
		i, ok1 := argInt(args, 0)
		v, ok2 := argFloat(args, 1)
		if !ok1 || !ok2 {
			return errArg
		}
		return errReply(eng.SetVolume(i, v))

	case "MUTE":
		i, ok := argInt(args, 0)
		if !ok {
			return errArg
		}
		if len(args) == 1 {
			return errReply(eng.ToggleMute(i))
		}
		on, ok := argSwitch(args, 1)
		if !ok {
			return errArg
		}
		return errReply(eng.SetMute(i, on))

	case "SOLO":
		i, ok := argInt(args, 0)
		if !ok {
			return errArg
		}
		return errReply(eng.Solo(i))

	case "MASTER":
		v, ok := argFloat(args, 0)
		if !ok {
			return errArg
		}
		eng.SetMasterVolume(v)
		return replyOK

	case "NAME":
		i, ok := argInt(args, 0)
		if !ok {
			return errArg
		}
		name := strings.TrimSpace(strings.TrimPrefix(raw, args[0]))
		return errReply(eng.SetTrackName(i, name))

	// ---------------- songs and stems ----------------

	case "LOAD", "LOAD-SAVE", "LOAD-DISCARD":
		return s.load(cmd, raw)

	case "STEM":
		i, ok := argInt(args, 0)
		if !ok || len(args) < 2 {
			return errArg
		}
		file := strings.TrimSpace(strings.TrimPrefix(raw, args[0]))
		return s.stem(i, file)

	// ---------------- lyric editing ----------------

	case "LYRICS-EDIT":
		if err := eng.BeginLyricsEdit(); err != nil {
			return errReply(err)
		}
		text, err := s.Library.ReadLyrics(eng.Song())
		if err != nil {
			return errReply(err)
		}
		s.setDraft(text)
		return jsonReply(text)

	case "LYRICS-DRAFT":
		if !eng.Editing() {
			return errEditing
		}
		text, ok := argText(raw)
		if !ok {
			return errArg
		}
		s.setDraft(text)
		return replyOK

	case "LYRICS-STAMP":
		n, ok := argInt(args, 0)
		if !ok {
			return errArg
		}
		if !eng.Editing() {
			return errEditing
		}
		text, err := lyrics.StampLine(s.getDraft(), n, eng.Position())
		if err != nil {
			return errArg
		}
		s.setDraft(text)
		return jsonReply(text)

	case "LYRICS-SAVE":
		text := s.getDraft()
		if raw != "" {
			t, ok := argText(raw)
			if !ok {
				return errArg
			}
			text = t
		}
		return errReply(s.saveLyrics(text))

	case "LYRICS-DISCARD":
		eng.DiscardLyricsEdit()
		s.setDraft("")
		return replyOK
	}
	return errUnknown
}

func (s *Server) setDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Server) getDraft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// saveLyrics writes text for the loaded song and installs the re-parsed
// lines.
func (s *Server) saveLyrics(text string) error {
	song := s.Engine.Song()
	if song == "" {
		return audioengine.ErrNoSong
	}
	lines, err := s.Library.SaveLyrics(song, text)
	if err != nil {
		return err
	}
	s.Engine.SetLyrics(lines)
	s.setDraft("")
	return nil
}

// load checks the replace gate, then decodes in the background. The song
// swaps in on a later tick.
func (s *Server) load(cmd, name string) string {
	if name == "" {
		return errArg
	}
	if _, err := s.Library.Reference(name); err != nil {
		return errReply(err)
	}
	if !s.Engine.CanReplace() {
		switch cmd {
		case "LOAD":
			return errReply(audioengine.ErrUnsavedLyrics)
		case "LOAD-SAVE":
			if err := s.saveLyrics(s.getDraft()); err != nil {
				return errReply(err)
			}
		case "LOAD-DISCARD":
			s.Engine.DiscardLyricsEdit()
			s.setDraft("")
		}
	}

	s.async(func() {
		song, err := s.Library.Load(s.ctx, name)
		if err != nil {
			log.Printf("[Error] load %s: %v", name, err)
			return
		}
		s.Engine.DeliverSong(song)
	})
	return replyOK
}

// stem remaps slot i. NONE empties it now; a file reloads in the
// background and is swapped in on a later tick.
func (s *Server) stem(i int, file string) string {
	if i <= spec.Reference || i >= spec.NumTracks {
		return errReply(audioengine.ErrBadTrack)
	}
	song := s.Engine.Song()
	if song == "" {
		return errReply(audioengine.ErrNoSong)
	}
	if strings.EqualFold(file, spec.None) {
		return errReply(s.Engine.ClearStem(i))
	}

	s.async(func() {
		pcm, wave, err := s.Library.LoadStem(song, file)
		if err != nil {
			log.Printf("[Error] stem %s/%s: %v", song, file, err)
			return
		}
		s.Engine.DeliverStem(song, i, file, pcm, wave)
	})
	return replyOK
}
