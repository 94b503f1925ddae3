package audioengine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"stemquina/pkg/spec"
	"stemquina/pkg/syncindex"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeOutput struct {
	mu     sync.Mutex
	plays  [][]Voice
	stops  int
	clicks int
	gains  map[int]float64
	fail   bool
}

func (o *fakeOutput) Play(voices []Voice) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return 0, ErrNoChannels
	}
	cp := append([]Voice(nil), voices...)
	o.plays = append(o.plays, cp)
	return len(cp), nil
}

func (o *fakeOutput) Stop() {
	o.mu.Lock()
	o.stops++
	o.mu.Unlock()
}

func (o *fakeOutput) SetGain(track int, gain float64) {
	o.mu.Lock()
	if o.gains == nil {
		o.gains = map[int]float64{}
	}
	o.gains[track] = gain
	o.mu.Unlock()
}

func (o *fakeOutput) Click() {
	o.mu.Lock()
	o.clicks++
	o.mu.Unlock()
}

func (o *fakeOutput) lastPlay() []Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.plays) == 0 {
		return nil
	}
	return o.plays[len(o.plays)-1]
}

type recordingPersister struct {
	states []SessionState
}

func (p *recordingPersister) Persist(s SessionState) { p.states = append(p.states, s) }

// testPCM is one frame per millisecond to keep long songs small.
func testPCM(ms int) *PCM {
	return &PCM{Frames: make([][2]float64, ms), Rate: 1000}
}

func testSong(durationMs int) *Song {
	s := &Song{Name: "demo"}
	for i := range s.Tracks {
		s.Tracks[i] = SongTrack{
			PCM:     testPCM(durationMs),
			Volume:  spec.DefaultVolume,
			Name:    spec.StemRoles[max(0, i-1)],
			Mapping: "file.mp3",
		}
	}
	return s
}

type harness struct {
	e       *Engine
	clock   *fakeClock
	out     *fakeOutput
	persist *recordingPersister
	pending []func()
	waits   []time.Duration
	events  []Event
}

func newHarness(t *testing.T, countIn bool) *harness {
	t.Helper()
	h := &harness{
		clock:   &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		out:     &fakeOutput{},
		persist: &recordingPersister{},
	}
	opts := DefaultOptions()
	opts.Clock = h.clock
	opts.Output = h.out
	opts.Persister = h.persist
	opts.Async = func(f func()) { h.pending = append(h.pending, f) }
	opts.Wait = func(_ context.Context, d time.Duration) bool {
		h.waits = append(h.waits, d)
		return true
	}
	h.e = New(opts)
	h.e.Subscribe(func(ev Event) { h.events = append(h.events, ev) })
	h.load(testSong(180000))
	h.e.SetCountIn(countIn)
	return h
}

func (h *harness) load(s *Song) {
	h.e.DeliverSong(s)
	h.e.Tick()
}

func (h *harness) runPending() {
	p := h.pending
	h.pending = nil
	for _, f := range p {
		f()
	}
}

func (h *harness) count(t EventType) int {
	n := 0
	for _, ev := range h.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestJumpToMarker(t *testing.T) {
	h := newHarness(t, false)
	s := testSong(180000)
	s.Markers = []syncindex.Marker{{Ms: 10000, Label: "a"}, {Ms: 50000, Label: "b"}}
	h.load(s)

	if err := h.e.JumpToMarker(1); err != nil {
		t.Fatalf("JumpToMarker: %v", err)
	}
	if got := h.e.Position(); got != 50000 {
		t.Errorf("Position = %v, want 50000", got)
	}
	if h.e.Playing() {
		t.Error("jump while stopped started playback")
	}

	if err := h.e.JumpToMarker(7); !errors.Is(err, ErrNoMarker) {
		t.Errorf("JumpToMarker(7) err = %v, want ErrNoMarker", err)
	}
	if got := h.e.Position(); got != 50000 {
		t.Errorf("Position after bad jump = %v, want 50000", got)
	}

	h.e.Toggle()
	h.e.JumpToMarker(0)
	if v := h.out.lastPlay(); len(v) == 0 || v[0].Start != 10000 {
		t.Errorf("restart voices = %+v, want start frame 10000", v)
	}
}

func TestLoopReentry(t *testing.T) {
	h := newHarness(t, false)
	h.e.SetLoopA(20000)
	h.e.SetLoopB(40000)
	h.e.SeekTo(39000)
	if err := h.e.Toggle(); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	h.clock.Advance(1150 * time.Millisecond)
	h.e.Tick()

	if got := h.e.Position(); got != 20000 {
		t.Errorf("Position = %v, want 20000", got)
	}
	if !h.e.Playing() {
		t.Error("loop re-entry stopped playback")
	}
	if v := h.out.lastPlay(); len(v) != spec.NumTracks || v[0].Start != 20000 {
		t.Errorf("loop voices = %+v", v)
	}
}

func TestLoopDoesNotTriggerPastWindow(t *testing.T) {
	h := newHarness(t, false)
	h.e.SetLoopA(20000)
	h.e.SetLoopB(40000)
	h.e.SeekTo(40300)
	h.e.Toggle()

	h.clock.Advance(20 * time.Millisecond)
	h.e.Tick()
	if got := h.e.Position(); got < 40300 {
		t.Errorf("Position = %v, loop fired outside its window", got)
	}
}

func TestCountIn(t *testing.T) {
	h := newHarness(t, true)

	if err := h.e.PlayFrom(0); err != nil {
		t.Fatalf("PlayFrom: %v", err)
	}
	if !h.e.Counting() || h.e.Playing() {
		t.Fatalf("counting=%v playing=%v, want counting only", h.e.Counting(), h.e.Playing())
	}
	if len(h.out.plays) != 0 {
		t.Fatal("audio started before the count-in")
	}

	h.runPending()
	if h.out.clicks != spec.CountInBeats {
		t.Errorf("clicks = %d, want %d", h.out.clicks, spec.CountInBeats)
	}
	for i, d := range h.waits {
		if d != spec.CountInSpacing {
			t.Errorf("wait %d = %v, want %v", i, d, spec.CountInSpacing)
		}
	}
	var counts []int
	for _, ev := range h.events {
		if ev.Type == EventCount {
			counts = append(counts, ev.Count)
		}
	}
	if len(counts) != 4 || counts[0] != 4 || counts[3] != 1 {
		t.Errorf("count events = %v, want [4 3 2 1]", counts)
	}

	h.e.Tick()
	if !h.e.Playing() || h.e.Counting() {
		t.Errorf("after count-in playing=%v counting=%v", h.e.Playing(), h.e.Counting())
	}
	if v := h.out.lastPlay(); len(v) == 0 || v[0].Start != 0 {
		t.Errorf("voices = %+v, want start 0", v)
	}
}

func TestCountInCancelledByStop(t *testing.T) {
	h := newHarness(t, true)
	h.e.PlayFrom(0)
	h.e.Stop()

	h.runPending()
	h.e.Tick()

	if h.out.clicks != 0 {
		t.Errorf("clicks = %d, want 0", h.out.clicks)
	}
	if h.e.Playing() || h.e.Counting() {
		t.Error("cancelled count-in still started")
	}
}

func TestCountInCancelledMidSequence(t *testing.T) {
	h := newHarness(t, true)
	waits := 0
	h.e.wait = func(context.Context, time.Duration) bool {
		waits++
		if waits == 2 {
			h.e.Toggle()
		}
		return true
	}
	h.e.PlayFrom(0)
	h.runPending()
	h.e.Tick()

	if h.out.clicks != 2 {
		t.Errorf("clicks = %d, want 2", h.out.clicks)
	}
	if h.e.Playing() {
		t.Error("playback began after cancel")
	}
}

func TestDoubleStopRewinds(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(37000)
	h.e.Stop()
	if got := h.e.Position(); got != 37000 {
		t.Errorf("single stop Position = %v, want 37000", got)
	}

	h.clock.Advance(300 * time.Millisecond)
	h.e.Stop()
	if got := h.e.Position(); got != 0 {
		t.Errorf("double stop Position = %v, want 0", got)
	}
}

func TestSlowSecondStopKeepsPosition(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(37000)
	h.e.Stop()
	h.clock.Advance(time.Second)
	h.e.Stop()
	if got := h.e.Position(); got != 37000 {
		t.Errorf("Position = %v, want 37000", got)
	}
}

func TestMissingStemIsSkipped(t *testing.T) {
	h := newHarness(t, false)
	if err := h.e.ClearStem(2); err != nil {
		t.Fatalf("ClearStem: %v", err)
	}
	if err := h.e.PlayFrom(5000); err != nil {
		t.Fatalf("PlayFrom: %v", err)
	}

	v := h.out.lastPlay()
	var tracks []int
	for _, voice := range v {
		tracks = append(tracks, voice.Track)
		if voice.Start != 5000 {
			t.Errorf("track %d start = %d, want 5000", voice.Track, voice.Start)
		}
	}
	want := []int{0, 1, 3, 4}
	if len(tracks) != len(want) {
		t.Fatalf("tracks = %v, want %v", tracks, want)
	}
	for i := range want {
		if tracks[i] != want[i] {
			t.Errorf("tracks = %v, want %v", tracks, want)
		}
	}
}

func TestClearReferenceRefused(t *testing.T) {
	h := newHarness(t, false)
	if err := h.e.ClearStem(0); !errors.Is(err, ErrBadTrack) {
		t.Errorf("ClearStem(0) err = %v, want ErrBadTrack", err)
	}
}

func TestNoChannelsLeavesStopped(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(37000)
	h.out.fail = true

	err := h.e.PlayFrom(5000)
	if !errors.Is(err, ErrNoChannels) {
		t.Errorf("err = %v, want ErrNoChannels", err)
	}
	if h.e.Playing() {
		t.Error("playing with no channels")
	}
	if got := h.e.Position(); got != 37000 {
		t.Errorf("Position = %v, want 37000", got)
	}
}

func TestPlayPastEndWithoutRepeatKeepsPosition(t *testing.T) {
	h := newHarness(t, false)
	h.e.SetRepeat(false)
	h.e.SeekTo(37000)

	if err := h.e.PlayFrom(180000); err != nil {
		t.Fatalf("PlayFrom: %v", err)
	}
	if h.e.Playing() {
		t.Error("started past the end")
	}
	if got := h.e.Position(); got != 37000 {
		t.Errorf("Position = %v, want 37000", got)
	}
	if len(h.out.plays) != 0 {
		t.Errorf("plays = %d, want 0", len(h.out.plays))
	}
}

func TestToggleWithoutReference(t *testing.T) {
	e := New(Options{Clock: &fakeClock{}, Output: &fakeOutput{}})
	if err := e.Toggle(); !errors.Is(err, ErrNoReference) {
		t.Errorf("Toggle err = %v, want ErrNoReference", err)
	}
}

func TestMonotonicPosition(t *testing.T) {
	h := newHarness(t, false)
	h.e.ChangeSpeed(0.5)
	h.e.Toggle()

	prev := h.e.Position()
	for i := 0; i < 100; i++ {
		h.clock.Advance(20 * time.Millisecond)
		h.e.Tick()
		pos := h.e.Position()
		if math.Abs(pos-prev-30) > 1e-3 {
			t.Fatalf("tick %d advanced %v, want 30", i, pos-prev)
		}
		prev = pos
	}
}

func TestSeekIdempotentWhenStopped(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(1000)
	h.e.Seek(5000)
	h.e.Seek(-5000)
	if got := h.e.Position(); got != 1000 {
		t.Errorf("Position = %v, want 1000", got)
	}

	h.e.Seek(-5000)
	if got := h.e.Position(); got != 0 {
		t.Errorf("Position = %v, want clamp to 0", got)
	}
	h.e.Seek(1e9)
	if got := h.e.Position(); got != 180000 {
		t.Errorf("Position = %v, want clamp to duration", got)
	}
}

func TestSpeedClamp(t *testing.T) {
	h := newHarness(t, false)
	for i := 0; i < 9; i++ {
		h.e.ChangeSpeed(spec.SpeedStep)
	}
	if got := h.e.Speed(); got != 1.9 {
		t.Errorf("Speed = %v, want 1.9", got)
	}
	for i := 0; i < 5; i++ {
		h.e.ChangeSpeed(spec.SpeedStep)
		if got := h.e.Speed(); got > spec.SpeedMax {
			t.Fatalf("Speed = %v exceeds max", got)
		}
	}
	for i := 0; i < 30; i++ {
		h.e.ChangeSpeed(-spec.SpeedStep)
	}
	if got := h.e.Speed(); got != spec.SpeedMin {
		t.Errorf("Speed = %v, want %v", got, spec.SpeedMin)
	}
}

func TestSpeedChangeKeepsPosition(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(10000)
	h.e.Toggle()
	h.clock.Advance(time.Second)
	h.e.ChangeSpeed(0.5)

	if got := h.e.Position(); math.Abs(got-11000) > 1e-3 {
		t.Errorf("Position = %v, want 11000", got)
	}
	v := h.out.lastPlay()
	if len(v) == 0 || v[0].Speed != 1.5 || v[0].Start != 11000 {
		t.Errorf("voices = %+v", v)
	}
}

func TestEndOfSong(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(179990)
	h.e.Toggle()
	h.clock.Advance(20 * time.Millisecond)
	h.e.Tick()
	if !h.e.Playing() || h.e.Position() != 0 {
		t.Errorf("repeat: playing=%v pos=%v, want restart at 0", h.e.Playing(), h.e.Position())
	}

	h.e.SetRepeat(false)
	h.e.SeekTo(179990)
	h.clock.Advance(20 * time.Millisecond)
	h.e.Tick()
	if h.e.Playing() || h.e.Position() != 0 {
		t.Errorf("no repeat: playing=%v pos=%v, want stopped at 0", h.e.Playing(), h.e.Position())
	}
}

func TestLyricEventsOnlyOnChange(t *testing.T) {
	h := newHarness(t, false)
	s := testSong(180000)
	s.Lyrics = []syncindex.Event{{Ms: 1000, Text: "one"}, {Ms: 5000, Text: "two"}}
	h.load(s)
	h.events = nil

	h.e.Toggle()
	for i := 0; i < 300; i++ {
		h.clock.Advance(20 * time.Millisecond)
		h.e.Tick()
	}
	// 6s of playback crosses two lines
	if n := h.count(EventLyric); n != 2 {
		t.Errorf("LYRIC events = %d, want 2", n)
	}
	var last *syncindex.Window
	for _, ev := range h.events {
		if ev.Type == EventLyric {
			last = ev.Window
		}
	}
	if last == nil || last.Current != "two" || last.Previous != "one" {
		t.Errorf("last window = %+v", last)
	}
}

func TestLoadResetsTransport(t *testing.T) {
	h := newHarness(t, true)
	h.e.ChangeSpeed(0.5)
	h.e.SetLoopA(1000)
	h.e.Solo(1)

	a := 3000.0
	s := testSong(60000)
	s.LoopA = &a
	h.load(s)

	st := h.e.Status()
	if st.Speed != 1 || st.Playing || st.Counting || st.CountIn {
		t.Errorf("status after load = %+v", st)
	}
	if st.LoopA == nil || *st.LoopA != 3000 || st.LoopB != nil {
		t.Errorf("loop = %v,%v", st.LoopA, st.LoopB)
	}
	if st.Solo != -1 || st.Duration != 60000 {
		t.Errorf("solo=%d duration=%v", st.Solo, st.Duration)
	}
}

func TestMixPersistsAndAppliesGain(t *testing.T) {
	h := newHarness(t, false)
	h.e.Toggle()
	h.persist.states = nil

	if err := h.e.SetVolume(3, 0.5); err != nil {
		t.Fatal(err)
	}
	want := 0.5 * spec.MasterVolume
	if got := h.out.gains[3]; math.Abs(got-want) > 1e-9 {
		t.Errorf("gain[3] = %v, want %v", got, want)
	}
	if len(h.persist.states) != 1 || h.persist.states[0].Volumes[3] != 0.5 {
		t.Errorf("persisted = %+v", h.persist.states)
	}

	h.e.ToggleMute(3)
	if got := h.out.gains[3]; got != 0 {
		t.Errorf("muted gain = %v, want 0", got)
	}
	if err := h.e.SetVolume(9, 1); !errors.Is(err, ErrBadTrack) {
		t.Errorf("SetVolume(9) err = %v", err)
	}
}

func TestAddMarkerAtPosition(t *testing.T) {
	h := newHarness(t, false)
	h.e.SeekTo(12345.6)
	m, ok := h.e.AddMarker()
	if !ok || m.Ms != 12346 || m.Label != "Part 1" {
		t.Errorf("AddMarker = %+v,%v", m, ok)
	}
	if _, ok := h.e.AddMarker(); ok {
		t.Error("duplicate marker accepted")
	}
	if h.count(EventMarkers) != 1 {
		t.Errorf("MARKERS events = %d, want 1", h.count(EventMarkers))
	}
}

func TestNudgeLoopAndMarker(t *testing.T) {
	h := newHarness(t, false)
	if ok, _ := h.e.Nudge(HoldLoop, 0, spec.NudgeStepMs); ok {
		t.Error("nudge of unset loop reported a change")
	}
	h.e.SetLoopA(10)
	h.e.SetLoopB(179990)
	h.e.Nudge(HoldLoop, 0, -spec.NudgeStepMs)
	h.e.Nudge(HoldLoop, 0, 2*spec.NudgeStepMs)
	a, b := h.e.Loop()
	// A floors at 0 on the way down, B caps at duration on the way up
	if *a != 40 || *b != 180000 {
		t.Errorf("loop = %v,%v, want 40,180000", *a, *b)
	}

	h.e.SeekTo(1000)
	h.e.AddMarker()
	h.e.SeekTo(2000)
	h.e.AddMarker()
	h.e.Nudge(HoldMarker, 0, 1500)
	ms := h.e.Markers()
	if ms[0].Ms != 2000 || ms[1].Ms != 2500 {
		t.Errorf("markers = %+v", ms)
	}
}

func TestHoldStepsOnceBeforeDelay(t *testing.T) {
	h := newHarness(t, false)
	h.e.SetLoopA(1000)
	h.e.SetLoopB(2000)
	if err := h.e.StartHold(HoldLoopB, 0, spec.NudgeStepMs); err != nil {
		t.Fatal(err)
	}
	h.e.StopHold()
	h.e.Tick()

	_, b := h.e.Loop()
	if *b != 2020 {
		t.Errorf("B = %v, want 2020", *b)
	}
}

func TestLyricsEditGate(t *testing.T) {
	h := newHarness(t, false)
	if !h.e.CanReplace() {
		t.Fatal("fresh engine not replaceable")
	}
	h.e.BeginLyricsEdit()
	if h.e.CanReplace() {
		t.Error("CanReplace during edit")
	}
	h.e.SetLyrics([]syncindex.Event{{Ms: 0, Text: "x"}})
	if !h.e.CanReplace() {
		t.Error("gate still closed after commit")
	}
}

func TestLoadHeldWhileEditing(t *testing.T) {
	h := newHarness(t, false)
	next := testSong(60000)
	next.Name = "next"

	h.e.DeliverSong(next)
	if err := h.e.BeginLyricsEdit(); err != nil {
		t.Fatal(err)
	}
	h.e.Tick()

	if !h.e.Editing() {
		t.Fatal("edit dropped by a queued load")
	}
	st := h.e.Status()
	if st.Song != "demo" || st.Pending != "next" {
		t.Errorf("song = %q pending = %q, want demo/next", st.Song, st.Pending)
	}
	if n := h.count(EventBlocked); n != 1 {
		t.Errorf("LOAD_BLOCKED events = %d, want 1", n)
	}

	h.e.DiscardLyricsEdit()
	st = h.e.Status()
	if st.Song != "next" || st.Pending != "" || st.Duration != 60000 {
		t.Errorf("after discard song=%q pending=%q duration=%v", st.Song, st.Pending, st.Duration)
	}
}

func TestLoadHeldUntilLyricsSaved(t *testing.T) {
	h := newHarness(t, false)
	next := testSong(60000)
	next.Name = "next"

	h.e.BeginLyricsEdit()
	h.e.DeliverSong(next)
	h.e.Tick()
	if got := h.e.Song(); got != "demo" {
		t.Fatalf("Song = %q, want demo while editing", got)
	}

	h.e.SetLyrics([]syncindex.Event{{Ms: 0, Text: "x"}})
	if got := h.e.Song(); got != "next" {
		t.Errorf("Song = %q, want next after save", got)
	}
	if h.e.Editing() {
		t.Error("still editing after save")
	}
}

func TestStaleStemDropped(t *testing.T) {
	h := newHarness(t, false)
	other := testSong(60000)
	other.Name = "other"
	h.e.DeliverSong(other)
	h.e.DeliverStem("demo", 1, "demo_drums.mp3", testPCM(1000), nil)
	h.persist.states = nil
	h.e.Tick()

	st := h.e.Status()
	if st.Song != "other" || st.Tracks[1].Mapping != "file.mp3" {
		t.Errorf("song = %q slot 1 = %q, want other/file.mp3", st.Song, st.Tracks[1].Mapping)
	}
	for _, p := range h.persist.states {
		if p.Mappings[1] == "demo_drums.mp3" {
			t.Errorf("stale stem persisted for %q", p.Song)
		}
	}
	if n := h.count(EventStem); n != 0 {
		t.Errorf("STEM_CHANGED events = %d, want 0", n)
	}

	h.e.DeliverStem("other", 1, "other_drums.mp3", testPCM(60000), nil)
	h.e.Tick()
	if got := h.e.Status().Tracks[1].Mapping; got != "other_drums.mp3" {
		t.Errorf("slot 1 = %q, want other_drums.mp3", got)
	}
}

func TestCountInCancelledByLoad(t *testing.T) {
	h := newHarness(t, true)
	h.e.PlayFrom(0)
	if !h.e.Counting() {
		t.Fatal("count-in did not start")
	}

	h.load(testSong(60000))
	if h.e.Counting() {
		t.Error("still counting after load")
	}
	h.runPending()
	h.e.Tick()

	if h.out.clicks != 0 {
		t.Errorf("clicks = %d, want 0", h.out.clicks)
	}
	if h.e.Playing() || len(h.out.plays) != 0 {
		t.Errorf("playing=%v plays=%d after cancelled count-in", h.e.Playing(), len(h.out.plays))
	}
}

func TestRepeatTask(t *testing.T) {
	var mu sync.Mutex
	n := 0
	r := StartRepeat(time.Millisecond, time.Millisecond, func() {
		mu.Lock()
		n++
		mu.Unlock()
	})
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		got := n
		mu.Unlock()
		if got >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d steps", got)
		case <-time.After(time.Millisecond):
		}
	}
	r.Stop()
	r.Stop()
	<-r.Done()
}
