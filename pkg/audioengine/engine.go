package audioengine

import (
	"context"
	"log"
	"sync"
	"time"

	"stemquina/pkg/spec"
	"stemquina/pkg/syncindex"
)

// ======================================================
// Events
// ======================================================

type EventType string

const (
	EventPosition EventType = "POSITION"
	EventState    EventType = "STATE"
	EventCount    EventType = "COUNT"
	EventLyric    EventType = "LYRIC"
	EventMarker   EventType = "MARKER"
	EventMix      EventType = "MIX"
	EventLoop     EventType = "LOOP"
	EventMarkers  EventType = "MARKERS"
	EventLyrics   EventType = "LYRICS"
	EventSong     EventType = "SONG_LOADED"
	EventStem     EventType = "STEM_CHANGED"
	EventBlocked  EventType = "LOAD_BLOCKED"
)

// Event is published to subscribers after the engine lock is released.
type Event struct {
	Type     EventType         `json:"type"`
	Position float64           `json:"position"`
	Playing  bool              `json:"playing"`
	Counting bool              `json:"counting"`
	Speed    float64           `json:"speed"`
	Count    int               `json:"count,omitempty"`
	Track    int               `json:"track,omitempty"`
	Song     string            `json:"song,omitempty"`
	Window   *syncindex.Window `json:"window,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ======================================================
// Engine (single authority)
// ======================================================

// Options configure a new Engine. Zero fields fall back to defaults.
type Options struct {
	Clock     Clock
	Output    Output
	Persister Persister

	MasterVolume float64
	Repeat       bool
	CountIn      bool

	// Async runs count-in sequences. It must not run f inline.
	Async func(f func())
	// Wait blocks between count-in clicks.
	Wait func(ctx context.Context, d time.Duration) bool
}

func DefaultOptions() Options {
	return Options{MasterVolume: spec.MasterVolume, Repeat: true}
}

// Engine owns every piece of session state. Public methods lock it; work
// finished in the background is handed back through Post and applied at
// the start of the next Tick.
type Engine struct {
	mu sync.Mutex

	clock   Clock
	out     Output
	persist Persister
	async   func(func())
	wait    func(context.Context, time.Duration) bool
	ctx     context.Context

	bank *TrackBank
	mix  *MixMatrix
	loop LoopController

	markers   *syncindex.MarkerSet
	markerIdx *syncindex.Index
	lyrics    *syncindex.Index
	lyricCur  *syncindex.Cursor
	markerCur *syncindex.Cursor

	song        string
	stems       []string
	fingerprint string

	position float64
	speed    float64
	playing  bool
	counting bool
	countGen int
	countIn  bool
	repeat   bool
	startRef time.Time
	lastStop time.Time

	editing bool
	pending *Song // held back by an open lyric edit

	hold    *RepeatTask
	holdGen int

	qmu   sync.Mutex
	queue []func()

	smu    sync.Mutex
	sinks  map[int]func(Event)
	nextID int
	outbox []Event
}

func New(opts Options) *Engine {
	e := &Engine{
		clock:     opts.Clock,
		out:       opts.Output,
		persist:   opts.Persister,
		async:     opts.Async,
		wait:      opts.Wait,
		ctx:       context.Background(),
		bank:      NewTrackBank(),
		markers:   syncindex.NewMarkerSet(nil),
		lyrics:    syncindex.New(nil),
		lyricCur:  syncindex.NewCursor(),
		markerCur: syncindex.NewCursor(),
		speed:     spec.SpeedDefault,
		countIn:   opts.CountIn,
		repeat:    opts.Repeat,
		sinks:     make(map[int]func(Event)),
	}
	e.mix = NewMixMatrix(e.bank, opts.MasterVolume)
	e.markerIdx = e.markers.Index()

	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.out == nil {
		e.out = discardOutput{}
	}
	if e.async == nil {
		e.async = func(f func()) { go f() }
	}
	if e.wait == nil {
		e.wait = sleepCtx
	}
	return e
}

// lock/unlock bracket every mutation. unlock flushes queued events to
// subscribers once the mutex is free.
func (e *Engine) lock() { e.mu.Lock() }

func (e *Engine) unlock() {
	out := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	if len(out) == 0 {
		return
	}
	e.smu.Lock()
	sinks := make([]func(Event), 0, len(e.sinks))
	for _, s := range e.sinks {
		sinks = append(sinks, s)
	}
	e.smu.Unlock()

	for _, ev := range out {
		for _, s := range sinks {
			s(ev)
		}
	}
}

// Subscribe registers fn for every event. The returned func removes it.
func (e *Engine) Subscribe(fn func(Event)) (cancel func()) {
	e.smu.Lock()
	id := e.nextID
	e.nextID++
	e.sinks[id] = fn
	e.smu.Unlock()

	return func() {
		e.smu.Lock()
		delete(e.sinks, id)
		e.smu.Unlock()
	}
}

func (e *Engine) event(t EventType) Event {
	return Event{
		Type:     t,
		Position: e.position,
		Playing:  e.playing,
		Counting: e.counting,
		Speed:    e.speed,
	}
}

func (e *Engine) emit(ev Event) {
	e.outbox = append(e.outbox, ev)
}

func (e *Engine) emitType(t EventType) {
	e.emit(e.event(t))
}

// Post queues fn to run under the engine lock on the next tick.
func (e *Engine) Post(fn func()) {
	e.qmu.Lock()
	e.queue = append(e.queue, fn)
	e.qmu.Unlock()
}

func (e *Engine) drain() []func() {
	e.qmu.Lock()
	q := e.queue
	e.queue = nil
	e.qmu.Unlock()
	return q
}

// ======================================================
// Control loop
// ======================================================

// Run ticks the engine at the given interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = spec.TickInterval
	}
	e.lock()
	e.ctx = ctx
	e.unlock()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-t.C:
			e.Tick()
		}
	}
}

func (e *Engine) shutdown() {
	e.lock()
	defer e.unlock()

	e.stopHold()
	e.cancelCountIn()
	e.playing = false
	e.out.Stop()
}

// Tick applies posted results, advances the derived position, runs the
// loop and end-of-song tests, then republishes sync state.
func (e *Engine) Tick() {
	posted := e.drain()

	e.lock()
	defer e.unlock()

	for _, fn := range posted {
		fn()
	}

	if e.playing {
		e.position = e.derive(e.clock.Now())

		if e.loop.ShouldLoop(e.position) {
			if err := e.playFrom(*e.loop.A, true); err != nil {
				log.Printf("[Error] loop restart: %v", err)
			}
		}

		if e.playing && e.position >= e.bank.DurationMs() {
			if e.repeat {
				if err := e.playFrom(0, true); err != nil {
					log.Printf("[Error] repeat restart: %v", err)
				}
			} else {
				e.stopLogic()
				e.position = 0
			}
		}
		e.emitType(EventPosition)
	}

	e.syncCursors()
}

// syncCursors republishes lyric and marker windows only when the
// resolved index moved.
func (e *Engine) syncCursors() {
	if k, changed := e.lyricCur.Update(e.lyrics, e.position); changed {
		w := e.lyrics.WindowAt(k)
		ev := e.event(EventLyric)
		ev.Window = &w
		e.emit(ev)
	}
	if k, changed := e.markerCur.Update(e.markerIdx, e.position); changed {
		w := e.markerIdx.WindowAt(k)
		ev := e.event(EventMarker)
		ev.Window = &w
		e.emit(ev)
	}
}

// derive reconstructs content position from the wall-clock reference.
func (e *Engine) derive(now time.Time) float64 {
	return now.Sub(e.startRef).Seconds() * 1000 * e.speed
}

// current is the live position whether playing or not.
func (e *Engine) current() float64 {
	if e.playing {
		return e.derive(e.clock.Now())
	}
	return e.position
}

// ======================================================
// Read side
// ======================================================

type TrackStatus struct {
	Index   int     `json:"index"`
	Name    string  `json:"name"`
	Mapping string  `json:"mapping"`
	Loaded  bool    `json:"loaded"`
	Volume  float64 `json:"volume"`
	Mute    bool    `json:"mute"`
	Gain    float64 `json:"gain"`
}

type Status struct {
	Song         string             `json:"song"`
	Position     float64            `json:"position"`
	Duration     float64            `json:"duration"`
	Speed        float64            `json:"speed"`
	Playing      bool               `json:"playing"`
	Counting     bool               `json:"counting"`
	Repeat       bool               `json:"repeat"`
	CountIn      bool               `json:"count_in"`
	LoopA        *float64           `json:"loop_a"`
	LoopB        *float64           `json:"loop_b"`
	MasterVolume float64            `json:"master_volume"`
	Solo         int                `json:"solo"`
	Tracks       []TrackStatus      `json:"tracks"`
	Markers      []syncindex.Marker `json:"markers"`
	Lyric        syncindex.Window   `json:"lyric"`
	Section      syncindex.Window   `json:"section"`
	Stems        []string           `json:"stems"`
	Editing      bool               `json:"editing"`
	Pending      string             `json:"pending,omitempty"`
}

func (e *Engine) Status() Status {
	e.lock()
	defer e.unlock()

	pos := e.current()
	a, b := e.loop.snapshot()
	solo, _ := e.mix.CurrentSolo()

	st := Status{
		Song:         e.song,
		Position:     pos,
		Duration:     e.bank.DurationMs(),
		Speed:        e.speed,
		Playing:      e.playing,
		Counting:     e.counting,
		Repeat:       e.repeat,
		CountIn:      e.countIn,
		LoopA:        a,
		LoopB:        b,
		MasterVolume: e.mix.MasterVolume(),
		Solo:         solo,
		Markers:      e.markers.List(),
		Lyric:        e.lyrics.WindowAt(e.lyrics.Lookup(pos)),
		Section:      e.markerIdx.WindowAt(e.markerIdx.Lookup(pos)),
		Stems:        append([]string(nil), e.stems...),
		Editing:      e.editing,
	}
	if e.pending != nil {
		st.Pending = e.pending.Name
	}
	for i := 0; i < spec.NumTracks; i++ {
		t, _ := e.bank.Track(i)
		st.Tracks = append(st.Tracks, TrackStatus{
			Index:   i,
			Name:    t.Name,
			Mapping: t.Mapping,
			Loaded:  t.PCM.Len() > 0,
			Volume:  t.Volume,
			Mute:    t.Mute,
			Gain:    e.mix.EffectiveGain(i),
		})
	}
	return st
}

// Position returns the live content position in ms.
func (e *Engine) Position() float64 {
	e.lock()
	defer e.unlock()
	return e.current()
}

func (e *Engine) Playing() bool {
	e.lock()
	defer e.unlock()
	return e.playing
}

func (e *Engine) Counting() bool {
	e.lock()
	defer e.unlock()
	return e.counting
}

func (e *Engine) Speed() float64 {
	e.lock()
	defer e.unlock()
	return e.speed
}

func (e *Engine) Duration() float64 {
	e.lock()
	defer e.unlock()
	return e.bank.DurationMs()
}

func (e *Engine) Song() string {
	e.lock()
	defer e.unlock()
	return e.song
}

// Waveform returns the cached peak envelope for track i.
func (e *Engine) Waveform(i int) ([]float64, error) {
	e.lock()
	defer e.unlock()
	t, err := e.bank.Track(i)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), t.Waveform...), nil
}

// ======================================================
// Headless output
// ======================================================

// discardOutput accepts every non-empty voice and produces no sound.
type discardOutput struct{}

func (discardOutput) Play(voices []Voice) (int, error) {
	n := 0
	for _, v := range voices {
		if v.PCM.Len() > v.Start {
			n++
		}
	}
	if n == 0 {
		return 0, ErrNoChannels
	}
	return n, nil
}

func (discardOutput) Stop()                {}
func (discardOutput) SetGain(int, float64) {}
func (discardOutput) Click()               {}
