package metadata

import (
	"context"
	"log"
	"sync"

	"stemquina/pkg/audioengine"
)

// Writer persists engine snapshots off the control loop. Only the latest
// snapshot per song is written.
type Writer struct {
	root string

	mu      sync.Mutex
	pending map[string]audioengine.SessionState
	kick    chan struct{}
}

func NewWriter(root string) *Writer {
	return &Writer{
		root:    root,
		pending: make(map[string]audioengine.SessionState),
		kick:    make(chan struct{}, 1),
	}
}

// Persist implements audioengine.Persister. It never blocks.
func (w *Writer) Persist(st audioengine.SessionState) {
	if st.Song == "" {
		return
	}
	w.mu.Lock()
	w.pending[st.Song] = st
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run writes queued snapshots until ctx is done, then flushes.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return
		case <-w.kick:
			w.Flush()
		}
	}
}

// Flush writes everything queued so far.
func (w *Writer) Flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]audioengine.SessionState)
	w.mu.Unlock()

	for song, st := range batch {
		if err := Save(PathFor(w.root, song), FromState(st)); err != nil {
			log.Printf("[Error] save metadata %s: %v", song, err)
		}
	}
}
