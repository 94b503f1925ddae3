// Package control serves the engine over a line protocol on a unix
// socket. One connection at a time owns the transport; the others observe.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"stemquina/internal/codec"
	"stemquina/internal/library"
	"stemquina/pkg/audioengine"

	"github.com/google/uuid"
)

// PositionEvery throttles POSITION events per client.
const PositionEvery = 250 * time.Millisecond

type Server struct {
	Engine  *audioengine.Engine
	Library *library.Library

	Throttle time.Duration

	ctx   context.Context
	async func(func())

	mu    sync.Mutex
	owner *client
	draft string

	pmu   sync.Mutex
	peaks *codec.Peaks
}

func New(eng *audioengine.Engine, lib *library.Library) *Server {
	return &Server{
		Engine:   eng,
		Library:  lib,
		Throttle: PositionEvery,
		ctx:      context.Background(),
		async:    func(f func()) { go f() },
		peaks:    codec.NewPeaks(codec.SpectrumBands),
	}
}

// ======================================================
// Clients
// ======================================================

type client struct {
	id   string
	conn net.Conn
	out  chan string
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	lastPos time.Time
}

func newClient(conn net.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan string, 256),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// send queues a reply. Replies are never dropped.
func (c *client) send(line string) {
	select {
	case c.out <- line:
	case <-c.done:
	}
}

// sink turns engine events into EVENT lines. Events for a slow client are
// dropped rather than blocking the engine.
func (s *Server) sink(c *client) func(audioengine.Event) {
	return func(ev audioengine.Event) {
		if ev.Type == audioengine.EventPosition {
			now := time.Now()
			c.mu.Lock()
			skip := now.Sub(c.lastPos) < s.Throttle
			if !skip {
				c.lastPos = now
			}
			c.mu.Unlock()
			if skip {
				return
			}
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case c.out <- "EVENT " + string(b):
		default:
		}
	}
}

func (s *Server) isOwner(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner == c
}

func (s *Server) claimOwner(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == nil {
		s.owner = c
		log.Printf("[IPC] control claimed by %s", c.id)
		return true
	}
	return s.owner == c
}

// releaseOwner gives up control. A held nudge never outlives its owner.
func (s *Server) releaseOwner(c *client) bool {
	s.mu.Lock()
	if s.owner != c {
		s.mu.Unlock()
		return false
	}
	s.owner = nil
	s.mu.Unlock()

	log.Printf("[IPC] control released by %s", c.id)
	s.Engine.StopHold()
	return true
}

// ======================================================
// Socket
// ======================================================

// Listen serves path until ctx is done.
func (s *Server) Listen(ctx context.Context, path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.ctx = ctx

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(path)
	}()

	log.Printf("[IPC] listening on %s", path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[IPC] accept: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	c := newClient(conn)
	cancel := s.Engine.Subscribe(s.sink(c))
	log.Printf("[IPC] client %s connected", c.id)

	defer func() {
		cancel()
		// The owner leaving stops the transport.
		if s.releaseOwner(c) {
			s.Engine.Stop()
		}
		c.close()
		log.Printf("[IPC] client %s gone", c.id)
	}()

	go s.writeLoop(c)

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if reply := s.Exec(c, sc.Text()); reply != "" {
			c.send(reply)
		}
	}
}

func (s *Server) writeLoop(c *client) {
	w := bufio.NewWriter(c.conn)
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			w.WriteString(line)
			w.WriteByte('\n')
			// Batch whatever else is queued.
			for n := len(c.out); n > 0; n-- {
				w.WriteString(<-c.out)
				w.WriteByte('\n')
			}
			if err := w.Flush(); err != nil {
				c.close()
				return
			}
		}
	}
}
