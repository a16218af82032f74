// Package relay implements the broadcast WebSocket relay: it accepts
// client connections, fans every inbound Operation out to all
// subscribers (including the sender), and supports cooperative
// shutdown. It interprets nothing about the Operations it carries.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/crdterrors"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// State is one of the server's lifecycle states.
type State int

const (
	Created State = iota
	Listening
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Server. The zero value is a usable default
// configuration.
type Options struct {
	// BusCapacity is the broadcast bus's per-subscriber buffer size.
	// Defaults to DefaultBusCapacity.
	BusCapacity int

	// RateLimit and RateBurst throttle inbound frame processing per
	// connection.
	// Each defaults independently when zero or negative: 256 msg/s and
	// burst 512.
	RateLimit int
	RateBurst int
}

func (o *Options) setDefaults() {
	if o.BusCapacity <= 0 {
		o.BusCapacity = DefaultBusCapacity
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 256
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 512
	}
}

// Server is the relay's lifecycle handle:
// Created → Listening → Draining → Stopped.
type Server struct {
	opts Options
	bus  *bus

	mu       sync.Mutex
	state    State
	listener net.Listener
	http     *http.Server

	shutdown chan struct{} // capacity 1: publishing requests a drain
	stopped  chan struct{} // closed once the accept loop has fully exited
	once     sync.Once
}

// New constructs a Server in the Created state. Call Start to bind and
// begin accepting connections.
func New(opts Options) *Server {
	opts.setDefaults()
	return &Server{
		opts:     opts,
		bus:      newBus(opts.BusCapacity),
		state:    Created,
		shutdown: make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Start binds addr, transitions to Listening, and begins accepting
// connections in the background. The returned channel is closed once
// the server has fully stopped; callers await it with their own
// timeout.
func (s *Server) Start(addr string) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.state != Created {
		s.mu.Unlock()
		return nil, errors.New("relay: server already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.listener = ln
	s.state = Listening
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/ws/", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.http = &http.Server{Handler: mux}
	s.mu.Unlock()

	go s.watchShutdown()

	go func() {
		defer close(s.stopped)
		err := s.http.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("relay accept loop exited with error", "err", err)
		}
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
	}()

	return s.stopped, nil
}

// watchShutdown subscribes to the shutdown publisher channel and drains
// the HTTP server once it fires, causing the accept loop to exit.
func (s *Server) watchShutdown() {
	<-s.shutdown
	s.mu.Lock()
	s.state = Draining
	srv := s.http
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
}

// Shutdown publishes the shutdown signal, moving the server into
// Draining; it does not itself block until Stopped — callers select on
// the channel Start returned.
func (s *Server) Shutdown() {
	s.once.Do(func() {
		s.shutdown <- struct{}{}
	})
}

// Addr returns the bound listener address. Only meaningful after Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StateNow reports the server's current lifecycle state.
func (s *Server) StateNow() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubscriberCount reports how many connections currently hold a live
// broadcast-bus subscription. Exposed mainly so tests can wait for a
// connection to finish registering before publishing against it.
func (s *Server) SubscriberCount() int {
	return s.bus.subscriberCount()
}

// handleWebSocket upgrades the request and runs the per-connection
// Open → Closed state machine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("relay: websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	limiter := rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)
	c := newConnection(conn, s.bus, limiter, r.RemoteAddr)
	c.run(r.Context())
}

// marshalFrame serializes op the way every egress task writes it to the
// socket: one text frame carrying the serialized Operation.
func marshalFrame(op crdt.Operation) ([]byte, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, errors.Join(crdterrors.ErrSerialization, err)
	}
	return b, nil
}
