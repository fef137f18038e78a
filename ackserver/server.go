// Package ackserver provides a stub TCP peer for the greeting tester. Each
// accepted connection reads the greeting, answers with a fixed reply,
// half-closes its write side and waits for the client to hang up.
package ackserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/tcptester/logger"
	"github.com/cyberinferno/tcptester/registry"
)

const (
	// DefaultAddr is where the reference stub listens.
	DefaultAddr = "127.0.0.1:7878"
	// DefaultReply is what the stub answers with.
	DefaultReply = "ACK"
	// DefaultReadLimit is the length of the greeting the stub waits for.
	DefaultReadLimit = 14
)

// Server is a TCP server that answers every connection with Reply. Sessions
// are kept by id so Stop can close them all.
type Server struct {
	Logger logger.Logger
	Name   string
	// Addr is the listen address; port 0 picks a free port.
	Addr string
	// Reply is written once per connection after the greeting was read.
	Reply []byte
	// ReadLimit is how many bytes to read before replying. The read also
	// ends early at end-of-stream.
	ReadLimit int
	// ChunkSize splits Reply into writes of at most this many bytes; 0
	// writes it in one call.
	ChunkSize int
	// ChunkDelay pauses between chunks.
	ChunkDelay time.Duration

	listener net.Listener
	sessions *registry.Sessions[*Session]
	running  atomic.Bool
	accepted atomic.Int64
	wg       sync.WaitGroup

	mu       sync.Mutex
	received [][]byte
}

// New returns a Server listening on addr with the default reply and
// greeting length. A nil log discards output.
func New(name, addr string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Server{
		Logger:    log,
		Name:      name,
		Addr:      addr,
		Reply:     []byte(DefaultReply),
		ReadLimit: DefaultReadLimit,
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	if s.ReadLimit <= 0 {
		s.ReadLimit = DefaultReadLimit
	}

	s.listener = ln
	s.sessions = registry.NewSessions[*Session]()
	s.running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every live session, then waits for their
// goroutines. Safe to call when the server is not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	_ = s.listener.Close()

	s.sessions.Range(func(_ uint32, session *Session) bool {
		s.Logger.Debug("closing session", logger.Field{Key: "session", Value: session.ID()})
		_ = session.Close()
		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// ListenAddr returns the bound address, or "" before Start.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}

	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}

	return 0
}

// Received returns a copy of every greeting read so far, in arrival order.
func (s *Server) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.received))
	for i, b := range s.received {
		out[i] = append([]byte(nil), b...)
	}

	return out
}

// Accepted returns how many connections were accepted.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	if s.sessions == nil {
		return 0
	}

	return s.sessions.Len()
}

func (s *Server) record(greeting []byte) {
	s.mu.Lock()
	s.received = append(s.received, greeting)
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		s.accepted.Add(1)
		id := s.sessions.Next()
		session := newSession(id, conn, s)
		s.sessions.Store(id, session)
		if !s.running.Load() {
			// Stop already swept the registry.
			_ = session.Close()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sessions.Delete(id)
			session.Handle()
		}()
	}
}
