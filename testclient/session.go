package testclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/tcptester/logger"
	"github.com/cyberinferno/tcptester/perfmonitor"
)

// SessionState represents where a Session is in its lifecycle.
type SessionState int

const (
	Created    SessionState = iota // Not yet dialing
	Connecting                     // Dial in progress
	Connected                      // Transport handshake completed
	Sent                           // Payload fully written
	Received                       // Response read
	Closing                        // Close started; no more I/O
	Closed                         // Close completed
	Failed                         // Terminated by an error
)

// String returns a human-readable name for the state.
func (s SessionState) String() string {
	switch s {
	case Created:
		return "Created"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Sent:
		return "Sent"
	case Received:
		return "Received"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted on every session state change.
type StateEvent struct {
	Label     string
	State     SessionState
	Timestamp time.Time
	Error     error // Non-nil when State is Failed
}

// StateHandler observes state changes. It runs on the session goroutine and
// must not block.
type StateHandler func(event StateEvent)

// Result is what one session reports to its invoker.
type Result struct {
	Label      string
	Policy     ReadPolicy
	LocalAddr  string
	RemoteAddr string
	// Raw holds every byte received, possibly none.
	Raw []byte
	// Text is Raw decoded as UTF-8; empty when Decoded is false.
	Text    string
	Decoded bool
	// BytesSent is the number of payload bytes the transport accepted.
	BytesSent int
	Elapsed   time.Duration
}

// Session is one client-side stream connection. It is created, driven
// once through connect, send, receive and close, and discarded.
type Session struct {
	config Config
	log    logger.Logger
	notify StateHandler

	mu      sync.Mutex
	state   SessionState
	conn    net.Conn
	written bool
	closing bool

	closeOnce sync.Once
	closeErr  error

	buf     []byte
	sent    int
	monitor *perfmonitor.PerformanceMonitor
}

// newSession returns a Session in state Created. notify may be nil.
func newSession(config Config, log logger.Logger, notify StateHandler) *Session {
	return &Session{
		config:  config,
		log:     log.With(logger.Field{Key: "label", Value: config.Label}),
		notify:  notify,
		state:   Created,
		monitor: perfmonitor.NewPerformanceMonitor(),
	}
}

// State returns the current state.
//
// Returns:
//   - The SessionState last passed to setState
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState records state and calls the handler synchronously.
func (s *Session) setState(state SessionState, err error) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(StateEvent{Label: s.config.Label, State: state, Timestamp: time.Now(), Error: err})
	}
}

// fail moves the session to Failed and logs err, which it returns.
func (s *Session) fail(err error) error {
	s.setState(Failed, err)
	s.log.Error("session failed", logger.Field{Key: "error", Value: err.Error()})
	return err
}

// run drives the whole lifecycle. dialAddr is the resolved "ip:port".
func (s *Session) run(ctx context.Context, dialAddr string) (*Result, error) {
	s.monitor.Start()

	if err := s.connect(ctx, dialAddr); err != nil {
		return nil, s.fail(err)
	}

	// Closing the connection is the only way to unblock a pending read or
	// write on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = s.close() })
	defer stop()

	if err := s.send(); err != nil {
		_ = s.close()
		return nil, s.fail(ctxErr(ctx, err))
	}

	if err := s.receive(); err != nil {
		_ = s.close()
		return nil, s.fail(ctxErr(ctx, err))
	}

	res := s.report()

	s.setState(Closing, nil)
	if err := s.close(); err != nil {
		return nil, s.fail(&StreamError{Op: "close", Err: err})
	}

	s.monitor.Stop()
	res.Elapsed = s.monitor.Elapsed()
	s.setState(Closed, nil)
	s.log.Info("connection closed", logger.Field{Key: "elapsed_ms", Value: s.monitor.ElapsedMilliseconds()})

	return res, nil
}

// connect dials dialAddr, binding the configured local address first.
// Every failure is a *ConnectionError.
func (s *Session) connect(ctx context.Context, dialAddr string) error {
	s.setState(Connecting, nil)
	s.log.Info("connecting", logger.Field{Key: "remote", Value: s.config.Address()}, logger.Field{Key: "local", Value: s.config.LocalAddr})

	dialer := net.Dialer{Timeout: s.config.ConnectTimeout}
	if s.config.LocalAddr != "" {
		laddr, err := net.ResolveTCPAddr("tcp", s.config.LocalAddr)
		if err != nil {
			return &ConnectionError{Addr: s.config.Address(), LocalAddr: s.config.LocalAddr, Err: err}
		}

		dialer.LocalAddr = laddr
	}

	conn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
			err = fmt.Errorf("%w: %w", cerr, err)
		}

		return &ConnectionError{Addr: s.config.Address(), LocalAddr: s.config.LocalAddr, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.setState(Connected, nil)
	s.log.Info("connected", logger.Field{Key: "local", Value: conn.LocalAddr().String()})
	return nil
}

// send writes the payload once. net.Conn.Write returns only after every
// byte was accepted by the transport or an error occurred.
func (s *Session) send() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.closing {
		s.mu.Unlock()
		return &StreamError{Op: "write", Err: net.ErrClosed}
	}
	if s.written {
		s.mu.Unlock()
		return &StreamError{Op: "write", Err: errors.New("payload already sent")}
	}
	s.written = true
	s.mu.Unlock()

	s.log.Debug("sending greeting", logger.Field{Key: "bytes", Value: len(s.config.Payload)})
	n, err := conn.Write(s.config.Payload)
	s.sent = n
	if err != nil {
		return &StreamError{Op: "write", Err: err}
	}

	s.setState(Sent, nil)
	s.log.Info("data sent, waiting response", logger.Field{Key: "bytes", Value: n})
	return nil
}

// receive reads the response under the configured policy. It refuses to
// run before the payload was written or after close started.
func (s *Session) receive() error {
	s.mu.Lock()
	conn := s.conn
	ready := s.written && !s.closing
	s.mu.Unlock()

	if conn == nil || !ready {
		return &StreamError{Op: "read", Err: errors.New("read before payload was sent")}
	}

	var err error
	switch s.config.Policy {
	case Bounded:
		s.buf, err = readBounded(conn, s.config.MaxBytes)
	default:
		s.buf, err = io.ReadAll(conn)
	}

	if err != nil {
		return &StreamError{Op: "read", Err: err}
	}

	s.setState(Received, nil)
	return nil
}

// readBounded issues one read of at most limit bytes. An immediate
// end-of-stream yields an empty result.
func readBounded(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, limit)
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return buf[:n], err
	}

	return buf[:n], nil
}

// report builds the Result. A decode failure is logged and leaves Text
// empty; it is never an error.
func (s *Session) report() *Result {
	res := &Result{
		Label:      s.config.Label,
		Policy:     s.config.Policy,
		LocalAddr:  s.conn.LocalAddr().String(),
		RemoteAddr: s.conn.RemoteAddr().String(),
		Raw:        s.buf,
		BytesSent:  s.sent,
	}

	text, err := Decode(s.buf)
	if err != nil {
		s.log.Warn("response is not text, reporting raw bytes",
			logger.Field{Key: "error", Value: err.Error()},
			logger.Field{Key: "raw", Value: fmt.Sprintf("%q", s.buf)})
	} else {
		res.Text = text
		res.Decoded = true
	}

	s.log.Info("received",
		logger.Field{Key: "text", Value: res.Text},
		logger.Field{Key: "raw", Value: fmt.Sprintf("%q", s.buf)},
		logger.Field{Key: "bytes", Value: len(s.buf)})

	return res
}

// close closes the connection at most once. net.Conn.Close is synchronous:
// when it returns the descriptor has been released.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			s.closeErr = conn.Close()
		}
	})

	return s.closeErr
}

// ctxErr replaces the cause of a *StreamError with ctx.Err() once ctx is
// done, since closing the connection is what produced the I/O error.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		var se *StreamError
		if errors.As(err, &se) {
			return &StreamError{Op: se.Op, Err: cerr}
		}
	}

	return err
}
