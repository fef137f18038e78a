package ackserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/tcptester/logger"
)

// Session handles one accepted connection.
type Session struct {
	id     uint32
	conn   net.Conn
	server *Server
	log    logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn, server *Server) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		server: server,
		log: server.Logger.With(
			logger.Field{Key: "session", Value: id},
			logger.Field{Key: "peer", Value: conn.RemoteAddr().String()},
		),
	}
}

// ID returns the id assigned by the server.
func (s *Session) ID() uint32 {
	return s.id
}

// Handle reads the greeting, writes the reply, half-closes and waits for
// the peer to close before releasing the connection.
func (s *Session) Handle() {
	defer func() { _ = s.Close() }()

	greeting := make([]byte, s.server.ReadLimit)
	n, err := io.ReadFull(s.conn, greeting)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		s.log.Warn("read greeting failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	s.server.record(greeting[:n])
	s.log.Debug("greeting received", logger.Field{Key: "bytes", Value: n}, logger.Field{Key: "text", Value: string(greeting[:n])})

	if err := s.Send(s.server.Reply); err != nil {
		s.log.Warn("write reply failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	if tcp, ok := s.conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			s.log.Warn("half-close failed", logger.Field{Key: "error", Value: err.Error()})
			return
		}
	}

	_, _ = io.Copy(io.Discard, s.conn)
}

// Send writes data, split into ChunkSize pieces when configured.
func (s *Session) Send(data []byte) error {
	size := s.server.ChunkSize
	if size <= 0 || size >= len(data) {
		_, err := s.conn.Write(data)
		return err
	}

	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		if _, err := s.conn.Write(data[off:end]); err != nil {
			return err
		}

		if s.server.ChunkDelay > 0 && end < len(data) {
			time.Sleep(s.server.ChunkDelay)
		}
	}

	return nil
}

// Close closes the connection. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})

	return s.closeErr
}
