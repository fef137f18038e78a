package ackserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/tcptester/logger"
)

func startServer(t *testing.T, configure func(s *Server)) *Server {
	t.Helper()

	s := New("ack", "127.0.0.1:0", nil)
	if configure != nil {
		configure(s)
	}

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func exchange(t *testing.T, addr string, greeting string) []byte {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(greeting))
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return reply
}

func TestServer_RepliesAndHalfCloses(t *testing.T) {
	s := startServer(t, nil)

	reply := exchange(t, s.ListenAddr(), "Hello, server!")
	assert.Equal(t, []byte("ACK"), reply)

	require.Eventually(t, func() bool { return len(s.Received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("Hello, server!"), s.Received()[0])
	assert.Equal(t, 1, s.Accepted())
}

func TestServer_ShortGreetingEndedByEOF(t *testing.T) {
	s := startServer(t, nil)

	conn, err := net.Dial("tcp", s.ListenAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, []byte("ACK"), reply)
	assert.Equal(t, [][]byte{[]byte("hi")}, s.Received())
}

func TestServer_ChunkedReply(t *testing.T) {
	s := startServer(t, func(s *Server) {
		s.Reply = []byte("abcdefghij")
		s.ChunkSize = 3
		s.ChunkDelay = 5 * time.Millisecond
	})

	assert.Equal(t, []byte("abcdefghij"), exchange(t, s.ListenAddr(), "Hello, server!"))
}

func TestServer_SequentialConnections(t *testing.T) {
	s := startServer(t, nil)

	for _i := 0; _i < 3; _i++ {
		assert.Equal(t, []byte("ACK"), exchange(t, s.ListenAddr(), "Hello, server!"))
	}

	require.Eventually(t, func() bool { return s.Sessions() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, s.Accepted())
	assert.Len(t, s.Received(), 3)
}

func TestServer_StartStop(t *testing.T) {
	t.Run("double start fails", func(t *testing.T) {
		s := startServer(t, nil)
		assert.Error(t, s.Start())
	})

	t.Run("stop closes live sessions", func(t *testing.T) {
		s := New("ack", "127.0.0.1:0", nil)
		require.NoError(t, s.Start())
		assert.NotZero(t, s.Port())

		conn, err := net.Dial("tcp", s.ListenAddr())
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool { return s.Sessions() == 1 }, time.Second, 5*time.Millisecond)

		done := make(chan struct{})
		go func() {
			s.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return")
		}
		assert.Equal(t, 0, s.Sessions())
		s.Stop()
	})

	t.Run("listen failure", func(t *testing.T) {
		s := New("ack", "256.0.0.1:0", nil)
		assert.Error(t, s.Start())
		assert.Empty(t, s.ListenAddr())
		assert.Zero(t, s.Port())
	})
}

func TestServer_StopClosesLiveSessionsByID(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Options{Service: "ack", Level: "debug", Out: &buf, JSON: true})
	require.NoError(t, err)

	s := New("ack", "127.0.0.1:0", log)
	require.NoError(t, s.Start())

	// Connect without sending: the session stays in its greeting read.
	conn, err := net.Dial("tcp", s.ListenAddr())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Sessions() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	var closed []float64
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "closing session" {
			closed = append(closed, entry["session"].(float64))
		}
	}

	assert.Equal(t, []float64{1}, closed)
}
