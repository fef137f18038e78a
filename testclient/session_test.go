package testclient

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/tcptester/logger"
)

func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()

	cfg := DefaultConfig("127.0.0.1", 7878)
	require.NoError(t, cfg.validate())

	client, peer := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		peer.Close()
	})

	s := newSession(cfg, logger.NewNopLogger(), nil)
	s.conn = client
	return s, peer
}

func TestSession_PayloadWrittenOnce(t *testing.T) {
	s, peer := pipeSession(t)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := peer.Read(buf)
		got <- buf[:n]
	}()

	require.NoError(t, s.send())
	assert.Equal(t, []byte(DefaultPayload), <-got)
	assert.Equal(t, Sent, s.State())

	err := s.send()
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorContains(t, err, "already sent")
}

func TestSession_ReadRequiresSend(t *testing.T) {
	s, _ := pipeSession(t)

	err := s.receive()
	assert.ErrorIs(t, err, ErrStream)
	assert.ErrorContains(t, err, "before payload")
}

func TestSession_NoIOAfterClose(t *testing.T) {
	s, _ := pipeSession(t)

	require.NoError(t, s.close())
	require.NoError(t, s.close())

	assert.ErrorIs(t, s.send(), net.ErrClosed)
	assert.ErrorIs(t, s.receive(), ErrStream)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Failed", Failed.String())
	assert.Equal(t, "Unknown", SessionState(42).String())
}
