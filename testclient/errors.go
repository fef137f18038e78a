package testclient

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned by NewClient for unusable settings.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrConnection matches every *ConnectionError.
	ErrConnection = errors.New("connection error")
	// ErrStream matches every *StreamError.
	ErrStream = errors.New("stream error")
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("decode error")
)

// ConnectionError reports that no connection could be established: the
// remote endpoint refused or was unreachable, or the local bind address was
// unavailable. Nothing was sent when it is returned.
type ConnectionError struct {
	Addr      string // remote "host:port"
	LocalAddr string // requested bind address, empty if none
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.LocalAddr != "" {
		return fmt.Sprintf("connect %s from %s: %v", e.Addr, e.LocalAddr, e.Err)
	}

	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// StreamError reports a failure on an established connection, such as a
// reset by the peer mid-write or mid-read.
type StreamError struct {
	Op  string // "write", "read" or "close"
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() []error {
	return []error{ErrStream, e.Err}
}

// DecodeError reports response bytes that are not valid UTF-8. It is
// logged, never returned from Run: the raw bytes are still reported.
type DecodeError struct {
	Offset int // index of the first invalid byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("response is not valid utf-8 at byte %d", e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}
