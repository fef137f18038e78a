package testclient

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPayload is the greeting every session sends.
const DefaultPayload = "Hello, server!"

// DefaultMaxBytes is the cap used by the Bounded policy when none is set.
const DefaultMaxBytes = 100

// ReadPolicy selects how a session consumes the response.
type ReadPolicy int

const (
	Drain   ReadPolicy = iota // Read until the peer signals end-of-stream
	Bounded                   // Issue a single read of at most MaxBytes
)

// String returns the configuration name of the policy.
func (p ReadPolicy) String() string {
	switch p {
	case Drain:
		return "drain"
	case Bounded:
		return "bounded"
	default:
		return "unknown"
	}
}

// ParseReadPolicy converts "drain" or "bounded" (case-insensitive) to a
// ReadPolicy.
//
// Parameters:
//   - s: Policy name; empty selects Drain
//
// Returns:
//   - The ReadPolicy, or an error wrapping ErrInvalidConfig
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drain", "":
		return Drain, nil
	case "bounded":
		return Bounded, nil
	default:
		return 0, fmt.Errorf("%w: unknown read policy %q", ErrInvalidConfig, s)
	}
}

// Config holds the settings of one TestClient.
type Config struct {
	// Host is the remote host name or IP literal.
	Host string
	// Port is the remote port, 1-65535.
	Port int
	// LocalAddr is an optional "host:port" the connection must originate
	// from. Empty lets the kernel choose.
	LocalAddr string
	// Label tags every log line and the Result. Defaults to the port of
	// LocalAddr, or "auto".
	Label string
	// Policy selects the read mode.
	Policy ReadPolicy
	// MaxBytes caps the single read of the Bounded policy.
	MaxBytes int
	// ConnectTimeout bounds the dial; 0 means no timeout.
	ConnectTimeout time.Duration
	// Payload is written once after connecting; DefaultPayload when empty.
	Payload []byte
}

// DefaultConfig returns a Config for host:port with the Drain policy and
// the default greeting.
func DefaultConfig(host string, port int) Config {
	return Config{
		Host:     host,
		Port:     port,
		Policy:   Drain,
		MaxBytes: DefaultMaxBytes,
		Payload:  []byte(DefaultPayload),
	}
}

// Address returns the remote "host:port".
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// validate checks c and fills defaults in place.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}

	if c.Policy != Drain && c.Policy != Bounded {
		return fmt.Errorf("%w: unknown read policy %d", ErrInvalidConfig, c.Policy)
	}

	if c.Policy == Bounded && c.MaxBytes <= 0 {
		return fmt.Errorf("%w: max bytes must be positive, got %d", ErrInvalidConfig, c.MaxBytes)
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative connect timeout", ErrInvalidConfig)
	}

	if c.LocalAddr != "" {
		_, port, err := net.SplitHostPort(c.LocalAddr)
		if err != nil {
			return fmt.Errorf("%w: local address %q: %v", ErrInvalidConfig, c.LocalAddr, err)
		}

		if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			return fmt.Errorf("%w: local address %q has bad port", ErrInvalidConfig, c.LocalAddr)
		}

		if c.Label == "" {
			c.Label = port
		}
	}

	if c.Label == "" {
		c.Label = "auto"
	}

	if len(c.Payload) == 0 {
		c.Payload = []byte(DefaultPayload)
	}

	return nil
}
