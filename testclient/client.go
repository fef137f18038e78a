// Package testclient implements the TCP greeting tester: it connects to a
// remote endpoint, optionally from a fixed local address, writes a short
// greeting once, reads the response under a selectable read policy, reports
// what it received and closes the connection.
package testclient

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/cyberinferno/tcptester/logger"
	"github.com/cyberinferno/tcptester/resolver"
)

// Option customizes a Client.
type Option func(*Client)

// WithResolver makes the client resolve Config.Host through r before
// dialing.
func WithResolver(r resolver.Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithStateHandler registers a handler for session state changes.
func WithStateHandler(h StateHandler) Option {
	return func(c *Client) {
		c.onState = h
	}
}

// Client runs TestClient sessions for one Config. Each Run creates a fresh
// Session; a Client may be run repeatedly and concurrently.
type Client struct {
	config   Config
	log      logger.Logger
	resolver resolver.Resolver
	onState  StateHandler
}

// NewClient validates config and returns a Client.
//
// Parameters:
//   - config: Remote endpoint, optional bind address and read policy
//   - log: Logger for progress notices; nil discards them
//   - opts: Optional resolver and state handler
//
// Returns:
//   - The Client, or an error wrapping ErrInvalidConfig
func NewClient(config Config, log logger.Logger, opts ...Option) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Client{config: config, log: log}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the validated configuration.
func (c *Client) Config() Config {
	return c.config
}

// Run drives one Session through connect, send, receive and close. It
// returns only after the connection has been closed.
//
// Parameters:
//   - ctx: Cancels the dial and any pending read or write
//
// Returns:
//   - The Result, or a *ConnectionError / *StreamError
func (c *Client) Run(ctx context.Context) (*Result, error) {
	s := newSession(c.config, c.log, c.onState)

	dialAddr := c.config.Address()
	if c.resolver != nil {
		ip, err := c.resolver.Lookup(ctx, c.config.Host)
		if err != nil {
			s.setState(Connecting, nil)
			return nil, s.fail(&ConnectionError{Addr: dialAddr, LocalAddr: c.config.LocalAddr, Err: err})
		}

		dialAddr = net.JoinHostPort(ip, strconv.Itoa(c.config.Port))
	}

	res, err := s.run(ctx, dialAddr)
	if c.resolver != nil && errors.Is(err, ErrConnection) {
		// The cached address may be stale; the next run looks it up again.
		c.resolver.Forget(c.config.Host)
	}

	return res, err
}
