// Package driver launches several greeting sessions concurrently against
// one endpoint and waits for all of them to finish.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/tcptester/logger"
	"github.com/cyberinferno/tcptester/registry"
	"github.com/cyberinferno/tcptester/resolver"
	"github.com/cyberinferno/tcptester/testclient"
)

var (
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid driver config")
	// ErrBusy is returned for a label that another, overlapping Run is
	// still driving.
	ErrBusy = errors.New("label busy")
)

// FailurePolicy decides what one failing session does to its siblings.
type FailurePolicy int

const (
	FailFast FailurePolicy = iota // First failure cancels the other sessions and is returned
	Isolated                      // Every session runs to completion; failures are aggregated
)

// String returns the configuration name of the policy.
func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "failfast"
	case Isolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy converts "failfast" or "isolated" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "failfast", "fail-fast", "":
		return FailFast, nil
	case "isolated":
		return Isolated, nil
	default:
		return 0, fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, s)
	}
}

// Config holds the settings shared by every session of a run.
type Config struct {
	Host string
	Port int
	// Labels are the local-port labels, one session each.
	Labels []int
	// BindLabels makes each session bind to LocalHost:label. Otherwise the
	// labels only tag output.
	BindLabels bool
	// LocalHost is the bind host used with BindLabels.
	LocalHost      string
	Policy         testclient.ReadPolicy
	MaxBytes       int
	ConnectTimeout time.Duration
	Failure        FailurePolicy
}

// Outcome is the terminal state of one session.
type Outcome struct {
	Label  int
	Result *testclient.Result
	Err    error
}

// Report collects the outcomes of one run in label order.
type Report struct {
	RunID    string
	Outcomes []Outcome
}

// Failed returns the outcomes that ended in an error.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}

	return out
}

// Option customizes a Driver.
type Option func(*Driver)

// WithResolver shares r between all sessions of a run.
func WithResolver(r resolver.Resolver) Option {
	return func(d *Driver) {
		d.resolver = r
	}
}

// WithStateHandler forwards every session state change to h.
func WithStateHandler(h testclient.StateHandler) Option {
	return func(d *Driver) {
		d.onState = h
	}
}

// Driver runs one TestClient per label. Run may be called again once it
// returned. Overlapping Runs do not share a label: a session whose label is
// still running in another Run fails with ErrBusy.
type Driver struct {
	config   Config
	log      logger.Logger
	resolver resolver.Resolver
	onState  testclient.StateHandler
	active   *registry.Registry[int, *testclient.Client]
}

// New validates config and returns a Driver.
//
// Parameters:
//   - config: Endpoint, labels and policies
//   - log: Logger for progress; nil discards it
//   - opts: Optional shared resolver and state handler
//
// Returns:
//   - The Driver, or an error wrapping ErrInvalidConfig
func New(config Config, log logger.Logger, opts ...Option) (*Driver, error) {
	if len(config.Labels) == 0 {
		return nil, fmt.Errorf("%w: no local-port labels", ErrInvalidConfig)
	}

	seen := make(map[int]bool, len(config.Labels))
	for _, l := range config.Labels {
		if seen[l] {
			return nil, fmt.Errorf("%w: duplicate label %d", ErrInvalidConfig, l)
		}
		seen[l] = true
	}

	if config.Failure != FailFast && config.Failure != Isolated {
		return nil, fmt.Errorf("%w: unknown failure policy %d", ErrInvalidConfig, config.Failure)
	}

	if config.LocalHost == "" {
		config.LocalHost = "127.0.0.1"
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	d := &Driver{
		config: config,
		log:    log,
		active: registry.New[int, *testclient.Client](),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Active returns how many sessions are still running.
func (d *Driver) Active() int {
	return d.active.Len()
}

func (d *Driver) clientFor(label int, log logger.Logger) (*testclient.Client, error) {
	cfg := testclient.DefaultConfig(d.config.Host, d.config.Port)
	cfg.Label = strconv.Itoa(label)
	cfg.Policy = d.config.Policy
	if d.config.MaxBytes > 0 {
		cfg.MaxBytes = d.config.MaxBytes
	}
	cfg.ConnectTimeout = d.config.ConnectTimeout
	if d.config.BindLabels {
		cfg.LocalAddr = net.JoinHostPort(d.config.LocalHost, strconv.Itoa(label))
	}

	var opts []testclient.Option
	if d.resolver != nil {
		opts = append(opts, testclient.WithResolver(d.resolver))
	}
	if d.onState != nil {
		opts = append(opts, testclient.WithStateHandler(d.onState))
	}

	return testclient.NewClient(cfg, log, opts...)
}

// Run starts every session and returns once all of them reached a
// terminal state. The Report is returned even when err is non-nil.
//
// Under FailFast the first error cancels the remaining sessions and is
// returned. Under Isolated all errors are joined, each prefixed with its
// label.
//
// Parameters:
//   - ctx: Cancels every session of the run
//
// Returns:
//   - The Report with one Outcome per label, in label order
//   - The first error (FailFast) or all errors joined (Isolated)
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:    uuid.NewString(),
		Outcomes: make([]Outcome, len(d.config.Labels)),
	}
	log := d.log.With(logger.Field{Key: "run_id", Value: report.RunID})

	clients := make([]*testclient.Client, len(d.config.Labels))
	for i, label := range d.config.Labels {
		c, err := d.clientFor(label, log)
		if err != nil {
			return report, fmt.Errorf("label %d: %w", label, err)
		}

		clients[i] = c
		report.Outcomes[i].Label = label
	}

	log.Info("launching sessions",
		logger.Field{Key: "sessions", Value: len(clients)},
		logger.Field{Key: "remote", Value: net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))},
		logger.Field{Key: "failure_policy", Value: d.config.Failure.String()})

	var err error
	switch d.config.Failure {
	case Isolated:
		err = d.runIsolated(ctx, clients, report)
	default:
		err = d.runFailFast(ctx, clients, report)
	}

	log.Info("sessions finished",
		logger.Field{Key: "sessions", Value: len(clients)},
		logger.Field{Key: "failed", Value: len(report.Failed())})

	return report, err
}

func (d *Driver) runOne(ctx context.Context, c *testclient.Client, out *Outcome) error {
	if !d.active.StoreNew(out.Label, c) {
		out.Err = fmt.Errorf("%w: label %d already running", ErrBusy, out.Label)
		return out.Err
	}
	defer d.active.Delete(out.Label)

	out.Result, out.Err = c.Run(ctx)
	if out.Err != nil {
		return fmt.Errorf("label %d: %w", out.Label, out.Err)
	}

	return nil
}

func (d *Driver) runFailFast(ctx context.Context, clients []*testclient.Client, report *Report) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, c := range clients {
		g.Go(func() error {
			return d.runOne(gctx, c, &report.Outcomes[i])
		})
	}

	return g.Wait()
}

func (d *Driver) runIsolated(ctx context.Context, clients []*testclient.Client, report *Report) error {
	var wg sync.WaitGroup
	errs := make([]error, len(clients))

	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.runOne(ctx, c, &report.Outcomes[i])
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
