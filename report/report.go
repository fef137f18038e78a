// Package report delivers session results to their audience: a console
// line for the operator, and optionally a Redis list for collecting runs
// from several machines.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/tcptester/testclient"
)

// Reporter publishes one session result.
type Reporter interface {
	// Report publishes res.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - res: The result to publish; never nil
	//
	// Returns:
	//   - An error if publishing failed
	Report(ctx context.Context, res *testclient.Result) error
}

// Line renders res the way the tester prints it:
//
//	Received: [ACK] (plain bytes: ["ACK"])
//
// When the response is not text only the raw form is shown.
func Line(res *testclient.Result) string {
	if !res.Decoded {
		return fmt.Sprintf("Received: (plain bytes: [%q])", res.Raw)
	}

	return fmt.Sprintf("Received: [%s] (plain bytes: [%q])", res.Text, res.Raw)
}

// ConsoleReporter writes Line(res) to an io.Writer. Safe for concurrent use.
type ConsoleReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleReporter returns a ConsoleReporter writing to out.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

// Report implements Reporter.
func (c *ConsoleReporter) Report(_ context.Context, res *testclient.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "[%s] %s\n", res.Label, Line(res))
	return err
}

// Record is the JSON document stored for one result.
type Record struct {
	RunID      string  `json:"run_id,omitempty"`
	Label      string  `json:"label"`
	Policy     string  `json:"policy"`
	LocalAddr  string  `json:"local_addr"`
	RemoteAddr string  `json:"remote_addr"`
	Raw        []byte  `json:"raw"`
	Text       *string `json:"text,omitempty"`
	BytesSent  int     `json:"bytes_sent"`
	ElapsedMs  float64 `json:"elapsed_ms"`
	At         string  `json:"at"`
}

// NewRecord converts res into a Record stamped with at.
func NewRecord(runID string, res *testclient.Result, at time.Time) Record {
	r := Record{
		RunID:      runID,
		Label:      res.Label,
		Policy:     res.Policy.String(),
		LocalAddr:  res.LocalAddr,
		RemoteAddr: res.RemoteAddr,
		Raw:        res.Raw,
		BytesSent:  res.BytesSent,
		ElapsedMs:  float64(res.Elapsed) / float64(time.Millisecond),
		At:         at.UTC().Format(time.RFC3339Nano),
	}

	if res.Decoded {
		text := res.Text
		r.Text = &text
	}

	return r
}

// RedisReporter pushes each result as a JSON Record onto a Redis list and
// refreshes the list TTL.
type RedisReporter struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	runID  string
	now    func() time.Time
}

// NewRedisReporter returns a reporter appending to the list at key. A ttl
// of 0 keeps the list forever.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	rep := NewRedisReporter(client, "tcptester:results", time.Hour)
func NewRedisReporter(client *redis.Client, key string, ttl time.Duration) *RedisReporter {
	return &RedisReporter{client: client, key: key, ttl: ttl, now: time.Now}
}

// WithRunID returns a copy of r that stamps records with runID.
func (r *RedisReporter) WithRunID(runID string) *RedisReporter {
	cp := *r
	cp.runID = runID
	return &cp
}

// Report implements Reporter.
func (r *RedisReporter) Report(ctx context.Context, res *testclient.Result) error {
	data, err := json.Marshal(NewRecord(r.runID, res, r.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.key, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push error: %w", err)
	}

	return nil
}

// Multi fans a result out to several reporters, stopping at the first
// error.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, res *testclient.Result) error {
	for _, r := range m {
		if err := r.Report(ctx, res); err != nil {
			return err
		}
	}

	return nil
}
