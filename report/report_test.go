package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/tcptester/testclient"
)

func ackResult() *testclient.Result {
	return &testclient.Result{
		Label:      "9999",
		Policy:     testclient.Drain,
		LocalAddr:  "127.0.0.1:9999",
		RemoteAddr: "127.0.0.1:7878",
		Raw:        []byte("ACK"),
		Text:       "ACK",
		Decoded:    true,
		BytesSent:  14,
		Elapsed:    1500 * time.Microsecond,
	}
}

func TestLine(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		assert.Equal(t, `Received: [ACK] (plain bytes: ["ACK"])`, Line(ackResult()))
	})

	t.Run("raw only", func(t *testing.T) {
		res := &testclient.Result{Raw: []byte{0xff, 'A'}}
		assert.Equal(t, `Received: (plain bytes: ["\xffA"])`, Line(res))
	})

	t.Run("empty", func(t *testing.T) {
		res := &testclient.Result{Raw: []byte{}, Decoded: true}
		assert.Equal(t, `Received: [] (plain bytes: [""])`, Line(res))
	})
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf)

	require.NoError(t, r.Report(context.Background(), ackResult()))
	assert.Equal(t, "[9999] Received: [ACK] (plain bytes: [\"ACK\"])\n", buf.String())
}

func TestNewRecord(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	t.Run("decoded", func(t *testing.T) {
		rec := NewRecord("run-1", ackResult(), at)
		data, err := json.Marshal(rec)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "run-1", got["run_id"])
		assert.Equal(t, "ACK", got["text"])
		assert.Equal(t, "QUNL", got["raw"])
		assert.Equal(t, "drain", got["policy"])
		assert.Equal(t, 1.5, got["elapsed_ms"])
		assert.Equal(t, "2026-10-19T12:00:00Z", got["at"])
	})

	t.Run("undecodable has no text", func(t *testing.T) {
		res := ackResult()
		res.Decoded = false
		res.Text = ""

		data, err := json.Marshal(NewRecord("", res, at))
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"text"`)
		assert.NotContains(t, string(data), `"run_id"`)
	})
}

type recordingReporter struct {
	got []*testclient.Result
	err error
}

func (r *recordingReporter) Report(_ context.Context, res *testclient.Result) error {
	r.got = append(r.got, res)
	return r.err
}

func TestMulti(t *testing.T) {
	first := &recordingReporter{}
	failing := &recordingReporter{err: assert.AnError}
	last := &recordingReporter{}

	err := Multi{first, failing, last}.Report(context.Background(), ackResult())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, first.got, 1)
	assert.Len(t, failing.got, 1)
	assert.Empty(t, last.got)
}

func TestRedisReporter_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	r := NewRedisReporter(client, "tcptester:results", time.Hour).WithRunID("run-1")
	assert.Equal(t, "run-1", r.runID)

	err := r.Report(context.Background(), ackResult())
	assert.ErrorContains(t, err, "redis push error")
}

func TestRedisReporter_PushesRecords(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		wantTTL time.Duration
	}{
		{name: "with ttl", ttl: time.Hour, wantTTL: time.Hour},
		{name: "without ttl", ttl: 0, wantTTL: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			defer client.Close()

			at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
			r := NewRedisReporter(client, "tcptester:results", tt.ttl).WithRunID("run-7")
			r.now = func() time.Time { return at }

			ctx := context.Background()
			require.NoError(t, r.Report(ctx, ackResult()))

			second := ackResult()
			second.Label = "9001"
			require.NoError(t, r.Report(ctx, second))

			items, err := client.LRange(ctx, "tcptester:results", 0, -1).Result()
			require.NoError(t, err)
			require.Len(t, items, 2)

			var first Record
			require.NoError(t, json.Unmarshal([]byte(items[0]), &first))
			assert.Equal(t, "run-7", first.RunID)
			assert.Equal(t, "9999", first.Label)
			assert.Equal(t, []byte("ACK"), first.Raw)
			require.NotNil(t, first.Text)
			assert.Equal(t, "ACK", *first.Text)
			assert.Equal(t, "2026-10-19T12:00:00Z", first.At)

			var last Record
			require.NoError(t, json.Unmarshal([]byte(items[1]), &last))
			assert.Equal(t, "9001", last.Label)

			assert.Equal(t, tt.wantTTL, mr.TTL("tcptester:results"))
		})
	}
}
