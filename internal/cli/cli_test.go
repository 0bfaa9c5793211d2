package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"samplerelay/internal/runner"
	"samplerelay/internal/stats"
)

func TestProgressBar(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[----]", ProgressBar(0, 4))
	assert.Equal(t, "[██--]", ProgressBar(0.5, 4))
	assert.Equal(t, "[████]", ProgressBar(3, 4))
	assert.Equal(t, "[----]", ProgressBar(-1, 4))
}

func TestProgressLine(t *testing.T) {
	t.Parallel()

	snap := stats.Snapshot{Samples: 10, Submitted: 7, Filtered: 3, Uptime: 5 * time.Second, Rate: 2}
	line := ProgressLine(snap, 10*time.Second)
	assert.Contains(t, line, " 50%")
	assert.Contains(t, line, "Sent: 7")
	assert.Contains(t, line, "Filtered: 3")

	assert.NotContains(t, ProgressLine(snap, 0), "%")

	snap.Uptime = 11 * time.Second
	snap.Inflight = 4
	assert.Contains(t, ProgressLine(snap, 10*time.Second), "Draining: 4")
}

func TestMonitor_StopsWhenUpdatesClose(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ch := make(chan stats.Snapshot, 2)
	ch <- stats.Snapshot{Samples: 1}
	ch <- stats.Snapshot{Samples: 2}
	close(ch)

	Monitor(context.Background(), &buf, 0, ch)
	assert.Contains(t, buf.String(), "Samples: 2")
}

func TestPrintHeaderAndSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cfg := runner.Config{
		URL: "http://localhost:8080/fast", Method: "GET", TargetRPS: 5, SteadyDur: 3,
		TimeoutSec: 10, BatchSize: 100, FlushInterval: time.Second,
		Headers: map[string]string{"X-B": "1", "X-A": "2"},
	}
	PrintHeader(&buf, "starting run", RunFields(cfg, "jsonl"))
	out := buf.String()
	assert.Contains(t, out, "STARTING RUN")
	assert.Contains(t, out, "Target RPS : 5")
	assert.Contains(t, out, "X-A, X-B")

	buf.Reset()
	snap := stats.Snapshot{Samples: 4, Success: 3, Fail: 1, Submitted: 2, Filtered: 2, RowErrors: 1, P99Ms: 12.5, ErrorRate: 25}
	PrintSummary(&buf, snap, 2*time.Second)
	out = buf.String()
	assert.Contains(t, out, "Failures     : 1 (25.00%)")
	assert.Contains(t, out, "Row errors     : 1")
	assert.Contains(t, out, "2.00 samples/s")
	assert.Contains(t, out, "P99  : 12.50")
}

func TestSummary(t *testing.T) {
	t.Parallel()

	sum := Summary(stats.Snapshot{Samples: 9, Submitted: 8, Failed: 1, P50Ms: 3}, 1500*time.Millisecond)
	assert.Equal(t, uint64(9), sum.Samples)
	assert.Equal(t, uint64(1), sum.Failed)
	assert.Equal(t, 3.0, sum.P50Ms)
	assert.Equal(t, "1.5s", sum.Duration)
}
