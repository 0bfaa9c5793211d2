package stats

import (
	"sync/atomic"
	"time"

	"samplerelay/internal/listener"
	"samplerelay/internal/sample"
)

// Stats aggregates what the relay saw during one replay or run. It is
// safe for concurrent use and satisfies listener.Recorder.
type Stats struct {
	Samples atomic.Uint64
	Success atomic.Uint64
	Fail    atomic.Uint64
	Bytes   atomic.Uint64

	Submitted atomic.Uint64
	Filtered  atomic.Uint64
	Failed    atomic.Uint64

	// RowErrors counts input rows that never became samples.
	RowErrors atomic.Uint64

	Inflight atomic.Int64

	// Elapsed of every observed sample.
	Elapsed *SafeHistogram
	// QueueWait is the runner's schedule lag; empty for replays.
	QueueWait *SafeHistogram

	started time.Time
}

func New() *Stats {
	return &Stats{
		Elapsed:   NewSafeHistogram(),
		QueueWait: NewSafeHistogram(),
		started:   time.Now(),
	}
}

// Observe records one sample and what the listener did with it.
func (s *Stats) Observe(smp *sample.Sample, outcome listener.Outcome) {
	s.Samples.Add(1)
	if smp.Success {
		s.Success.Add(1)
	} else {
		s.Fail.Add(1)
	}
	if smp.Bytes > 0 {
		s.Bytes.Add(uint64(smp.Bytes))
	}
	s.Elapsed.Record(smp.Elapsed)

	switch outcome {
	case listener.Submitted:
		s.Submitted.Add(1)
	case listener.Filtered:
		s.Filtered.Add(1)
	case listener.Failed:
		s.Failed.Add(1)
	}
}

func (s *Stats) ErrorRate() float64 {
	n := s.Samples.Load()
	if n == 0 {
		return 0
	}
	return float64(s.Fail.Load()) / float64(n) * 100
}

// Snapshot is a point-in-time copy suitable for rendering.
type Snapshot struct {
	Samples   uint64
	Success   uint64
	Fail      uint64
	Bytes     uint64
	Submitted uint64
	Filtered  uint64
	Failed    uint64
	RowErrors uint64
	Inflight  int64

	MeanMs float64
	P50Ms  float64
	P90Ms  float64
	P99Ms  float64
	MaxMs  int64

	AvgQueueWaitMs float64
	ErrorRate      float64
	Rate           float64
	Uptime         time.Duration
}

func (s *Stats) Snapshot() Snapshot {
	up := time.Since(s.started)
	snap := Snapshot{
		Samples:        s.Samples.Load(),
		Success:        s.Success.Load(),
		Fail:           s.Fail.Load(),
		Bytes:          s.Bytes.Load(),
		Submitted:      s.Submitted.Load(),
		Filtered:       s.Filtered.Load(),
		Failed:         s.Failed.Load(),
		RowErrors:      s.RowErrors.Load(),
		Inflight:       s.Inflight.Load(),
		MeanMs:         s.Elapsed.MeanMs(),
		P50Ms:          s.Elapsed.QuantileMs(50),
		P90Ms:          s.Elapsed.QuantileMs(90),
		P99Ms:          s.Elapsed.QuantileMs(99),
		MaxMs:          s.Elapsed.MaxMs(),
		AvgQueueWaitMs: s.QueueWait.MeanMs(),
		ErrorRate:      s.ErrorRate(),
		Uptime:         up,
	}
	if secs := up.Seconds(); secs > 0 {
		snap.Rate = float64(snap.Samples) / secs
	}
	return snap
}
