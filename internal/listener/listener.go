package listener

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"samplerelay/internal/sample"
	"samplerelay/internal/telemetry"
)

var (
	// ErrClosed is returned for work handed to a listener after Teardown.
	ErrClosed  = errors.New("listener: closed")
	ErrNilSink = errors.New("listener: nil sink")
)

// Outcome is what happened to one sample of a batch.
type Outcome int

const (
	Submitted Outcome = iota
	Filtered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Submitted:
		return "submitted"
	case Filtered:
		return "filtered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports the fate of the sample at Index in the batch.
type Result struct {
	Index    int
	Label    string
	Outcome  Outcome
	RecordID string
	Err      error
}

// Recorder is notified of every processed sample.
type Recorder interface {
	Observe(s *sample.Sample, outcome Outcome)
}

// DefaultMatchTimeout bounds a regex filter evaluation when Options does
// not say otherwise. A sample whose label times out fails on its own.
const DefaultMatchTimeout = 100 * time.Millisecond

type Options struct {
	Logger *logrus.Entry

	// Now stamps TestStartTime. Defaults to time.Now.
	Now func() time.Time

	// MatchTimeout bounds one regex filter evaluation. Zero uses
	// DefaultMatchTimeout; a negative value disables the bound.
	MatchTimeout time.Duration

	// Registerer receives the listener metrics. nil uses the default
	// Prometheus registry.
	Registerer prometheus.Registerer

	Recorder Recorder
}

// Listener turns batches of samples into telemetry records.
//
// Process may be called from several goroutines at once. Teardown waits for
// in-flight batches before releasing the filter.
type Listener struct {
	cfg     Config
	filter  *Filter
	builder *Builder
	sink    telemetry.Sink

	log      *logrus.Entry
	metrics  *metrics
	recorder Recorder

	mu     sync.RWMutex
	closed bool
}

// Setup resolves params and prepares a listener delivering to sink. Only a
// sampler filter that does not compile makes it fail.
func Setup(params Params, sink telemetry.Sink, opts Options) (*Listener, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	log := opts.Logger
	if log == nil {
		log = logrusNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	cfg := ParseConfig(params, log)
	cfg.TestStartTime = now()

	timeout := opts.MatchTimeout
	switch {
	case timeout == 0:
		timeout = DefaultMatchTimeout
	case timeout < 0:
		timeout = 0
	}
	filter, err := NewFilter(cfg.SamplersList, cfg.UseRegex, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "setup listener")
	}
	builder, err := NewBuilder(&cfg, log)
	if err != nil {
		return nil, errors.Wrap(err, "setup listener")
	}

	m := metricsSingleton()
	if opts.Registerer != nil {
		m = newMetrics(opts.Registerer)
	}

	l := &Listener{
		cfg:      cfg,
		filter:   filter,
		builder:  builder,
		sink:     sink,
		log:      log.WithField("test_name", cfg.TestName),
		metrics:  m,
		recorder: opts.Recorder,
	}
	l.log.WithFields(logrus.Fields{
		"samplers_list": cfg.SamplersList,
		"use_regex":     cfg.UseRegex,
		"match_timeout": timeout,
		"headers":       len(cfg.ResponseHeaders),
		"custom_props":  len(cfg.CustomProperties),
	}).Info("listener ready")
	return l, nil
}

// Config returns the resolved configuration.
func (l *Listener) Config() Config {
	return l.cfg
}

// Process handles batch in order and returns one result per sample. Faults
// are confined to the sample that caused them.
func (l *Listener) Process(batch []*sample.Sample) []Result {
	results := make([]Result, len(batch))

	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, s := range batch {
		if l.closed {
			results[i] = Result{Index: i, Outcome: Failed, Err: ErrClosed}
			if s != nil {
				results[i].Label = s.Label
			}
			continue
		}

		res := l.processOne(i, s)
		if res.Err != nil {
			l.log.WithError(res.Err).WithFields(logrus.Fields{
				"index": i,
				"label": res.Label,
			}).Error("failed to process sample, skipping")
		}
		l.metrics.observe(res.Outcome)
		if l.recorder != nil && s != nil {
			l.recorder.Observe(s, res.Outcome)
		}
		results[i] = res
	}
	return results
}

func (l *Listener) processOne(i int, s *sample.Sample) (res Result) {
	res = Result{Index: i, Outcome: Failed}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Failed
			res.RecordID = ""
			res.Err = errors.Errorf("panic while processing sample: %v", r)
		}
	}()

	if s == nil {
		res.Err = ErrNilSample
		return res
	}
	res.Label = s.Label

	ok, err := l.filter.Allow(s.Label)
	if err != nil {
		res.Err = errors.Wrap(err, "filter sample")
		return res
	}
	if !ok {
		res.Outcome = Filtered
		return res
	}

	start := time.Now()
	rec, err := l.builder.Build(s)
	l.metrics.buildSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		res.Err = errors.Wrap(err, "build record")
		return res
	}

	if err := l.sink.Submit(rec); err != nil {
		res.Err = errors.Wrap(err, "submit record")
		return res
	}
	res.Outcome = Submitted
	res.RecordID = rec.ID
	return res
}

// Teardown stops accepting samples, clears the filter and flushes the sink.
// A second call returns ErrClosed.
func (l *Listener) Teardown(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.filter.Reset()
	l.mu.Unlock()

	l.log.Info("tearing down listener, flushing sink")
	if err := l.sink.Flush(ctx); err != nil {
		return errors.Wrap(err, "flush sink")
	}
	return nil
}

// Counts tallies results by outcome.
type Counts struct {
	Submitted int
	Filtered  int
	Failed    int
}

func (c *Counts) Add(results []Result) {
	for _, r := range results {
		switch r.Outcome {
		case Submitted:
			c.Submitted++
		case Filtered:
			c.Filtered++
		case Failed:
			c.Failed++
		}
	}
}

func (c Counts) Total() int {
	return c.Submitted + c.Filtered + c.Failed
}

// Summarize is a convenience wrapper around Counts.Add.
func Summarize(results []Result) Counts {
	var c Counts
	c.Add(results)
	return c
}
