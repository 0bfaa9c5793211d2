package runner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptrace"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"samplerelay/internal/sample"
	"samplerelay/internal/stats"
)

// StatsUpdateChan carries periodic snapshots to a UI.
type StatsUpdateChan chan stats.Snapshot

type Option func(*Runner)

func WithStats(s *stats.Stats) Option { return func(r *Runner) { r.Stats = s } }

func WithUpdates(ch StatsUpdateChan) Option { return func(r *Runner) { r.Updates = ch } }

func WithLogger(l *logrus.Entry) Option { return func(r *Runner) { r.log = l } }

func WithClient(c *http.Client) Option { return func(r *Runner) { r.Client = c } }

// KeepSamples retains every sample for a later JTL export.
func KeepSamples() Option { return func(r *Runner) { r.keep = true } }

// Runner drives HTTP load against one endpoint and turns every request into
// a sample.Sample, handed on in batches.
type Runner struct {
	Cfg     Config
	Stats   *stats.Stats
	Client  *http.Client
	Updates StatsUpdateChan

	batches *batcher
	body    *bodyTemplate
	log     *logrus.Entry

	activeThreads atomic.Int64
	threadSeq     atomic.Int64
	requestSeq    atomic.Int64

	mu      sync.Mutex
	keep    bool
	samples []*sample.Sample
}

func New(cfg Config, handle BatchHandler, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handle == nil {
		handle = func([]*sample.Sample) {}
	}

	r := &Runner{Cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.Stats == nil {
		r.Stats = stats.New()
	}
	if r.Updates == nil {
		r.Updates = make(StatsUpdateChan, 10)
	}
	if r.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		r.log = logrus.NewEntry(l)
	}
	if r.Client == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = 2000
		t.MaxConnsPerHost = 2000
		t.MaxIdleConnsPerHost = 2000
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		r.Client = &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
			Transport: t,
		}
	}

	if cfg.Body != "" {
		body, err := parseBody(cfg.Body)
		if err != nil {
			return nil, err
		}
		r.body = body
	}
	r.batches = newBatcher(cfg.BatchSize, handle)
	return r, nil
}

// StartTickLoop pushes a stats snapshot every interval until ctx is done.
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) sendUpdate() {
	select {
	case r.Updates <- r.Stats.Snapshot():
	default:
		// UI is behind; drop
	}
}

// Run generates load for the configured duration, or until ctx is done,
// then hands off the last partial batch.
func (r *Runner) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.StartTickLoop(loopCtx, 200*time.Millisecond)
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		r.batches.flushEvery(loopCtx, r.Cfg.FlushInterval)
	}()

	r.log.WithFields(logrus.Fields{
		"url":      r.Cfg.URL,
		"mode":     r.Cfg.Mode,
		"duration": r.Cfg.TotalDuration(),
	}).Info("starting load")

	if r.Cfg.Mode == ModeUsers {
		r.runUsers(ctx)
	} else {
		r.runRPS(ctx)
	}

	cancel()
	<-flushed
	r.batches.flush()
	r.sendUpdate()
}

func (r *Runner) runUsers(ctx context.Context) {
	var wg sync.WaitGroup
	start := time.Now()
	totalDur := r.Cfg.TotalDuration()

	for i := 1; i <= r.Cfg.NumUsers; i++ {
		wg.Add(1)
		thread := fmt.Sprintf("%s 1-%d", r.Cfg.ThreadGroup, i)
		userID := uuid.NewString()
		go func() {
			defer wg.Done()
			r.activeThreads.Add(1)
			defer r.activeThreads.Add(-1)
			for {
				if ctx.Err() != nil || time.Since(start) > totalDur {
					return
				}
				r.executeRequest(ctx, time.Now(), thread, userID)
				if r.Cfg.ThinkTime > 0 {
					select {
					case <-time.After(r.Cfg.ThinkTime):
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func (r *Runner) runRPS(ctx context.Context) {
	start := time.Now()
	totalDur := r.Cfg.TotalDuration()

	var wg sync.WaitGroup
	defer wg.Wait()
	nextRequestTime := start

	for {
		if ctx.Err() != nil {
			return
		}
		now := time.Now()
		elapsed := now.Sub(start).Seconds()
		if elapsed >= totalDur.Seconds() {
			return
		}

		targetRPS := r.currentRPS(elapsed)
		if targetRPS <= 0.1 {
			time.Sleep(100 * time.Millisecond)
			nextRequestTime = time.Now()
			continue
		}
		period := time.Duration(float64(time.Second) / targetRPS)

		if nextRequestTime.After(now) {
			select {
			case <-time.After(nextRequestTime.Sub(now)):
			case <-ctx.Done():
				return
			}
		}

		wg.Add(1)
		scheduled := nextRequestTime
		thread := fmt.Sprintf("%s 1-%d", r.Cfg.ThreadGroup, r.threadSeq.Add(1))
		go func() {
			defer wg.Done()
			r.activeThreads.Add(1)
			defer r.activeThreads.Add(-1)
			r.executeRequest(ctx, scheduled, thread, uuid.NewString())
		}()

		nextRequestTime = nextRequestTime.Add(period)
		if time.Since(nextRequestTime) > time.Second {
			nextRequestTime = time.Now()
		}
	}
}

func (r *Runner) currentRPS(elapsedSec float64) float64 {
	cfg := r.Cfg
	if elapsedSec < float64(cfg.RampUp) {
		return float64(cfg.TargetRPS) * (elapsedSec / float64(cfg.RampUp))
	}
	steadyEnd := float64(cfg.RampUp + cfg.SteadyDur)
	if elapsedSec < steadyEnd {
		return float64(cfg.TargetRPS)
	}
	totalDur := float64(cfg.RampUp + cfg.SteadyDur + cfg.RampDown)
	if elapsedSec < totalDur {
		remaining := totalDur - elapsedSec
		return float64(cfg.TargetRPS) * (remaining / float64(cfg.RampDown))
	}
	return 0
}

// exchange is what one request produced, before it becomes a sample.
type exchange struct {
	scheduled   time.Time
	start       time.Time
	end         time.Time
	connect     time.Duration
	firstByte   time.Time
	method      string
	url         string
	requestBody string
	resp        *http.Response
	body        []byte
	err         error
	thread      string
}

func (r *Runner) executeRequest(ctx context.Context, scheduled time.Time, thread, userID string) {
	r.Stats.Inflight.Add(1)
	defer r.Stats.Inflight.Add(-1)

	ex := exchange{
		scheduled: scheduled,
		method:    r.Cfg.Method,
		url:       r.Cfg.URL,
		thread:    thread,
	}

	if r.body != nil {
		body, err := r.body.render(BodyVars{
			Label:      r.label(),
			ThreadName: thread,
			UserID:     userID,
			RequestID:  uuid.NewString(),
			Seq:        r.requestSeq.Add(1),
			Time:       time.Now(),
		})
		if err != nil {
			r.log.WithError(err).Warn("body template failed, sending raw body")
			body = r.Cfg.Body
		}
		ex.requestBody = body
	}

	// trace hooks may fire on transport goroutines
	var connectStart, connectNs, firstByte atomic.Int64
	trace := &httptrace.ClientTrace{
		ConnectStart: func(string, string) { connectStart.Store(time.Now().UnixNano()) },
		ConnectDone: func(string, string, error) {
			if start := connectStart.Load(); start > 0 {
				connectNs.Store(time.Now().UnixNano() - start)
			}
		},
		GotFirstResponseByte: func() { firstByte.Store(time.Now().UnixNano()) },
	}

	ex.start = time.Now()
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), ex.method, ex.url, strings.NewReader(ex.requestBody))
	if err == nil {
		for k, v := range r.Cfg.Headers {
			req.Header.Set(k, v)
		}
		ex.resp, err = r.Client.Do(req)
	}
	if err == nil {
		ex.body, err = io.ReadAll(io.LimitReader(ex.resp.Body, r.Cfg.MaxBody))
		io.Copy(io.Discard, ex.resp.Body)
		ex.resp.Body.Close()
	}
	ex.err = err
	ex.end = time.Now()
	if ns := firstByte.Load(); ns > 0 {
		ex.firstByte = time.Unix(0, ns)
	}
	ex.connect = time.Duration(connectNs.Load())

	s := r.toSample(ex)
	wait := ex.start.Sub(scheduled)
	if wait < 0 {
		wait = 0
	}
	r.Stats.QueueWait.Record(wait)

	if r.keep {
		r.mu.Lock()
		r.samples = append(r.samples, s)
		r.mu.Unlock()
	}
	r.batches.add(s)
}

func (r *Runner) toSample(ex exchange) *sample.Sample {
	active := int(r.activeThreads.Load())
	s := &sample.Sample{
		Label:        r.label(),
		TimeStamp:    ex.start,
		StartTime:    ex.start,
		EndTime:      ex.end,
		Elapsed:      ex.end.Sub(ex.start),
		ConnectTime:  ex.connect,
		SentBytes:    int64(len(ex.requestBody)),
		SampleCount:  1,
		ThreadName:   ex.thread,
		GroupThreads: active,
		AllThreads:   active,
		DataType:     sample.DataTypeText,
		SamplerData:  sample.WithSamplerData(samplerData(ex)),
	}
	if !ex.firstByte.IsZero() {
		s.Latency = ex.firstByte.Sub(ex.start)
	}
	if ex.resp != nil && ex.resp.Request != nil {
		s.URL = ex.resp.Request.URL
	} else if req, err := http.NewRequest(ex.method, ex.url, nil); err == nil {
		s.URL = req.URL
	}

	if ex.resp == nil {
		s.ResponseCode = "Non HTTP response code: " + errorKind(ex.err)
		s.ResponseMessage = errorMessage(ex.err)
		s.ErrorCount = 1
		return s
	}

	s.ResponseCode = strconv.Itoa(ex.resp.StatusCode)
	s.ResponseMessage = strings.TrimSpace(strings.TrimPrefix(ex.resp.Status, s.ResponseCode))
	s.ResponseHeaders = rawHeaders(ex.resp)
	s.ResponseData = ex.body
	s.BodySize = int64(len(ex.body))
	s.Bytes = s.BodySize + int64(len(s.ResponseHeaders))
	s.Success = ex.err == nil && ex.resp.StatusCode >= 200 && ex.resp.StatusCode < 400
	if !isText(ex.resp.Header.Get("Content-Type")) {
		s.DataType = sample.DataTypeBinary
	}
	if !s.Success {
		s.ErrorCount = 1
	}
	return s
}

func (r *Runner) label() string {
	if r.Cfg.Label != "" {
		return r.Cfg.Label
	}
	path := "/"
	if req, err := http.NewRequest(r.Cfg.Method, r.Cfg.URL, nil); err == nil && req.URL.Path != "" {
		path = req.URL.Path
	}
	return r.Cfg.Method + " " + path
}

// Samples returns everything produced so far when KeepSamples was set.
func (r *Runner) Samples() []*sample.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sample.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

func samplerData(ex exchange) string {
	var b strings.Builder
	b.WriteString(ex.method)
	b.WriteByte(' ')
	b.WriteString(ex.url)
	b.WriteString("\n")
	if ex.requestBody != "" {
		b.WriteString("\n")
		b.WriteString(ex.requestBody)
	}
	return b.String()
}

// rawHeaders renders the status line and headers one per line, the way
// the load engine stores them.
func rawHeaders(resp *http.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", resp.Proto, resp.Status)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}
	return b.String()
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mt, "text/"),
		strings.HasSuffix(mt, "json"),
		strings.HasSuffix(mt, "xml"),
		mt == "application/x-www-form-urlencoded",
		mt == "application/javascript":
		return true
	}
	return false
}

func errorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	cause := errors.Cause(err)
	if ue, ok := cause.(interface{ Unwrap() error }); ok && ue.Unwrap() != nil {
		cause = ue.Unwrap()
	}
	return fmt.Sprintf("%T", cause)
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
