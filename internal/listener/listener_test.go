package listener

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"samplerelay/internal/sample"
	"samplerelay/internal/telemetry"
)

type failingSink struct {
	submitErr error
	flushErr  error
}

func (f failingSink) Submit(*telemetry.Record) error { return f.submitErr }
func (f failingSink) Flush(context.Context) error { return f.flushErr }

type panickingSink struct{}

func (panickingSink) Submit(*telemetry.Record) error { panic("boom") }
func (panickingSink) Flush(context.Context) error { return nil }

type countingRecorder struct {
	mu   sync.Mutex
	seen map[Outcome]int
}

func (c *countingRecorder) Observe(_ *sample.Sample, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[Outcome]int{}
	}
	c.seen[o]++
}

func setup(t *testing.T, params Params, sink telemetry.Sink) *Listener {
	t.Helper()
	l, err := Setup(params, sink, Options{
		Registerer: prometheus.NewRegistry(),
		Now:        func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	require.NoError(t, err)
	return l
}

func labelled(label string, success bool) *sample.Sample {
	now := time.Now()
	return &sample.Sample{
		Label:       label,
		Success:     success,
		TimeStamp:   now,
		StartTime:   now,
		EndTime:     now,
		SampleCount: 1,
		DataType:    sample.DataTypeText,
	}
}

func TestListener_FailedSampleWithLongSamplerDataIsTruncated(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, Params{{Name: KeyLogSampleData, Value: "OnFailure"}}, sink)

	s := labelled("checkout", false)
	s.SamplerData = sample.WithSamplerData(strings.Repeat("a", 2000))

	results := l.Process([]*sample.Sample{s})
	require.Len(t, results, 1)
	assert.Equal(t, Submitted, results[0].Outcome)

	recs := sink.Records()
	require.Len(t, recs, 1)
	got := recs[0].Properties[KeySampleData]
	assert.True(t, strings.HasSuffix(got, TruncatedMarker))
	assert.Len(t, got, MaxDataLength+len(TruncatedMarker))
	assert.Equal(t, recs[0].ID, results[0].RecordID)
}

func TestListener_ExactAllowListExcludesOtherLabels(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, Params{{Name: KeySamplersList, Value: "A;B"}}, sink)

	results := l.Process([]*sample.Sample{labelled("C", true)})
	assert.Equal(t, Filtered, results[0].Outcome)
	assert.NoError(t, results[0].Err)
	assert.Empty(t, sink.Records())
}

func TestListener_RegexAllowListIncludesFullMatch(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, Params{
		{Name: KeySamplersList, Value: "A.*"},
		{Name: KeyUseRegexForSamplerList, Value: "TRUE"},
	}, sink)

	results := l.Process([]*sample.Sample{labelled("ABC", true), labelled("xABC", true)})
	assert.Equal(t, Submitted, results[0].Outcome)
	assert.Equal(t, Filtered, results[1].Outcome)
	assert.Len(t, sink.Records(), 1)
}

func TestListener_NeverPolicyDropsResponseData(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, Params{{Name: KeyLogResponseData, Value: "Never"}}, sink)

	ok := labelled("a", true)
	ok.ResponseData = []byte("fine")
	bad := labelled("b", false)
	bad.ResponseData = []byte("broken")
	l.Process([]*sample.Sample{ok, bad})

	recs := sink.Records()
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.NotContains(t, rec.Properties, KeyResponseData)
	}
}

func TestListener_BadSampleDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	log, buf := capturingLogger()
	sink := telemetry.NewMemorySink()
	l, err := Setup(nil, sink, Options{Logger: log, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)

	results := l.Process([]*sample.Sample{nil, labelled("good", true)})
	require.Len(t, results, 2)

	assert.Equal(t, Failed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, ErrNilSample)
	assert.Equal(t, Submitted, results[1].Outcome)
	assert.Len(t, sink.Records(), 1)

	c := Summarize(results)
	assert.Equal(t, Counts{Submitted: 1, Failed: 1}, c)
	assert.Equal(t, 2, c.Total())

	var failures []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "failed to process sample") {
			failures = append(failures, line)
		}
	}
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "index=0")
	assert.Contains(t, failures[0], "level=error")
}

func TestListener_SlowRegexFailsOnlyThatSample(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l, err := Setup(Params{
		{Name: KeySamplersList, Value: "(a+)+b"},
		{Name: KeyUseRegexForSamplerList, Value: "true"},
	}, sink, Options{Registerer: prometheus.NewRegistry(), MatchTimeout: 5 * time.Millisecond})
	require.NoError(t, err)

	results := l.Process([]*sample.Sample{
		labelled(strings.Repeat("a", 26)+"c", true),
		labelled("aab", true),
	})
	require.Len(t, results, 2)

	assert.Equal(t, Failed, results[0].Outcome)
	assert.Error(t, results[0].Err)
	assert.Equal(t, Submitted, results[1].Outcome)
	assert.Len(t, sink.Records(), 1)
}

func TestListener_DefaultMatchTimeoutApplies(t *testing.T) {
	t.Parallel()

	log, buf := capturingLogger()
	_, err := Setup(Params{{Name: KeyUseRegexForSamplerList, Value: "true"}}, telemetry.NewMemorySink(), Options{
		Logger:     log,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "match_timeout="+DefaultMatchTimeout.String())
}

func TestListener_PanicInSinkIsContained(t *testing.T) {
	t.Parallel()

	l := setup(t, nil, panickingSink{})

	var results []Result
	require.NotPanics(t, func() {
		results = l.Process([]*sample.Sample{labelled("a", true), labelled("b", true)})
	})
	for _, r := range results {
		assert.Equal(t, Failed, r.Outcome)
		assert.Contains(t, r.Err.Error(), "boom")
	}
}

func TestListener_SinkRefusalIsPerSample(t *testing.T) {
	t.Parallel()

	refused := errors.New("queue full")
	l := setup(t, nil, failingSink{submitErr: refused})

	results := l.Process([]*sample.Sample{labelled("a", true)})
	assert.Equal(t, Failed, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, refused)
}

func TestListener_InvalidRegexFailsSetup(t *testing.T) {
	t.Parallel()

	_, err := Setup(Params{
		{Name: KeySamplersList, Value: "(unclosed"},
		{Name: KeyUseRegexForSamplerList, Value: "true"},
	}, telemetry.NewMemorySink(), Options{Registerer: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestListener_InvalidRegexIgnoredInSetMode(t *testing.T) {
	t.Parallel()

	l := setup(t, Params{{Name: KeySamplersList, Value: "(unclosed"}}, telemetry.NewMemorySink())
	results := l.Process([]*sample.Sample{labelled("(unclosed", true)})
	assert.Equal(t, Submitted, results[0].Outcome)
}

func TestListener_NilSink(t *testing.T) {
	t.Parallel()

	_, err := Setup(nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNilSink)
}

func TestListener_TeardownFlushesAndCloses(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, Params{{Name: KeySamplersList, Value: "A"}}, sink)
	l.Process([]*sample.Sample{labelled("A", true)})

	require.NoError(t, l.Teardown(context.Background()))
	assert.Equal(t, 1, sink.Flushes())
	assert.Empty(t, l.filter.Entries())

	results := l.Process([]*sample.Sample{labelled("A", true)})
	assert.ErrorIs(t, results[0].Err, ErrClosed)
	assert.Len(t, sink.Records(), 1)

	assert.ErrorIs(t, l.Teardown(context.Background()), ErrClosed)
	assert.Equal(t, 1, sink.Flushes())
}

func TestListener_TeardownReturnsFlushError(t *testing.T) {
	t.Parallel()

	flushErr := errors.New("export timed out")
	l := setup(t, nil, failingSink{flushErr: flushErr})
	assert.ErrorIs(t, l.Teardown(context.Background()), flushErr)
}

func TestListener_ConcurrentProcess(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, Params{{Name: KeySamplersList, Value: "keep"}}, sink)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Process([]*sample.Sample{labelled("keep", true), labelled("drop", true)})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Teardown(context.Background()))

	assert.Len(t, sink.Records(), 8*50)
}

func TestListener_MetricsAndRecorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	rec := &countingRecorder{}
	l, err := Setup(Params{{Name: KeySamplersList, Value: "A"}}, telemetry.NewMemorySink(), Options{
		Registerer: reg,
		Recorder:   rec,
	})
	require.NoError(t, err)

	l.Process([]*sample.Sample{labelled("A", true), labelled("B", true), nil})

	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.samplesTotal.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.samplesTotal.WithLabelValues("filtered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.samplesTotal.WithLabelValues("failed")))

	assert.Equal(t, 1, rec.seen[Submitted])
	assert.Equal(t, 1, rec.seen[Filtered])
	assert.Zero(t, rec.seen[Failed], "nil samples are not passed to the recorder")
}

func TestListener_TestStartTimeIsStamped(t *testing.T) {
	t.Parallel()

	sink := telemetry.NewMemorySink()
	l := setup(t, nil, sink)
	l.Process([]*sample.Sample{labelled("a", true)})

	assert.Equal(t, "1700000000000", sink.Records()[0].Properties[PropTestStartTime])
	assert.Equal(t, DefaultTestName, l.Config().TestName)
}
