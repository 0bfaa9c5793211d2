package listener

import (
	"maps"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"samplerelay/internal/sample"
	"samplerelay/internal/telemetry"
)

const (
	// MaxDataLength bounds logged payload text, in characters.
	MaxDataLength     = 1024
	TruncatedMarker   = "...[TRUNCATED]"
	BinaryPlaceholder = "[BINARY DATA]"

	KeySampleData   = "SampleData"
	KeyResponseData = "ResponseData"
)

// Metric property keys.
const (
	PropBytes           = "Bytes"
	PropSentBytes       = "SentBytes"
	PropConnectTime     = "ConnectTime"
	PropErrorCount      = "ErrorCount"
	PropIdleTime        = "IdleTime"
	PropLatency         = "Latency"
	PropBodySize        = "BodySize"
	PropTestStartTime   = "TestStartTime"
	PropSampleStartTime = "SampleStartTime"
	PropSampleEndTime   = "SampleEndTime"
	PropSampleLabel     = "SampleLabel"
	PropThreadName      = "ThreadName"
	PropURL             = "URL"
	PropResponseCode    = "ResponseCode"
	PropGrpThreads      = "GrpThreads"
	PropAllThreads      = "AllThreads"
	PropSampleCount     = "SampleCount"
)

// ErrNilSample is reported for a nil entry in a batch.
var ErrNilSample = errors.New("listener: nil sample")

type headerMatcher struct {
	name string
	re   *regexp2.Regexp
}

// Builder turns one sample into one telemetry record. It reads cfg and
// never mutates it, so a Builder is safe for concurrent use.
type Builder struct {
	cfg     *Config
	headers []headerMatcher
	newID   func() string
	log     *logrus.Entry
}

// NewBuilder precompiles one matcher per configured response header. Names
// are matched literally.
func NewBuilder(cfg *Config, log *logrus.Entry) (*Builder, error) {
	if log == nil {
		log = logrusNop()
	}
	b := &Builder{
		cfg:   cfg,
		newID: func() string { return uuid.New().String() },
		log:   log,
	}
	for _, name := range cfg.ResponseHeaders {
		re, err := regexp2.Compile("^"+regexp2.Escape(name)+":(.*)$", regexp2.Multiline|regexp2.IgnoreCase)
		if err != nil {
			return nil, errors.Wrapf(err, "compile header matcher for %q", name)
		}
		b.headers = append(b.headers, headerMatcher{name: name, re: re})
	}
	return b, nil
}

// Build produces the record for s.
func (b *Builder) Build(s *sample.Sample) (*telemetry.Record, error) {
	if s == nil {
		return nil, ErrNilSample
	}

	props := make(map[string]string, len(b.cfg.CustomProperties)+20)
	maps.Copy(props, b.cfg.CustomProperties)
	b.addMetrics(props, s)

	if err := b.addHeaders(props, s.ResponseHeaders); err != nil {
		return nil, err
	}

	if s.SamplerData != nil && b.cfg.LogSampleData.ShouldLog(s.Success) {
		props[KeySampleData] = b.payload("sample", *s.SamplerData, s.IsText())
	}
	if s.ResponseData != nil && b.cfg.LogResponseData.ShouldLog(s.Success) {
		props[KeyResponseData] = b.payload("response", string(s.ResponseData), s.IsText())
	}

	rec := &telemetry.Record{
		ID:            b.newID(),
		Name:          b.cfg.TestName,
		OperationName: b.cfg.TestName,
		Timestamp:     s.TimeStamp,
		Duration:      s.Elapsed,
		ResponseCode:  s.ResponseCode,
		Success:       s.Success,
		Properties:    props,
	}
	if s.URL != nil {
		rec.URL = s.URL.String()
	}
	return rec, nil
}

func (b *Builder) addMetrics(props map[string]string, s *sample.Sample) {
	props[PropBytes] = strconv.FormatInt(s.Bytes, 10)
	props[PropSentBytes] = strconv.FormatInt(s.SentBytes, 10)
	props[PropConnectTime] = millis(s.ConnectTime)
	props[PropErrorCount] = strconv.Itoa(s.ErrorCount)
	props[PropIdleTime] = floatMillis(s.IdleTime)
	props[PropLatency] = floatMillis(s.Latency)
	props[PropBodySize] = strconv.FormatInt(s.BodySize, 10)
	props[PropTestStartTime] = epochMillis(b.cfg.TestStartTime)
	props[PropSampleStartTime] = epochMillis(s.StartTime)
	props[PropSampleEndTime] = epochMillis(s.EndTime)
	props[PropSampleLabel] = s.Label
	props[PropThreadName] = s.ThreadName
	props[PropURL] = s.URLString()
	props[PropResponseCode] = s.ResponseCode
	props[PropGrpThreads] = strconv.Itoa(s.GroupThreads)
	props[PropAllThreads] = strconv.Itoa(s.AllThreads)
	props[PropSampleCount] = strconv.Itoa(s.SampleCount)
}

func (b *Builder) addHeaders(props map[string]string, raw string) error {
	if raw == "" {
		return nil
	}
	for _, h := range b.headers {
		m, err := h.re.FindStringMatch(raw)
		if err != nil {
			return errors.Wrapf(err, "extract header %q", h.name)
		}
		if m == nil {
			continue
		}
		props[HeaderPrefix+h.name] = strings.TrimSpace(m.GroupByNumber(1).String())
	}
	return nil
}

// payload applies the size bound to text and hides binary content.
func (b *Builder) payload(kind, data string, text bool) string {
	if !text {
		b.log.WithField("payload", kind).Debug("payload is binary, not logging it")
		return BinaryPlaceholder
	}
	bounded, truncated := boundText(data, MaxDataLength, TruncatedMarker)
	if truncated {
		b.log.WithFields(logrus.Fields{
			"payload": kind,
			"limit":   MaxDataLength,
		}).Debug("payload too long, truncating")
	}
	return bounded
}
