package sample

import (
	"net/url"
	"time"
)

// DataType tags the payload encoding of a sample. Only DataTypeText payloads
// are ever logged verbatim.
type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeBinary DataType = "bin"
)

// Sample is one completed request as reported by the load engine.
// Consumers treat it as read-only.
type Sample struct {
	Label   string
	Success bool

	TimeStamp time.Time
	StartTime time.Time
	EndTime   time.Time

	Elapsed     time.Duration
	Latency     time.Duration
	ConnectTime time.Duration
	IdleTime    time.Duration

	Bytes     int64
	SentBytes int64
	BodySize  int64

	ErrorCount  int
	SampleCount int

	ThreadName   string
	GroupThreads int
	AllThreads   int

	URL             *url.URL
	ResponseCode    string
	ResponseMessage string
	ResponseHeaders string
	ResponseData    []byte

	// SamplerData is the request as sent. nil means the engine recorded none.
	SamplerData *string

	DataType DataType
}

// URLString mirrors the engine's rendering: empty when no URL was recorded.
func (s *Sample) URLString() string {
	if s.URL == nil {
		return ""
	}
	return s.URL.String()
}

// IsText reports whether payloads of this sample may be logged as text.
func (s *Sample) IsText() bool {
	return s.DataType == DataTypeText
}

// WithSamplerData returns a pointer suitable for Sample.SamplerData.
func WithSamplerData(data string) *string {
	return &data
}
