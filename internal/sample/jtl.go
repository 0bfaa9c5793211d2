package sample

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// JMeter CSV (JTL) column names.
const (
	ColTimeStamp       = "timeStamp"
	ColElapsed         = "elapsed"
	ColLabel           = "label"
	ColResponseCode    = "responseCode"
	ColResponseMessage = "responseMessage"
	ColThreadName      = "threadName"
	ColDataType        = "dataType"
	ColSuccess         = "success"
	ColFailureMessage  = "failureMessage"
	ColBytes           = "bytes"
	ColSentBytes       = "sentBytes"
	ColGrpThreads      = "grpThreads"
	ColAllThreads      = "allThreads"
	ColURL             = "URL"
	ColLatency         = "Latency"
	ColIdleTime        = "IdleTime"
	ColConnect         = "Connect"
	ColSampleCount     = "SampleCount"
	ColErrorCount      = "ErrorCount"
	ColBodySize        = "bodySize"
	ColResponseHeaders = "responseHeaders"
	ColSamplerData     = "samplerData"
	ColResponseData    = "responseData"
)

var jtlHeader = []string{
	ColTimeStamp, ColElapsed, ColLabel, ColResponseCode, ColResponseMessage,
	ColThreadName, ColDataType, ColSuccess, ColFailureMessage, ColBytes,
	ColSentBytes, ColGrpThreads, ColAllThreads, ColURL, ColLatency, ColIdleTime, ColConnect,
	ColSampleCount, ColErrorCount,
}

var payloadHeader = []string{ColResponseHeaders, ColSamplerData, ColResponseData}

var requiredColumns = []string{ColTimeStamp, ColElapsed, ColLabel, ColSuccess}

// ErrMissingColumn is returned by NewReader when the header lacks a required column.
var ErrMissingColumn = errors.New("jtl: missing required column")

// RowError describes a single unparseable JTL row. Readers can continue past it.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("jtl: line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Reader decodes samples from a JMeter CSV result file. The header row
// decides which columns are present.
type Reader struct {
	csv  *csv.Reader
	cols map[string]int
}

func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "jtl: read header")
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, errors.Wrapf(ErrMissingColumn, "%q", name)
		}
	}

	return &Reader{csv: cr, cols: cols}, nil
}

// Read returns the next sample, io.EOF at the end of input, or a *RowError
// for a row that could not be decoded.
func (r *Reader) Read() (*Sample, error) {
	rec, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		if pe, ok := err.(*csv.ParseError); ok {
			return nil, &RowError{Line: pe.Line, Err: pe.Err}
		}
		return nil, errors.Wrap(err, "jtl: read row")
	}

	s, err := r.decode(rec)
	if err != nil {
		// quoted fields may span lines, so ask the csv reader where the row began
		line, _ := r.csv.FieldPos(0)
		return nil, &RowError{Line: line, Err: err}
	}
	return s, nil
}

func (r *Reader) field(rec []string, name string) (string, bool) {
	i, ok := r.cols[name]
	if !ok || i >= len(rec) {
		return "", false
	}
	return rec[i], true
}

func (r *Reader) int64Field(rec []string, name string, def int64) (int64, error) {
	v, ok := r.field(rec, name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "column %s", name)
	}
	return n, nil
}

func (r *Reader) decode(rec []string) (*Sample, error) {
	ts, err := r.int64Field(rec, ColTimeStamp, 0)
	if err != nil {
		return nil, err
	}
	if v, _ := r.field(rec, ColTimeStamp); v == "" {
		return nil, errors.New("empty timeStamp")
	}
	elapsed, err := r.int64Field(rec, ColElapsed, 0)
	if err != nil {
		return nil, err
	}

	s := &Sample{SampleCount: 1}
	s.Label, _ = r.field(rec, ColLabel)
	s.TimeStamp = time.UnixMilli(ts)
	s.StartTime = s.TimeStamp
	s.Elapsed = time.Duration(elapsed) * time.Millisecond
	s.EndTime = s.StartTime.Add(s.Elapsed)

	successStr, _ := r.field(rec, ColSuccess)
	s.Success = strings.EqualFold(strings.TrimSpace(successStr), "true")

	s.ResponseCode, _ = r.field(rec, ColResponseCode)
	s.ResponseMessage, _ = r.field(rec, ColResponseMessage)
	s.ThreadName, _ = r.field(rec, ColThreadName)
	dt, _ := r.field(rec, ColDataType)
	s.DataType = DataType(dt)

	ints := []struct {
		col string
		def int64
		dst *int64
	}{
		{ColBytes, 0, &s.Bytes},
		{ColSentBytes, 0, &s.SentBytes},
	}
	for _, f := range ints {
		if *f.dst, err = r.int64Field(rec, f.col, f.def); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		col string
		dst *time.Duration
	}{
		{ColLatency, &s.Latency},
		{ColIdleTime, &s.IdleTime},
		{ColConnect, &s.ConnectTime},
	}
	for _, f := range durations {
		ms, err := r.int64Field(rec, f.col, 0)
		if err != nil {
			return nil, err
		}
		*f.dst = time.Duration(ms) * time.Millisecond
	}

	counts := []struct {
		col string
		def int64
		dst *int
	}{
		{ColGrpThreads, 0, &s.GroupThreads},
		{ColAllThreads, 0, &s.AllThreads},
		{ColSampleCount, 1, &s.SampleCount},
		{ColErrorCount, errorCountDefault(s.Success), &s.ErrorCount},
	}
	for _, f := range counts {
		n, err := r.int64Field(rec, f.col, f.def)
		if err != nil {
			return nil, err
		}
		*f.dst = int(n)
	}

	if s.BodySize, err = r.int64Field(rec, ColBodySize, s.Bytes); err != nil {
		return nil, err
	}

	if raw, ok := r.field(rec, ColURL); ok && raw != "" && raw != "null" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, errors.Wrap(err, "column URL")
		}
		s.URL = u
	}

	s.ResponseHeaders, _ = r.field(rec, ColResponseHeaders)
	if v, ok := r.field(rec, ColSamplerData); ok && v != "" {
		s.SamplerData = WithSamplerData(v)
	}
	if v, ok := r.field(rec, ColResponseData); ok {
		s.ResponseData = []byte(v)
	}

	return s, nil
}

func errorCountDefault(success bool) int64 {
	if success {
		return 0
	}
	return 1
}

// WriteJTL writes samples in JMeter CSV format. With payloads set, the
// response headers, sampler data and response data columns are appended.
func WriteJTL(w io.Writer, samples []*Sample, payloads bool) error {
	cw := csv.NewWriter(w)

	header := jtlHeader
	if payloads {
		header = append(append([]string{}, jtlHeader...), payloadHeader...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, s := range samples {
		if s == nil {
			continue
		}
		failure := ""
		if !s.Success {
			failure = s.ResponseMessage
		}
		record := []string{
			strconv.FormatInt(s.TimeStamp.UnixMilli(), 10),
			strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
			s.Label,
			s.ResponseCode,
			s.ResponseMessage,
			s.ThreadName,
			string(s.DataType),
			strconv.FormatBool(s.Success),
			failure,
			strconv.FormatInt(s.Bytes, 10),
			strconv.FormatInt(s.SentBytes, 10),
			strconv.Itoa(s.GroupThreads),
			strconv.Itoa(s.AllThreads),
			s.URLString(),
			strconv.FormatInt(s.Latency.Milliseconds(), 10),
			strconv.FormatInt(s.IdleTime.Milliseconds(), 10),
			strconv.FormatInt(s.ConnectTime.Milliseconds(), 10),
			strconv.Itoa(s.SampleCount),
			strconv.Itoa(s.ErrorCount),
		}
		if payloads {
			samplerData := ""
			if s.SamplerData != nil {
				samplerData = *s.SamplerData
			}
			record = append(record, s.ResponseHeaders, samplerData, string(s.ResponseData))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportJTL writes samples to filename in JMeter CSV format.
func ExportJTL(samples []*Sample, filename string, payloads bool) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteJTL(f, samples, payloads); err != nil {
		return errors.Wrapf(err, "jtl: write %s", filename)
	}
	return f.Close()
}
