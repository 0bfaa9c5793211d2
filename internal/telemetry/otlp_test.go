package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func testRecord(success bool) *Record {
	return &Record{
		ID:            "0b7c6f3e-1f52-4d6e-9a53-0a9a1b2c3d4e",
		Name:          "azrefapp",
		OperationName: "azrefapp",
		Timestamp:     time.UnixMilli(1_700_000_000_000),
		Duration:      250 * time.Millisecond,
		ResponseCode:  "503",
		Success:       success,
		URL:           "https://api.example.com/pay",
		Properties: map[string]string{
			"SampleLabel":       "POST /pay",
			"aih.azref-podname": "pod-7",
		},
	}
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestOTLPSink_RecordBecomesSpan(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	sink := NewSpanSink("checkout", nil, sdktrace.WithSyncer(exp))

	require.NoError(t, sink.Submit(testRecord(false)))
	require.NoError(t, sink.Flush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "azrefapp", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), span.StartTime)
	assert.Equal(t, 250*time.Millisecond, span.EndTime.Sub(span.StartTime))
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.Equal(t, "503", span.Status.Description)

	attrs := attrMap(span.Attributes)
	assert.Equal(t, "0b7c6f3e-1f52-4d6e-9a53-0a9a1b2c3d4e", attrs[AttrRecordID].AsString())
	assert.Equal(t, "https://api.example.com/pay", attrs[AttrURL].AsString())
	assert.False(t, attrs[AttrSuccess].AsBool())
	assert.Equal(t, "POST /pay", attrs[PropertyPrefix+"SampleLabel"].AsString())
	assert.Equal(t, "pod-7", attrs[PropertyPrefix+"aih.azref-podname"].AsString())

	res := attrMap(span.Resource.Attributes())
	assert.Equal(t, "checkout", res["service.name"].AsString())
}

func TestOTLPSink_SuccessLeavesStatusUnset(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	sink := NewSpanSink("checkout", nil, sdktrace.WithSyncer(exp))

	rec := testRecord(true)
	rec.URL = ""
	require.NoError(t, sink.Submit(rec))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.NotContains(t, attrMap(spans[0].Attributes), AttrURL)
}

func TestOTLPSink_BatcherDeliversOnFlush(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	sink := NewSpanSink("checkout", nil, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(time.Hour)))

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Submit(testRecord(true)))
	}
	require.NoError(t, sink.Flush(context.Background()))
	assert.Len(t, exp.GetSpans(), 5)
}

func TestOTLPSink_SubmitAfterClose(t *testing.T) {
	t.Parallel()

	sink := NewSpanSink("checkout", nil, sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	require.NoError(t, sink.Close(context.Background()))
	assert.ErrorIs(t, sink.Submit(testRecord(true)), ErrSinkClosed)
	assert.NoError(t, sink.Close(context.Background()))
}

func TestNewOTLPSink_ValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := NewOTLPSink(context.Background(), OTLPOptions{Endpoint: "not a host", ServiceName: ""}, nil)
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.Contains(t, err.Error(), "Endpoint")
	assert.Contains(t, err.Error(), "ServiceName")

	_, err = NewOTLPSink(context.Background(), OTLPOptions{
		Endpoint:    "localhost:4318",
		URLPath:     "v1/traces",
		ServiceName: "svc",
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestNewOTLPSink_BuildsExporter(t *testing.T) {
	t.Parallel()

	sink, err := NewOTLPSink(context.Background(), OTLPOptions{
		Endpoint:    "localhost:4318",
		URLPath:     "/v1/traces",
		Insecure:    true,
		Headers:     map[string]string{"x-api-key": "secret"},
		ServiceName: "svc",
		Timeout:     time.Second,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = sink.Close(ctx)
}
