package telemetry

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "samplerelay"

// Span attribute keys. Record properties are attached under PropertyPrefix.
const (
	AttrRecordID     = "samplerelay.record_id"
	AttrOperation    = "samplerelay.operation_name"
	AttrResponseCode = "samplerelay.response_code"
	AttrSuccess      = "samplerelay.success"
	AttrURL          = "url.full"
	PropertyPrefix   = "samplerelay.prop."
)

type OTLPOptions struct {
	Endpoint    string            `validate:"required,hostname_port"`
	URLPath     string            `validate:"omitempty,startswith=/"`
	Insecure    bool
	Headers     map[string]string `validate:"dive,keys,required,endkeys"`
	ServiceName string            `validate:"required"`
	Timeout     time.Duration     `validate:"gte=0"`
}

// OTLPSink exports every record as one finished client span.
type OTLPSink struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	closed   atomic.Bool
	log      *logrus.Entry
}

// NewOTLPSink exports over OTLP/HTTP through a batch span processor.
func NewOTLPSink(ctx context.Context, opts OTLPOptions, log *logrus.Entry) (*OTLPSink, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.URLPath != "" {
		clientOpts = append(clientOpts, otlptracehttp.WithURLPath(opts.URLPath))
	}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithHeaders(opts.Headers))
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithTimeout(opts.Timeout))
	}

	exp, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create otlp exporter")
	}
	return NewSpanSink(opts.ServiceName, log, sdktrace.WithBatcher(exp)), nil
}

// NewSpanSink builds a sink over a tracer provider configured with popts,
// e.g. sdktrace.WithSyncer for an in-memory exporter.
func NewSpanSink(serviceName string, log *logrus.Entry, popts ...sdktrace.TracerProviderOption) *OTLPSink {
	if log == nil {
		log = logrusNop()
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	popts = append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, popts...)
	provider := sdktrace.NewTracerProvider(popts...)
	return &OTLPSink{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
		log:      log.WithField("sink", "otlp"),
	}
}

func (s *OTLPSink) Submit(rec *Record) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	if rec == nil {
		return errors.New("telemetry: nil record")
	}

	_, span := s.tracer.Start(context.Background(), rec.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(rec.Timestamp),
		trace.WithAttributes(recordAttributes(rec)...),
	)
	if !rec.Success {
		span.SetStatus(codes.Error, rec.ResponseCode)
	}
	span.End(trace.WithTimestamp(rec.Timestamp.Add(rec.Duration)))
	return nil
}

func recordAttributes(rec *Record) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(rec.Properties)+5)
	attrs = append(attrs,
		attribute.String(AttrRecordID, rec.ID),
		attribute.String(AttrOperation, rec.OperationName),
		attribute.String(AttrResponseCode, rec.ResponseCode),
		attribute.Bool(AttrSuccess, rec.Success),
	)
	if rec.URL != "" {
		attrs = append(attrs, attribute.String(AttrURL, rec.URL))
	}

	keys := make([]string, 0, len(rec.Properties))
	for k := range rec.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(PropertyPrefix+k, rec.Properties[k]))
	}
	return attrs
}

// Flush forces every queued span out through the exporter.
func (s *OTLPSink) Flush(ctx context.Context) error {
	if err := s.provider.ForceFlush(ctx); err != nil {
		return errors.Wrap(err, "force flush spans")
	}
	return nil
}

// Close flushes and shuts the provider down. Submit fails afterwards.
func (s *OTLPSink) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.log.Debug("shutting down tracer provider")
	if err := s.provider.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown tracer provider")
	}
	return nil
}

func logrusNop() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
