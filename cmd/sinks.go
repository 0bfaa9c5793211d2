package cmd

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"samplerelay/internal/storage"
	"samplerelay/internal/telemetry"
)

const (
	SinkOTLP   = "otlp"
	SinkJSONL  = "jsonl"
	SinkSpool  = "spool"
	SinkMemory = "memory"
)

var errUnknownSink = errors.New("unknown sink")

// sinkSettings selects and configures one telemetry sink.
type sinkSettings struct {
	Kind string

	OTLP  telemetry.OTLPOptions
	JSONL telemetry.JSONLOptions
	Spool string
}

func addSinkFlags(fs *pflag.FlagSet, defaultKind string) {
	fs.String("sink", defaultKind, "sink: otlp, jsonl, spool or memory (dry run)")
	fs.String("otlp-endpoint", "localhost:4318", "OTLP/HTTP collector host:port")
	fs.String("otlp-path", "", "OTLP/HTTP URL path (default /v1/traces)")
	fs.Bool("otlp-insecure", false, "use plain HTTP for OTLP")
	fs.StringSlice("otlp-header", nil, "OTLP request header as \"Key: Value\" (repeatable)")
	fs.String("service-name", "samplerelay", "service.name resource attribute for OTLP")
	fs.Duration("otlp-timeout", 0, "OTLP export timeout (0 = exporter default)")
	fs.StringP("output", "o", telemetry.StdoutPath, "JSONL destination file, - for stdout, .zst to compress")
	fs.String("spool", "samplerelay.spool", "spool database file")
}

// sinkSettingsFromViper reads the sink flags after they were bound to viper,
// so the config file and SAMPLERELAY_* variables apply too.
func sinkSettingsFromViper(v *viper.Viper) sinkSettings {
	return sinkSettings{
		Kind: strings.ToLower(v.GetString("sink")),
		OTLP: telemetry.OTLPOptions{
			Endpoint:    v.GetString("otlp-endpoint"),
			URLPath:     v.GetString("otlp-path"),
			Insecure:    v.GetBool("otlp-insecure"),
			Headers:     parseHeaders(v.GetStringSlice("otlp-header")),
			ServiceName: v.GetString("service-name"),
			Timeout:     v.GetDuration("otlp-timeout"),
		},
		JSONL: telemetry.JSONLOptions{Path: v.GetString("output")},
		Spool: v.GetString("spool"),
	}
}

// sinkCloser releases a sink after its final flush.
type sinkCloser func(ctx context.Context) error

func openSink(ctx context.Context, s sinkSettings, log *logrus.Entry) (telemetry.Sink, sinkCloser, error) {
	switch s.Kind {
	case SinkOTLP:
		sink, err := telemetry.NewOTLPSink(ctx, s.OTLP, log.WithField("sink", SinkOTLP))
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case SinkJSONL:
		sink, err := telemetry.NewJSONLSink(s.JSONL)
		if err != nil {
			return nil, nil, err
		}
		return sink, func(context.Context) error { return sink.Close() }, nil
	case SinkSpool:
		if s.Spool == "" {
			return nil, nil, errors.New("--spool: path required")
		}
		sp, err := storage.OpenSpool(s.Spool, log.WithField("sink", SinkSpool))
		if err != nil {
			return nil, nil, err
		}
		return sp, func(context.Context) error { return sp.Close() }, nil
	case SinkMemory:
		sink := telemetry.NewMemorySink()
		return sink, func(context.Context) error {
			log.WithField("records", len(sink.Records())).Info("dry run, records discarded")
			return sink.Close()
		}, nil
	default:
		return nil, nil, errors.Wrapf(errUnknownSink, "%q", s.Kind)
	}
}

// parseHeaders turns "Key: Value" strings into a map; malformed entries are
// skipped.
func parseHeaders(raw []string) map[string]string {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
