package cmd

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"samplerelay/internal/cli"
	"samplerelay/internal/listener"
	"samplerelay/internal/stats"
	"samplerelay/internal/storage"
)

// relay is one listener session bound to a sink, shared by replay and run.
type relay struct {
	source   string
	sinkKind string
	listener *listener.Listener
	stats    *stats.Stats
	close    sinkCloser
	started  time.Time
	log      *logrus.Entry
}

func openRelay(ctx context.Context, source string, params listener.Params, v *viper.Viper, log *logrus.Entry) (*relay, error) {
	settings := sinkSettingsFromViper(v)
	sink, closeSink, err := openSink(ctx, settings, log)
	if err != nil {
		return nil, errors.Wrap(err, "open sink")
	}

	st := stats.New()
	l, err := listener.Setup(params, sink, listener.Options{
		Logger:       log.WithField("component", "listener"),
		Recorder:     st,
		MatchTimeout: v.GetDuration("match-timeout"),
	})
	if err != nil {
		_ = closeSink(ctx)
		return nil, err
	}

	if err := serveMetrics(ctx, v.GetString("metrics-addr"), log); err != nil {
		_ = closeSink(ctx)
		return nil, err
	}

	return &relay{
		source:   source,
		sinkKind: settings.Kind,
		listener: l,
		stats:    st,
		close:    closeSink,
		started:  time.Now(),
		log:      log,
	}, nil
}

// finish tears the listener down, closes the sink, prints the summary to out
// and records the run in history. The teardown error wins over later ones.
// Commands pass stderr since stdout may be the JSONL stream.
func (r *relay) finish(ctx context.Context, out io.Writer, historyDir string) error {
	// Flushing must outlive an interrupted run.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := r.listener.Teardown(flushCtx)
	if err != nil {
		r.log.WithError(err).Error("teardown flush failed")
	}
	if cerr := r.close(flushCtx); cerr != nil {
		r.log.WithError(cerr).Error("close sink")
		if err == nil {
			err = errors.Wrap(cerr, "close sink")
		}
	}

	elapsed := time.Since(r.started)
	snap := r.stats.Snapshot()
	cli.PrintSummary(out, snap, elapsed)

	if herr := r.saveHistory(historyDir, snap, elapsed); herr != nil {
		r.log.WithError(herr).Warn("could not save run history")
	}
	return err
}

func (r *relay) saveHistory(dir string, snap stats.Snapshot, elapsed time.Duration) error {
	if dir == "" {
		var err error
		if dir, err = storage.DefaultDir(); err != nil {
			return err
		}
	}
	h, err := storage.OpenHistory(dir)
	if err != nil {
		return err
	}
	item, err := h.Save(storage.HistoryItem{
		Source:   r.source,
		TestName: r.listener.Config().TestName,
		Sink:     r.sinkKind,
		Summary:  cli.Summary(snap, elapsed),
	})
	if err != nil {
		return err
	}
	r.log.WithField("id", item.ID).Debug("run saved to history")
	return nil
}
