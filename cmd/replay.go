package cmd

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samplerelay/internal/cli"
	"samplerelay/internal/listener"
	"samplerelay/internal/sample"
	"samplerelay/internal/stats"
)

var replayCmd = &cobra.Command{
	Use:   "replay <results.jtl>...",
	Short: "Forward samples from JMeter CSV result files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		v := viper.GetViper()

		params, err := loadParams(v.GetString("params"), v.GetStringSlice("param"))
		if err != nil {
			return err
		}
		rel, err := openRelay(ctx, "replay", params, v, log)
		if err != nil {
			return err
		}

		cli.PrintHeader(cmd.ErrOrStderr(), "replaying results", []cli.Field{
			{Name: "Files", Value: strings.Join(args, ", ")},
			{Name: "Test", Value: rel.listener.Config().TestName},
			{Name: "Sink", Value: rel.sinkKind},
		})

		monCtx, stopMon := context.WithCancel(ctx)
		monDone := make(chan struct{})
		go func() {
			defer close(monDone)
			if !v.GetBool("quiet") {
				cli.Monitor(monCtx, cmd.ErrOrStderr(), 0, snapshots(monCtx, rel.stats, 500*time.Millisecond))
			}
		}()

		var replayErr error
		for _, path := range args {
			if replayErr = replayFile(ctx, path, v.GetInt("batch-size"), rel.listener, rel.stats, log); replayErr != nil {
				break
			}
		}
		stopMon()
		<-monDone

		if err := rel.finish(ctx, cmd.ErrOrStderr(), v.GetString("history-dir")); err != nil && replayErr == nil {
			replayErr = err
		}
		return replayErr
	},
}

func init() {
	fs := replayCmd.Flags()
	fs.Int("batch-size", 100, "samples handed to the listener per batch")
	fs.BoolP("quiet", "q", false, "no progress line")
	addParamFlags(fs)
	addSinkFlags(fs, SinkJSONL)
}

// replayFile feeds one JTL file to l in batches. Bad rows are logged and
// counted; only I/O failures and cancellation stop the replay.
func replayFile(ctx context.Context, path string, batchSize int, l *listener.Listener, st *stats.Stats, log *logrus.Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open results")
	}
	defer f.Close()

	n, err := replayReader(ctx, f, batchSize, l, st, log.WithField("file", path))
	log.WithFields(logrus.Fields{"file": path, "samples": n}).Info("file replayed")
	return err
}

func replayReader(ctx context.Context, r io.Reader, batchSize int, l *listener.Listener, st *stats.Stats, log *logrus.Entry) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	rd, err := sample.NewReader(r)
	if err != nil {
		return 0, err
	}

	total := 0
	batch := make([]*sample.Sample, 0, batchSize)
	process := func() {
		if len(batch) == 0 {
			return
		}
		l.Process(batch)
		total += len(batch)
		batch = make([]*sample.Sample, 0, batchSize)
	}

	for {
		if err := ctx.Err(); err != nil {
			process()
			return total, err
		}

		s, err := rd.Read()
		if err == io.EOF {
			break
		}
		var rowErr *sample.RowError
		if errors.As(err, &rowErr) {
			st.RowErrors.Add(1)
			log.WithFields(logrus.Fields{"line": rowErr.Line}).WithError(rowErr.Err).Warn("skipping unreadable row")
			continue
		}
		if err != nil {
			process()
			return total, err
		}

		batch = append(batch, s)
		if len(batch) == batchSize {
			process()
		}
	}
	process()
	return total, nil
}

// snapshots samples st every interval until ctx is done, then closes the
// channel.
func snapshots(ctx context.Context, st *stats.Stats, interval time.Duration) <-chan stats.Snapshot {
	ch := make(chan stats.Snapshot, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- st.Snapshot():
				default:
				}
			}
		}
	}()
	return ch
}
