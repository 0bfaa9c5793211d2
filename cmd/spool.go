package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samplerelay/internal/storage"
)

var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "Inspect or forward records kept in a local spool",
}

var spoolCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many records are waiting in the spool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, err := storage.OpenSpool(viper.GetString("spool"), log)
		if err != nil {
			return err
		}
		defer sp.Close()

		n, err := sp.Len()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var spoolDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Forward spooled records to another sink, deleting them once flushed",
	Example: `  samplerelay spool drain --spool run.spool --sink otlp --otlp-endpoint collector:4318`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		v := viper.GetViper()

		settings := sinkSettingsFromViper(v)
		if settings.Kind == SinkSpool {
			return errors.New("spool drain: destination must not be a spool")
		}

		sp, err := storage.OpenSpool(settings.Spool, log.WithField("spool", settings.Spool))
		if err != nil {
			return err
		}
		defer sp.Close()

		dst, closeDst, err := openSink(ctx, settings, log)
		if err != nil {
			return errors.Wrap(err, "open sink")
		}

		st, drainErr := sp.Drain(ctx, dst, storage.DrainOptions{
			BatchSize:      v.GetInt("batch-size"),
			InitialBackoff: v.GetDuration("initial-backoff"),
			MaxBackoff:     v.GetDuration("max-backoff"),
			MaxAttempts:    v.GetInt("max-attempts"),
		})
		if err := closeDst(ctx); err != nil && drainErr == nil {
			drainErr = errors.Wrap(err, "close sink")
		}

		log.WithFields(logrus.Fields{
			"delivered": st.Delivered,
			"corrupt":   st.Corrupt,
			"batches":   st.Batches,
		}).Info("spool drained")
		fmt.Fprintf(cmd.OutOrStdout(), "delivered %d records in %d batches (%d corrupt dropped)\n", st.Delivered, st.Batches, st.Corrupt)
		return drainErr
	},
}

func init() {
	spoolCountCmd.Flags().String("spool", "samplerelay.spool", "spool database file")

	fs := spoolDrainCmd.Flags()
	fs.Int("batch-size", 500, "records per delivery batch")
	fs.Duration("initial-backoff", 0, "first retry delay (default 1s)")
	fs.Duration("max-backoff", 0, "retry delay cap (default 30s)")
	fs.Int("max-attempts", 0, "attempts per batch before giving up (0 = until interrupted)")
	addSinkFlags(fs, SinkOTLP)

	spoolCmd.AddCommand(spoolCountCmd, spoolDrainCmd)
}
