package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samplerelay/internal/cli"
	"samplerelay/internal/runner"
	"samplerelay/internal/sample"
	"samplerelay/internal/tui/dashboard"
	"samplerelay/internal/tui/form"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate HTTP load and forward every request as a sample",
	Example: `  samplerelay run -u http://localhost:8080/fast -r 50 -d 30 --sink otlp --otlp-insecure
  samplerelay run -u http://localhost:8080/error -U 20 -P responseHeaders=AzRef-PodName --tui`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		v := viper.GetViper()

		cfg := runConfigFromViper(v)
		params, err := loadParams(v.GetString("params"), v.GetStringSlice("param"))
		if err != nil {
			return err
		}
		if cfg.URL == "" && v.GetBool("tui") {
			var ok bool
			if cfg, params, ok, err = form.Run(cfg, params); err != nil || !ok {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, "run")
		}

		rel, err := openRelay(ctx, "run", params, v, log)
		if err != nil {
			return err
		}

		updates := make(runner.StatsUpdateChan, 100)
		opts := []runner.Option{
			runner.WithStats(rel.stats),
			runner.WithUpdates(updates),
			runner.WithLogger(log.WithField("component", "runner")),
		}
		export := v.GetString("export")
		if export != "" {
			opts = append(opts, runner.KeepSamples())
		}

		r, err := runner.New(cfg, func(batch []*sample.Sample) { rel.listener.Process(batch) }, opts...)
		if err != nil {
			_ = rel.listener.Teardown(ctx)
			_ = rel.close(ctx)
			return err
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			r.Run(ctx)
		}()

		if v.GetBool("tui") {
			// keep info lines from tearing the alt screen
			prev := log.Logger.GetLevel()
			log.Logger.SetLevel(min(prev, logrus.ErrorLevel))

			title := fmt.Sprintf("%s %s -> %s", cfg.Method, cfg.URL, rel.sinkKind)
			if err := dashboard.Run(ctx, title, cfg.TotalDuration(), updates, done, cancel); err != nil {
				log.WithError(err).Error("dashboard")
			}
			<-done
			log.Logger.SetLevel(prev)
		} else {
			cli.PrintHeader(cmd.ErrOrStderr(), "starting load run", cli.RunFields(cfg, rel.sinkKind))
			monCtx, stopMon := context.WithCancel(ctx)
			go func() {
				<-done
				stopMon()
			}()
			cli.Monitor(monCtx, cmd.ErrOrStderr(), cfg.TotalDuration(), updates)
		}
		<-done

		runErr := rel.finish(ctx, cmd.ErrOrStderr(), v.GetString("history-dir"))

		if export != "" {
			if err := sample.ExportJTL(r.Samples(), export, v.GetBool("export-payloads")); err != nil {
				log.WithError(err).Error("export results")
				if runErr == nil {
					runErr = err
				}
			} else {
				log.WithField("file", export).Info("results exported")
			}
		}
		return runErr
	},
}

func init() {
	fs := runCmd.Flags()
	fs.StringP("url", "u", "", "target URL")
	fs.StringP("method", "X", "GET", "HTTP method")
	fs.StringP("body", "b", "", "request body; supports {{uuid}}, {{userID}}, {{randomInt 1 10}} ...")
	fs.StringSliceP("header", "H", nil, "HTTP header (e.g. \"Key: Value\")")
	fs.IntP("rate", "r", 10, "target RPS (open loop)")
	fs.IntP("users", "U", 0, "virtual users (closed loop, overrides rate)")
	fs.Duration("think-time", 0, "pause between requests of one user")
	fs.IntP("duration", "d", 10, "steady duration in seconds")
	fs.Int("ramp-up", 0, "ramp up duration in seconds")
	fs.Int("ramp-down", 0, "ramp down duration in seconds")
	fs.Int("timeout", 10, "request timeout in seconds")
	fs.String("label", "", "sample label (default \"<METHOD> <path>\")")
	fs.String("thread-group", runner.DefaultThreadGroup, "thread group name used in thread names")
	fs.Int("batch-size", runner.DefaultBatchSize, "samples per listener batch")
	fs.Duration("flush-interval", runner.DefaultFlushInterval, "hand off a partial batch this often")
	fs.Int64("max-body", runner.DefaultMaxBody, "bytes of each response body kept")
	fs.String("export", "", "also write all samples to this JTL file")
	fs.Bool("export-payloads", false, "include headers, sampler and response data in the export")
	fs.Bool("tui", false, "show the live dashboard; without --url, ask for the target first")
	addParamFlags(fs)
	addSinkFlags(fs, SinkJSONL)
}

func runConfigFromViper(v *viper.Viper) runner.Config {
	cfg := runner.Config{
		URL:           v.GetString("url"),
		Method:        v.GetString("method"),
		Body:          v.GetString("body"),
		Headers:       parseHeaders(v.GetStringSlice("header")),
		Label:         v.GetString("label"),
		ThreadGroup:   v.GetString("thread-group"),
		TargetRPS:     v.GetInt("rate"),
		SteadyDur:     v.GetInt("duration"),
		RampUp:        v.GetInt("ramp-up"),
		RampDown:      v.GetInt("ramp-down"),
		TimeoutSec:    v.GetInt("timeout"),
		Mode:          runner.ModeRPS,
		ThinkTime:     v.GetDuration("think-time"),
		BatchSize:     v.GetInt("batch-size"),
		FlushInterval: v.GetDuration("flush-interval"),
		MaxBody:       v.GetInt64("max-body"),
	}
	if users := v.GetInt("users"); users > 0 {
		cfg.Mode = runner.ModeUsers
		cfg.NumUsers = users
	}
	return cfg
}
