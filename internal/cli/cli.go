package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"samplerelay/internal/runner"
	"samplerelay/internal/stats"
	"samplerelay/internal/storage"
)

const rule = "======================================================================"

// Field is one "name : value" header line.
type Field struct {
	Name  string
	Value string
}

func PrintHeader(w io.Writer, title string, fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Name))
	}
	fmt.Fprintf(w, "\n%s\n%s\n", strings.ToUpper(title), rule)
	for _, f := range fields {
		fmt.Fprintf(w, "%-*s : %s\n", width, f.Name, f.Value)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}

// RunFields describes a live run for PrintHeader.
func RunFields(cfg runner.Config, sink string) []Field {
	fields := []Field{
		{"Target URL", cfg.URL},
		{"Method", cfg.Method},
	}
	if cfg.Mode == runner.ModeUsers {
		fields = append(fields, Field{"Users", fmt.Sprint(cfg.NumUsers)})
	} else {
		fields = append(fields, Field{"Target RPS", fmt.Sprint(cfg.TargetRPS)})
	}
	keys := make([]string, 0, len(cfg.Headers))
	for k := range cfg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fields = append(fields, Field{"Headers", strings.Join(keys, ", ")})
	}
	return append(fields,
		Field{"Duration", fmt.Sprintf("%ds (Steady) + %ds (RampUp) + %ds (RampDown)", cfg.SteadyDur, cfg.RampUp, cfg.RampDown)},
		Field{"Timeout", fmt.Sprintf("%ds", cfg.TimeoutSec)},
		Field{"Batch", fmt.Sprintf("%d samples / %s", cfg.BatchSize, cfg.FlushInterval)},
		Field{"Sink", sink},
	)
}

// Monitor redraws a progress line for every snapshot until ctx is done or
// updates is closed. A zero total means the length is unknown (replays).
func Monitor(ctx context.Context, w io.Writer, total time.Duration, updates <-chan stats.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			fmt.Fprint(w, "\r"+ProgressLine(snap, total))
		}
	}
}

func ProgressLine(snap stats.Snapshot, total time.Duration) string {
	elapsed := snap.Uptime.Round(time.Second)
	counts := fmt.Sprintf("Samples: %d | Sent: %d | Filtered: %d | Failed: %d",
		snap.Samples, snap.Submitted, snap.Filtered, snap.Failed)

	if total <= 0 {
		return fmt.Sprintf("%s | %.1f/s | %s", elapsed, snap.Rate, counts)
	}

	pct := snap.Uptime.Seconds() / total.Seconds()
	if elapsed >= total && snap.Inflight > 0 {
		return fmt.Sprintf("%s %3.0f%% | %s/%s | Draining: %d requests...      ",
			ProgressBar(1, 20), 100.0, elapsed, total, snap.Inflight)
	}
	return fmt.Sprintf("%s %3.0f%% | %s/%s | Inf: %3d | %.1f/s | %s",
		ProgressBar(pct, 20), min(pct, 1)*100, elapsed, total, snap.Inflight, snap.Rate, counts)
}

func ProgressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func PrintSummary(w io.Writer, snap stats.Snapshot, elapsed time.Duration) {
	fmt.Fprintf(w, "\n\nRELAY RESULTS\n%s\n", rule)
	fmt.Fprintf(w, "Total Duration : %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Samples        : %d\n", snap.Samples)
	fmt.Fprintf(w, "  Success      : %d\n", snap.Success)
	fmt.Fprintf(w, "  Failures     : %d (%.2f%%)\n", snap.Fail, snap.ErrorRate)
	fmt.Fprintf(w, "Submitted      : %d\n", snap.Submitted)
	fmt.Fprintf(w, "Filtered       : %d\n", snap.Filtered)
	fmt.Fprintf(w, "Failed         : %d\n", snap.Failed)
	if snap.RowErrors > 0 {
		fmt.Fprintf(w, "Row errors     : %d\n", snap.RowErrors)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "Throughput     : %.2f samples/s\n", float64(snap.Samples)/secs)
	}
	fmt.Fprintf(w, "\nELAPSED (ms)\n")
	fmt.Fprintf(w, "   Mean : %.2f\n", snap.MeanMs)
	fmt.Fprintf(w, "   P50  : %.2f\n", snap.P50Ms)
	fmt.Fprintf(w, "   P90  : %.2f\n", snap.P90Ms)
	fmt.Fprintf(w, "   P99  : %.2f\n", snap.P99Ms)
	fmt.Fprintf(w, "   Max  : %d\n", snap.MaxMs)
	if snap.AvgQueueWaitMs > 0 {
		fmt.Fprintf(w, "   Queue wait (avg) : %.2f\n", snap.AvgQueueWaitMs)
	}
	fmt.Fprintf(w, "%s\n", rule)
}

// Summary condenses a snapshot for the run history.
func Summary(snap stats.Snapshot, elapsed time.Duration) storage.RunSummary {
	return storage.RunSummary{
		Samples:   snap.Samples,
		Submitted: snap.Submitted,
		Filtered:  snap.Filtered,
		Failed:    snap.Failed,
		RowErrors: snap.RowErrors,
		Success:   snap.Success,
		Fail:      snap.Fail,
		MeanMs:    snap.MeanMs,
		P50Ms:     snap.P50Ms,
		P99Ms:     snap.P99Ms,
		Duration:  elapsed.Round(time.Millisecond).String(),
	}
}
