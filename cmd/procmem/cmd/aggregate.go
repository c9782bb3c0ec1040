package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/procmem/pkg/config"
	"github.com/nicktill/procmem/pkg/report"
	"github.com/nicktill/procmem/pkg/resample"
)

type aggregateOptions struct {
	hours    int
	days     int
	from     string
	to       string
	interval int
	dataDir  string
	backend  string
	output   string
	format   string
	verbose  bool
}

var aggOpts aggregateOptions

var aggregateCmd = &cobra.Command{
	Use:   "aggregate --output FILE (--hours N | --days N | --range START END)",
	Short: "Resample stored snapshots into OHLC candles per process",
	Long: `Aggregate reads the snapshots of a time range and writes one open/high/low/close
candle per process and time bucket. Explicit range bounds use the format
"YYYY-MM-DD HH:MM:SS" in local time; END follows --range as an argument.`,
	Example: `  procmem aggregate --hours 24 --output report
  procmem aggregate --range "2025-06-04 00:00:00" "2025-06-05 00:00:00" -o day.tsv --interval 60`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := aggOpts
		if len(args) == 1 {
			if opts.from == "" {
				return usageError(fmt.Errorf("unexpected argument %q", args[0]))
			}
			opts.to = args[0]
		} else if opts.from != "" {
			return usageError(errors.New("--range requires START and END"))
		}
		if !cmd.Flags().Changed("data-dir") {
			opts.dataDir = settings.Output.Directory
		}
		if !cmd.Flags().Changed("backend") {
			opts.backend = settings.Output.Backend
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runAggregate(ctx, opts, cmd.OutOrStdout(), time.Now())
	},
}

func init() {
	f := aggregateCmd.Flags()
	f.IntVar(&aggOpts.hours, "hours", 0, "Aggregate the last N hours")
	f.IntVar(&aggOpts.days, "days", 0, "Aggregate the last N days")
	f.StringVar(&aggOpts.from, "range", "", "Explicit range START (END is the next argument)")
	f.IntVar(&aggOpts.interval, "interval", config.DefaultBucketMinutes, "Bucket width in minutes")
	f.StringVar(&aggOpts.dataDir, "data-dir", config.DefaultOutputDir, "Snapshot directory")
	f.StringVar(&aggOpts.backend, "backend", config.BackendFile, "Storage backend: file or badger")
	f.StringVarP(&aggOpts.output, "output", "o", "", "Report file (.tsv appended if missing)")
	f.StringVar(&aggOpts.format, "format", report.FormatTSV, "Report format: tsv or json")
	f.BoolVarP(&aggOpts.verbose, "verbose", "v", false, "Print the largest processes of the last bucket")
	_ = aggregateCmd.MarkFlagRequired("output")
	aggregateCmd.MarkFlagsMutuallyExclusive("hours", "days", "range")

	rootCmd.AddCommand(aggregateCmd)
}

// runAggregate validates every argument before opening the store, so a bad
// invocation never leaves a file behind.
func runAggregate(ctx context.Context, opts aggregateOptions, out io.Writer, now time.Time) error {
	start, end, err := resample.ParseRange(resample.RangeOptions{
		Hours: opts.hours,
		Days:  opts.days,
		From:  opts.from,
		To:    opts.to,
	}, now)
	if err != nil {
		return usageError(err)
	}

	req := resample.Request{WidthMinutes: opts.interval, Start: start, End: end}
	if err := req.Validate(); err != nil {
		return usageError(err)
	}
	if opts.output == "" {
		return usageError(errors.New("--output is required"))
	}
	if _, err := report.Paths(opts.output, opts.format); err != nil {
		return usageError(err)
	}
	if info, err := os.Stat(opts.dataDir); err != nil || !info.IsDir() {
		return usageError(fmt.Errorf("data directory %s does not exist", opts.dataDir))
	}

	store, err := openStore(opts.backend, opts.dataDir, 0, true)
	if err != nil {
		return err
	}
	defer store.Close()

	began := time.Now()
	res, err := resample.Run(ctx, store, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: exitInterrupted, err: errors.New("interrupted, no report written")}
		}
		return fmt.Errorf("aggregation failed: %w", err)
	}

	paths, err := report.Write(res, req, opts.output, opts.format)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"files":    res.Stats.FilesRead,
		"skipped":  res.Stats.Skipped(),
		"duration": time.Since(began).Round(time.Millisecond),
	}).Debug("aggregation finished")

	printSummary(out, res, req, paths, opts.verbose)
	return nil
}

func printSummary(out io.Writer, res *resample.Result, req resample.Request, paths []string, verbose bool) {
	fmt.Fprintf(out, "Range: %s to %s, %d-minute buckets (%d)\n",
		req.Start.Format(resample.TimestampLayout), req.End.Format(resample.TimestampLayout),
		req.WidthMinutes, len(res.Buckets))
	fmt.Fprintf(out, "Files read: %d, skipped: %d (corrupt %d, missing %d)\n",
		res.Stats.FilesRead, res.Stats.Skipped(), res.Stats.CorruptSkipped, res.Stats.MissingSkipped)
	if res.Stats.FilesRead == 0 {
		fmt.Fprintln(out, "Warning: no snapshots found in range; the report has empty values only")
	}
	fmt.Fprintf(out, "Processes: %d\n", len(res.Series))
	for _, p := range paths {
		fmt.Fprintf(out, "Wrote %s\n", p)
	}

	if !verbose {
		return
	}
	top := res.TopByLatestClose(config.DefaultTopReported)
	if len(top) == 0 {
		return
	}
	fmt.Fprintf(out, "\nTop %d by latest close:\n", len(top))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tRSS_MB\tCOMMAND")
	for _, s := range top {
		c, _ := s.Latest()
		fmt.Fprintf(tw, "%s\t%.1f\t%s\n", s.Identity.Label, float64(c.Close)/(1<<20), s.Identity.Command)
	}
	tw.Flush()
}
