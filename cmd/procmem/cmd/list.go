package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/procmem/pkg/resample"
)

var (
	listFrom    string
	listTo      string
	listDataDir string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Long: `List prints the stored snapshots captured between --from and --to, oldest
first. Bounds use the format "YYYY-MM-DD HH:MM:SS" in local time and are
inclusive.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := listDataDir
		if !cmd.Flags().Changed("data-dir") {
			dir = settings.Output.Directory
		}
		return runList(cmd.Context(), dir, settings.Output.Backend, listFrom, listTo, cmd.OutOrStdout())
	},
}

func init() {
	listCmd.Flags().StringVar(&listFrom, "from", "", "Earliest capture time (default: oldest)")
	listCmd.Flags().StringVar(&listTo, "to", "", "Latest capture time (default: now)")
	listCmd.Flags().StringVar(&listDataDir, "data-dir", "", "Snapshot directory (default: output.directory)")
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, dir, backend, from, to string, out io.Writer) error {
	start, err := parseBound(from, time.Time{})
	if err != nil {
		return usageError(fmt.Errorf("invalid --from: %w", err))
	}
	end, err := parseBound(to, time.Now())
	if err != nil {
		return usageError(fmt.Errorf("invalid --to: %w", err))
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return usageError(fmt.Errorf("data directory %s does not exist", dir))
	}

	store, err := openStore(backend, dir, 0, true)
	if err != nil {
		return err
	}
	defer store.Close()

	refs, err := store.List(ctx, start, end)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, ref := range refs {
		fmt.Fprintf(tw, "%s\t%s\n", ref.Name, ref.CapturedAt.Local().Format(resample.TimestampLayout))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d snapshots\n", len(refs))
	return nil
}

func parseBound(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseInLocation(resample.TimestampLayout, v, time.Local)
}
