package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/procmem/pkg/collector"
	"github.com/nicktill/procmem/pkg/config"
	"github.com/nicktill/procmem/pkg/sampler"
	"github.com/nicktill/procmem/pkg/server"
	"github.com/nicktill/procmem/pkg/server/monitor"
)

var (
	collectStatus     bool
	collectStatusAddr string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Sample process memory until interrupted",
	Long: `Collect saves one snapshot of the largest processes every interval, enforces
the retention count and optionally serves sampler health on a local address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := *settings
		if cmd.Flags().Changed("status") {
			s.Status.Enabled = collectStatus
		}
		if cmd.Flags().Changed("status-addr") {
			s.Status.Addr = collectStatusAddr
			s.Status.Enabled = true
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCollect(ctx, &s, collector.SystemSource{})
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectStatus, "status", false, "Serve sampler health on the status address")
	collectCmd.Flags().StringVar(&collectStatusAddr, "status-addr", config.DefaultStatusAddr, "Loopback address of the status endpoint")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(ctx context.Context, s *config.Settings, src collector.Source) error {
	dir := s.Output.Directory
	if err := config.ValidateOutputDir(dir, s.Security.AllowedOutputPaths); err != nil {
		return usageError(err)
	}

	store, err := openStore(s.Output.Backend, dir, s.Security.MaxFileSize(), false)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close storage")
		}
	}()

	log.WithFields(log.Fields{
		"dir":       dir,
		"backend":   s.Output.Backend,
		"interval":  s.Collection.Interval(),
		"top":       s.Collection.TopCount,
		"group_by":  s.Collection.ProcessGroupBy,
		"retention": s.Output.FileRetentionCount,
	}).Info("starting collection")

	col := collector.New(src, collector.Config{
		TopCount: s.Collection.TopCount,
		GroupBy:  s.Collection.ProcessGroupBy,
	})
	usage := monitor.NewStorageMonitor(dir, s.Security.MaxFileSize(), config.StorageUsageCacheTTL)
	health := monitor.NewSamplerMonitor(s.Collection.Interval())

	smp := sampler.New(sampler.Config{
		Interval:        s.Collection.Interval(),
		CleanupInterval: s.Output.CleanupInterval(),
		RetentionCount:  s.Output.FileRetentionCount,
		MinFree:         s.Output.MinFree(),
	}, col, store, health, usage)

	var srv *server.Server
	if s.Status.Enabled {
		srv, err = server.New(s.Status.Addr, store, health, usage)
		if err != nil {
			return usageError(err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return smp.Run(gctx) })
	g.Go(func() error {
		return sampler.RunCleanup(gctx, store, s.Output.FileRetentionCount, s.Output.CleanupInterval(), usage)
	})
	g.Go(func() error {
		return sampler.RunBadgerGC(gctx, store, config.BadgerGCInterval, config.BadgerGCDiscardRatio)
	})
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	log.Info("collection stopped")
	return err
}
