package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/procmem/pkg/config"
	"github.com/nicktill/procmem/pkg/logging"
)

// Exit codes
const (
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

var (
	logLevel   string
	configPath string
	settings   *config.Settings
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "procmem",
	Short: "Sample per-process memory and aggregate it into candles",
	Long: `procmem periodically records the resident memory of the largest processes
into timestamped snapshot files and turns a time range of those snapshots into
open/high/low/close reports per process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(configPath)
		if err != nil {
			return usageError(err)
		}
		if err := logging.Setup(s.Logging, logLevel, os.Stderr); err != nil {
			return usageError(err)
		}
		settings = s
		if s.ConfigFile != "" {
			log.WithField("file", s.ConfigFile).Debug("settings loaded")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel,
		"log-level",
		os.Getenv("PROCMEM_LOG_LEVEL"),
		"Log level. One of debug, info, warning, error, critical. Overrides the settings file.",
	)
	rootCmd.PersistentFlags().StringVar(&configPath,
		"config",
		"",
		"Settings file (JSON or YAML). Defaults to ./"+config.DefaultSettingsFile+" if present.",
	)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(fmt.Errorf("%w\nSee '%s --help'.", err, cmd.CommandPath()))
	})
}

// Execute runs the root command and exits with its exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}
