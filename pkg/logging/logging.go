// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/config"
)

// ParseLevel accepts logrus level names as well as the settings-file names
// DEBUG, INFO, WARNING, ERROR and CRITICAL.
func ParseLevel(level string) (log.Level, error) {
	if strings.EqualFold(level, "CRITICAL") {
		return log.FatalLevel, nil
	}
	return log.ParseLevel(strings.ToLower(level))
}

// Setup applies the logging section of the settings. A non-empty override
// (the --log-level flag) takes precedence over the configured level.
func Setup(cfg config.Logging, override string, out io.Writer) error {
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	name := cfg.Level
	if cfg.EnableDebug {
		name = "debug"
	}
	if override != "" {
		name = override
	}
	if name == "" {
		name = "info"
	}

	level, err := ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	return nil
}
