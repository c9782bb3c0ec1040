package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/viper"
)

// Settings is the full runtime configuration.
type Settings struct {
	Collection Collection `mapstructure:"collection"`
	Output     Output     `mapstructure:"output"`
	Security   Security   `mapstructure:"security"`
	Logging    Logging    `mapstructure:"logging"`
	Status     Status     `mapstructure:"status"`

	// ConfigFile is the settings file that was read, empty if none.
	ConfigFile string `mapstructure:"-"`
}

type Collection struct {
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	TopCount        int    `mapstructure:"top_count"`
	ProcessGroupBy  string `mapstructure:"process_group_by"`
}

type Output struct {
	Directory              string `mapstructure:"directory"`
	FileRetentionCount     int    `mapstructure:"file_retention_count"`
	CleanupIntervalSeconds int    `mapstructure:"cleanup_interval_seconds"`
	Backend                string `mapstructure:"backend"`
	MinFreeMB              int64  `mapstructure:"min_free_mb"`
}

type Security struct {
	AllowedOutputPaths []string `mapstructure:"allowed_output_paths"`
	MaxFileSizeMB      float64  `mapstructure:"max_file_size_mb"`
}

type Logging struct {
	Level       string `mapstructure:"level"`
	EnableDebug bool   `mapstructure:"enable_debug"`
	Format      string `mapstructure:"format"`
}

type Status struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Interval returns the sampling period.
func (c Collection) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// CleanupInterval returns the period of the retention loop.
func (o Output) CleanupInterval() time.Duration {
	return time.Duration(o.CleanupIntervalSeconds) * time.Second
}

// MinFree returns the free-space threshold below which emergency cleanup runs.
func (o Output) MinFree() datasize.ByteSize {
	return datasize.ByteSize(o.MinFreeMB) * datasize.MB
}

// MaxFileSize returns the per-snapshot size limit.
func (s Security) MaxFileSize() datasize.ByteSize {
	return datasize.ByteSize(s.MaxFileSizeMB * float64(datasize.MB))
}

var validLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("collection.interval_seconds", DefaultIntervalSeconds)
	v.SetDefault("collection.top_count", DefaultTopCount)
	v.SetDefault("collection.process_group_by", DefaultGroupBy)

	v.SetDefault("output.directory", DefaultOutputDir)
	v.SetDefault("output.file_retention_count", DefaultRetentionCount)
	v.SetDefault("output.cleanup_interval_seconds", DefaultCleanupIntervalSeconds)
	v.SetDefault("output.backend", BackendFile)
	v.SetDefault("output.min_free_mb", DefaultMinFreeMB)

	v.SetDefault("security.allowed_output_paths", DefaultAllowedOutputPaths)
	v.SetDefault("security.max_file_size_mb", DefaultMaxFileSizeMB)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.enable_debug", false)
	v.SetDefault("logging.format", "text")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", DefaultStatusAddr)
}

// Load reads settings from path (JSON or YAML by extension), environment
// variables prefixed with PROCMEM_, and defaults. An empty path means
// settings.json in the working directory. A missing file is not an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = DefaultSettingsFile
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	s.ConfigFile = v.ConfigFileUsed()
	if _, err := os.Stat(s.ConfigFile); err != nil {
		s.ConfigFile = ""
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every value against its allowed range.
func (s *Settings) Validate() error {
	c := s.Collection
	if c.IntervalSeconds < MinIntervalSeconds || c.IntervalSeconds > MaxIntervalSeconds {
		return fmt.Errorf("collection.interval_seconds must be %d-%d, got %d",
			MinIntervalSeconds, MaxIntervalSeconds, c.IntervalSeconds)
	}
	if c.TopCount < 1 || c.TopCount > MaxTopCount {
		return fmt.Errorf("collection.top_count must be 1-%d, got %d", MaxTopCount, c.TopCount)
	}
	if c.ProcessGroupBy != GroupByCommand && c.ProcessGroupBy != GroupByPID {
		return fmt.Errorf("collection.process_group_by must be %q or %q, got %q",
			GroupByCommand, GroupByPID, c.ProcessGroupBy)
	}

	o := s.Output
	if strings.TrimSpace(o.Directory) == "" {
		return errors.New("output.directory must not be empty")
	}
	if o.FileRetentionCount < 1 {
		return fmt.Errorf("output.file_retention_count must be at least 1, got %d", o.FileRetentionCount)
	}
	if o.CleanupIntervalSeconds < MinCleanupIntervalSeconds {
		return fmt.Errorf("output.cleanup_interval_seconds must be at least %d, got %d",
			MinCleanupIntervalSeconds, o.CleanupIntervalSeconds)
	}
	if o.Backend != BackendFile && o.Backend != BackendBadger {
		return fmt.Errorf("output.backend must be %q or %q, got %q", BackendFile, BackendBadger, o.Backend)
	}
	if o.MinFreeMB < 0 {
		return fmt.Errorf("output.min_free_mb must not be negative, got %d", o.MinFreeMB)
	}

	if len(s.Security.AllowedOutputPaths) == 0 {
		return errors.New("security.allowed_output_paths must not be empty")
	}
	if s.Security.MaxFileSizeMB <= 0 {
		return fmt.Errorf("security.max_file_size_mb must be positive, got %v", s.Security.MaxFileSizeMB)
	}

	if !validLevel(s.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %v, got %q", validLevels, s.Logging.Level)
	}
	if f := s.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", f)
	}
	return nil
}

func validLevel(level string) bool {
	for _, l := range validLevels {
		if strings.EqualFold(level, l) {
			return true
		}
	}
	return false
}
