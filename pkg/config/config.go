package config

import "time"

// Collection defaults and limits
const (
	DefaultIntervalSeconds = 60
	MinIntervalSeconds     = 10
	MaxIntervalSeconds     = 300
	DefaultTopCount        = 40
	MaxTopCount            = 1000
	DefaultGroupBy         = GroupByCommand
	MaxCommandLength       = 100
)

// Process grouping modes
const (
	GroupByCommand = "command"
	GroupByPID     = "pid"
)

// Output defaults
const (
	DefaultOutputDir              = "./output"
	DefaultRetentionCount         = 1440
	DefaultCleanupIntervalSeconds = 3600
	MinCleanupIntervalSeconds     = 60
	DefaultMinFreeMB              = 1024
	DefaultMaxFileSizeMB          = 100
)

// Storage backends
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Badger tuning
const (
	DefaultBadgerMaxMemoryMB = 48
	BadgerGCInterval         = 10 * time.Minute
	BadgerGCDiscardRatio     = 0.5
)

// Aggregation defaults
const (
	DefaultBucketMinutes = 15
	DefaultTopReported   = 10
)

// Status endpoint defaults
const (
	DefaultStatusAddr     = "127.0.0.1:9464"
	StatusRequestTimeout  = 5 * time.Second
	StatusShutdownTimeout = 5 * time.Second
	StorageUsageCacheTTL  = 30 * time.Second
)

// DefaultSettingsFile is read from the working directory when no --config
// flag is given.
const DefaultSettingsFile = "settings.json"

// EnvPrefix prefixes environment overrides, e.g. PROCMEM_OUTPUT_DIRECTORY.
const EnvPrefix = "PROCMEM"

// DefaultAllowedOutputPaths bounds where snapshots may be written.
var DefaultAllowedOutputPaths = []string{"./output", "/tmp/process_memory"}
