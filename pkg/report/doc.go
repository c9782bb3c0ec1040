// Package report turns a resampling result into its tabular reports and
// writes them to disk.
//
// # Tables
//
// The primary table has one row per bucket, oldest first. After the time
// column, each identity contributes four columns in first-appearance order:
//
//	time                 1234_open  1234_high  1234_low  1234_close  1234(2)_open ...
//	2025-06-04 10:00:00  100        300        50        200
//	2025-06-04 10:15:00                                               4096 ...
//
// A bucket without observations for an identity leaves all four cells
// empty. A cell is never "0" unless the observed value was 0.
//
// The mapping table lists each identity label with the command it stands
// for, in the same order:
//
//	PID      COMMAND
//	1234     /usr/bin/a
//	1234(2)  /usr/bin/b
//
// # Formats
//
//   - tsv: two tab-separated files, <base>.tsv and <base>_pid_mapping.tsv
//   - json: one <base>.json document holding both tables' data
//
// Files are written to a temp file and renamed into place, so a failed or
// interrupted write never leaves a truncated report.
package report
