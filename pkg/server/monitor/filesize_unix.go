//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// getActualFileSize returns allocated bytes, so sparse files count for what
// they occupy rather than their logical length.
func getActualFileSize(path string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// st_blocks is in 512-byte units regardless of the filesystem block size
	return int64(stat.Blocks) * 512, nil
}
