package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/jellydator/ttlcache/v3"
)

const usageKey = "usage"

// StorageMonitor reports snapshot directory usage, cached so frequent status
// requests do not rescan the directory.
type StorageMonitor struct {
	dataDir     string
	maxFileSize datasize.ByteSize
	cache       *ttlcache.Cache[string, int64]

	// mu keeps concurrent misses from scanning the directory twice
	mu sync.Mutex
}

// NewStorageMonitor creates a monitor for dataDir whose usage is cached for ttl.
func NewStorageMonitor(dataDir string, maxFileSize datasize.ByteSize, ttl time.Duration) *StorageMonitor {
	return &StorageMonitor{
		dataDir:     dataDir,
		maxFileSize: maxFileSize,
		cache: ttlcache.New[string, int64](
			ttlcache.WithTTL[string, int64](ttl),
			ttlcache.WithDisableTouchOnHit[string, int64](),
		),
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	if item := sm.cache.Get(usageKey); item != nil {
		return item.Value(), nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if item := sm.cache.Get(usageKey); item != nil {
		return item.Value(), nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cache.Set(usageKey, usage, ttlcache.DefaultTTL)
	return usage, nil
}

// Invalidate drops the cached usage, e.g. after a retention pass.
func (sm *StorageMonitor) Invalidate() {
	sm.cache.Delete(usageKey)
}

// MaxFileSize returns the configured per-snapshot limit.
func (sm *StorageMonitor) MaxFileSize() datasize.ByteSize {
	return sm.maxFileSize
}

// Dir returns the monitored directory.
func (sm *StorageMonitor) Dir() string {
	return sm.dataDir
}

// calculateDirSize sums the allocated size of every file under path.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			// A snapshot removed by retention mid-walk is not an error.
			if os.IsNotExist(err) && filePath != path {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			allocated, err := getActualFileSize(filePath, info)
			if err != nil {
				allocated = info.Size()
			}
			size += allocated
		}
		return nil
	})
	return size, err
}
