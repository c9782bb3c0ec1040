//go:build windows

package filestore

// freeBytes is not implemented on Windows; the space guard is skipped.
func freeBytes(dir string) (uint64, error) {
	return 0, errFreeSpaceUnknown
}
