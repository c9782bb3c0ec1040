package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var systemDirs = []string{
	"/etc", "/usr", "/var", "/bin", "/sbin", "/boot", "/dev", "/proc", "/sys",
	"/lib", "/lib64", "/run", "/root",
}

var traversalPatterns = []string{"..", "%2e%2e", "%2f", "%5c"}

// ValidateOutputDir checks that dir is a safe place to write snapshots: no
// traversal components, not inside a system directory, and inside one of
// allowed. It creates dir if needed and verifies it is writable.
func ValidateOutputDir(dir string, allowed []string) error {
	lower := strings.ToLower(dir)
	for _, p := range traversalPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("output directory %q contains a traversal pattern", dir)
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving output directory: %w", err)
	}

	for _, sys := range systemDirs {
		if within(abs, sys) {
			return fmt.Errorf("output directory %s is inside system directory %s", abs, sys)
		}
	}

	permitted := false
	for _, a := range allowed {
		allowedAbs, err := filepath.Abs(a)
		if err != nil {
			continue
		}
		if within(abs, allowedAbs) {
			permitted = true
			break
		}
	}
	if !permitted {
		return fmt.Errorf("output directory %s is not under any allowed path %v", abs, allowed)
	}

	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	probe, err := os.CreateTemp(abs, ".write_probe_*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", abs, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// within reports whether path is root or below it.
func within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
