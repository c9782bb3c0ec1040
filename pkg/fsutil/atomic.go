// Package fsutil publishes files atomically: content is written to a
// temporary file in the destination directory, synced, and renamed into
// place, so readers see either nothing or the complete file.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// TempFile is a file under construction. It becomes visible under its final
// name only when Commit succeeds.
type TempFile struct {
	f    *os.File
	dir  string
	perm os.FileMode
	done bool
}

// CreateTemp creates a temporary file in dir. pattern follows os.CreateTemp.
func CreateTemp(dir, pattern string, perm os.FileMode) (*TempFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &TempFile{f: f, dir: dir, perm: perm}, nil
}

// Name returns the temporary path.
func (t *TempFile) Name() string {
	return t.f.Name()
}

// Write appends to the temporary file.
func (t *TempFile) Write(p []byte) (int, error) {
	return t.f.Write(p)
}

// Commit flushes the file to stable storage and renames it to path, which
// must be in the same directory.
func (t *TempFile) Commit(path string) error {
	if t.done {
		return fmt.Errorf("temp file %s already finished", t.f.Name())
	}
	if err := t.f.Chmod(t.perm); err != nil {
		t.Abort()
		return fmt.Errorf("chmod: %w", err)
	}
	if err := t.f.Sync(); err != nil {
		t.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := t.f.Close(); err != nil {
		t.done = true
		os.Remove(t.f.Name())
		return fmt.Errorf("close: %w", err)
	}
	t.done = true
	if err := os.Rename(t.f.Name(), path); err != nil {
		os.Remove(t.f.Name())
		return fmt.Errorf("rename: %w", err)
	}
	// The file is published; a failed directory sync only weakens durability
	// across a crash.
	if err := syncDir(t.dir); err != nil {
		log.WithField("dir", t.dir).WithError(err).Warn("failed to sync directory after rename")
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (t *TempFile) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.f.Close()
	if err := os.Remove(t.f.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := CreateTemp(dir, "."+filepath.Base(path)+".*.tmp", perm)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Abort()
		return fmt.Errorf("write: %w", err)
	}
	return tmp.Commit(path)
}

// syncDir makes a completed rename durable. Directories cannot be synced on
// Windows.
var syncDir = func(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
