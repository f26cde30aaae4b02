// Package ioutil holds small filesystem helpers used by the client pool's
// session storage and the per-account peer cache: directory creation and
// atomic file writes. Nothing here is Telegram-specific.
package ioutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultFilePerm is applied to the final file produced by AtomicWriteFile.
const defaultFilePerm = 0o600

// EnsureDir creates the directory holding path if it does not already exist.
// A path with no directory component is a no-op.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile writes data to path without ever leaving a partially
// written file in its place: a temp file is created alongside path, written,
// fsynced, chmoded, closed, and renamed over the target. The directory is
// fsynced afterward on a best-effort basis. path and its temp file must live
// on the same filesystem volume for the rename to be atomic.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync() // best-effort: metadata durability, ignored on platforms that don't support it
		_ = dirFile.Close()
	}
	return nil
}

// RemoveBestEffort deletes path and ignores any error. An empty path is a
// no-op.
func RemoveBestEffort(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
