// Package util provides small file-system helpers shared by the index cache
// and the diagnostic CLI.
package util

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MinCacheSpaceMB is the minimum free space recommended before writing a
// packet-index cache file.
const MinCacheSpaceMB = 10

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDirectoryWritable checks that a directory exists and accepts writes,
// used before the index cache writes a new entry.
func EnsureDirectoryWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testPath := filepath.Join(path, ".vidtensor_write_test")
	f, err := os.Create(testPath)
	if err != nil {
		return fmt.Errorf("directory is not writable: %s", path)
	}
	_ = f.Close()
	_ = os.Remove(testPath)
	return nil
}

// GetAvailableSpace returns the available disk space in bytes for the given
// path. Returns 0 if the space cannot be determined.
func GetAvailableSpace(path string) uint64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0
	}
	return stat.Bavail * uint64(stat.Bsize)
}

// CheckDiskSpace reports whether there is sufficient free space at path,
// invoking logger with a warning when space is low. Returns true when space
// is sufficient or cannot be determined.
func CheckDiskSpace(path string, logger func(format string, args ...any)) bool {
	available := GetAvailableSpace(path)
	if available == 0 {
		return true
	}

	availableMB := available / (1024 * 1024)
	if availableMB < MinCacheSpaceMB {
		if logger != nil {
			logger("low disk space in %s: %d MB available (minimum recommended: %d MB)",
				path, availableMB, MinCacheSpaceMB)
		}
		return false
	}
	return true
}
