// Package testutil provides small shared helpers for gotsdb's test suite,
// grounded on josedab-chronicle's TempDBPath convention.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDBPath returns a path to a not-yet-existing file inside a fresh
// temporary directory, suitable for CreateDatabase.
func TempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.tsdb")
}

// MustNotExist fails the test if path already exists on disk.
func MustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	}
}
