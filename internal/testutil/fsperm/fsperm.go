// Package fsperm checks the on-disk permissions of identity files in tests.
package fsperm

import (
	"os"
	"runtime"
	"testing"
)

// AssertPrivateDir verifies that dir exists and only its owner can enter it.
func AssertPrivateDir(t testing.TB, dir string) {
	t.Helper()
	assertMode(t, dir, true, 0o700)
}

// AssertFileMode verifies that path is a regular file with permission bits want.
func AssertFileMode(t testing.TB, path string, want os.FileMode) {
	t.Helper()
	assertMode(t, path, false, want)
}

func assertMode(t testing.TB, path string, dir bool, want os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s failed: %v", path, err)
	}
	if info.IsDir() != dir {
		t.Fatalf("%s: directory=%v, want %v", path, info.IsDir(), dir)
	}
	if runtime.GOOS == "windows" {
		return
	}
	if perm := info.Mode().Perm(); perm != want {
		t.Fatalf("expected perm %04o, got %04o for %s", want, perm, path)
	}
}
