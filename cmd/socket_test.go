package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestGetSocketPath_Fallback(t *testing.T) {
	// Only run if not root, otherwise it returns the system dir
	if os.Geteuid() == 0 {
		t.Skip("Skipping fallback test when running as root")
	}
	t.Setenv("XDG_RUNTIME_DIR", "")

	path := getSocketPath()
	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %s", path)
	}
	if base := filepath.Base(path); base != socketName {
		t.Errorf("Expected socket filename %q, got %q", socketName, base)
	}

	// filepath.Base(filepath.Dir(path)) should be rc-agent-<uid>
	expected := fmt.Sprintf("rc-agent-%d", os.Geteuid())
	if dir := filepath.Base(filepath.Dir(path)); dir != expected {
		t.Errorf("Expected directory %s, got %s (full path: %s)", expected, dir, path)
	}
}

func TestGetSocketPath_Root(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("root only")
	}
	if got := getSocketPath(); got != filepath.Join(systemSocketDir, socketName) {
		t.Errorf("getSocketPath() = %s", got)
	}
}

// TestSocketPathLogic checks the per-user path against a base directory.
func TestSocketPathLogic(t *testing.T) {
	base := filepath.Join(t.TempDir(), "runtime")

	// Case 1: base does not exist. Should fall back to the temp dir.
	path := getSocketPathWithBase(base)
	expectedFallback := filepath.Join(os.TempDir(), fmt.Sprintf("rc-agent-%d", os.Geteuid()), socketName)
	if path != expectedFallback {
		t.Errorf("Expected fallback path %s, got %s", expectedFallback, path)
	}

	// Case 2: base exists. Should use it.
	if err := os.Mkdir(base, 0700); err != nil {
		t.Fatalf("Failed to create base dir: %v", err)
	}
	path = getSocketPathWithBase(base)
	if expected := filepath.Join(base, "rc-agent", socketName); path != expected {
		t.Errorf("Expected path %s, got %s", expected, path)
	}
}
