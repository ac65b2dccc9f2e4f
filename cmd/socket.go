package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

const socketName = "rc-agent.sock"

// systemSocketDir holds the socket when the agent runs as root.
var systemSocketDir = "/run/rc-agent"

// execSocketPath overrides the socket used by exec mode.
var execSocketPath string

// getSocketPath determines the socket path for the current user.
//
// root uses systemSocketDir. Other users get $XDG_RUNTIME_DIR/rc-agent, or a
// per-uid directory under the temp dir when XDG_RUNTIME_DIR is unset.
//
// SECURITY: a fixed name directly in /tmp allows local DoS and hijacking, so
// the socket always lives in a directory only its owner can enter.
func getSocketPath() string {
	if runtime.GOOS != "windows" && os.Geteuid() == 0 {
		return filepath.Join(systemSocketDir, socketName)
	}
	return getSocketPathWithBase(os.Getenv("XDG_RUNTIME_DIR"))
}

// getSocketPathWithBase returns the per-user socket path below base, falling
// back to the temp dir when base is empty or missing.
func getSocketPathWithBase(base string) string {
	if base != "" {
		if info, err := os.Stat(base); err == nil && info.IsDir() {
			return filepath.Join(base, "rc-agent", socketName)
		}
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("rc-agent-%d", os.Geteuid()), socketName)
}

// determineSocketPath resolves the intake socket path and prepares its
// directory. An empty configured path selects getSocketPath. The cleanup
// function removes the socket and, once empty, its directory.
func determineSocketPath(configured string) (string, func(), error) {
	path := configured
	if path == "" {
		path = getSocketPath()
	}
	dir := filepath.Dir(path)
	if err := ensureSocketDir(dir); err != nil {
		return "", func() {}, err
	}
	cleanup := func() {
		os.Remove(path)
		os.Remove(dir)
	}
	return path, cleanup, nil
}

// resultSocketPath is the socket exec mode reports to: --socket, then the
// configured results.socket, then the per-user default.
func resultSocketPath() string {
	if execSocketPath != "" {
		return execSocketPath
	}
	if cfg != nil && cfg.Results.Socket != "" && cfg.Results.Socket != "-" {
		return cfg.Results.Socket
	}
	return getSocketPath()
}

// ensureSocketDir ensures that the directory for the socket exists,
// has 0700 permissions, and is owned by the current user.
func ensureSocketDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		// Create with 0700 (rwx------)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "failed to create socket directory")
		}
		// Re-stat to catch a directory someone else created in between
		info, err = os.Stat(dir)
	}
	if err != nil {
		return errors.Wrap(err, "failed to stat socket directory")
	}

	if !info.IsDir() {
		return errors.Errorf("path exists but is not a directory: %s", dir)
	}

	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0700 {
			return errors.Errorf("insecure socket directory permissions: %o (expected 0700)", perm)
		}
	}

	if err := verifyFileOwner(info); err != nil {
		return errors.Wrap(err, "insecure socket directory ownership")
	}
	return nil
}
