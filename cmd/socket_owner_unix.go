//go:build !windows

package cmd

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// verifyFileOwner checks if the file is owned by the current effective user.
func verifyFileOwner(info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return errors.New("failed to get system file info")
	}
	if uid := uint32(os.Geteuid()); stat.Uid != uid {
		return errors.Errorf("file owner mismatch: expected uid %d, got %d", uid, stat.Uid)
	}
	return nil
}
