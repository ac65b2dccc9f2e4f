//go:build windows

package tasks

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "killing process")
	}
	return nil
}
