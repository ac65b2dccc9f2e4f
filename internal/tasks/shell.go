package tasks

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/pkg/errors"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

// ShellOptions configures how Shell tasks are started.
type ShellOptions struct {
	// Shell overrides the interpreter. Empty selects "sh" or "cmd" on windows.
	Shell string
	// MaxOutput caps each captured stream.
	MaxOutput int
}

// Process is a shell command started by StartShell. It satisfies
// orchestrator.Process.
type Process struct {
	cmd    *exec.Cmd
	stdout *OutputBuffer
	stderr *OutputBuffer
	done   chan struct{}
	code   int
}

// ShellCommand builds the interpreter invocation for command.
func ShellCommand(opts ShellOptions, command string) *exec.Cmd {
	sh := opts.Shell
	if runtime.GOOS == "windows" {
		if sh == "" {
			sh = "cmd"
		}
		return exec.Command(sh, "/C", command)
	}
	if sh == "" {
		sh = "sh"
	}
	return exec.Command(sh, "-c", command)
}

// StartShell runs command in its own process group and captures both
// streams into bounded buffers.
func StartShell(opts ShellOptions, command string) (*Process, error) {
	cmd := ShellCommand(opts, command)
	return Start(cmd, opts.MaxOutput)
}

// Start runs cmd with bounded output capture. cmd must not have been started.
func Start(cmd *exec.Cmd, maxOutput int) (*Process, error) {
	p := &Process{
		cmd:    cmd,
		stdout: NewOutputBuffer(maxOutput),
		stderr: NewOutputBuffer(maxOutput),
		done:   make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", cmd.Path)
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	defer close(p.done)
	err := p.cmd.Wait()
	if err == nil {
		p.code = 0
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.code = exitErr.ExitCode()
		// Terminated by a signal: there is no exit status to report.
		if p.code == -1 {
			p.code = protocol.AbortedStatus
		}
		return
	}
	p.code = 1
	fmt.Fprintf(p.stderr, "\nExecution error: %v", err)
}

// TryWait reports the exit code once the process has exited.
func (p *Process) TryWait() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

// Wait blocks until the process exits.
func (p *Process) Wait() int {
	<-p.done
	return p.code
}

// Output returns the captured streams.
func (p *Process) Output() (string, string) {
	return p.stdout.String(), p.stderr.String()
}

// Kill stops the process and every child it started.
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcessGroup(p.cmd)
}
