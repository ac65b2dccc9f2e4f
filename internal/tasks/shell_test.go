//go:build !windows

package tasks

import (
	"strings"
	"testing"
	"time"

	"github.com/relaycommander/rc-agent/internal/orchestrator"
	"github.com/relaycommander/rc-agent/internal/protocol"
)

var _ orchestrator.Process = (*Process)(nil)

func waitExit(t *testing.T, p *Process) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if code, ok := p.TryWait(); ok {
			return code
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("process did not exit")
	return 0
}

func TestStartShell(t *testing.T) {
	tests := []struct {
		command    string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"echo hello", 0, "hello\n", ""},
		{"echo oops >&2; exit 3", 3, "", "oops\n"},
		{"printf 'a'; printf 'b' >&2", 0, "a", "b"},
	}
	for _, tt := range tests {
		p, err := StartShell(ShellOptions{}, tt.command)
		if err != nil {
			t.Fatalf("StartShell(%q) error = %v", tt.command, err)
		}
		if code := waitExit(t, p); code != tt.wantCode {
			t.Errorf("%q exit = %d, want %d", tt.command, code, tt.wantCode)
		}
		stdout, stderr := p.Output()
		if stdout != tt.wantStdout || stderr != tt.wantStderr {
			t.Errorf("%q output = %q, %q", tt.command, stdout, stderr)
		}
	}
}

func TestStartShellOutputCap(t *testing.T) {
	p, err := StartShell(ShellOptions{MaxOutput: 8}, "printf 0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	waitExit(t, p)
	stdout, _ := p.Output()
	if stdout != "01234567"+truncationMarker {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestKillProcessGroup(t *testing.T) {
	p, err := StartShell(ShellOptions{}, "sleep 30 & sleep 30; echo never")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.TryWait(); ok {
		t.Fatal("process exited immediately")
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	code := waitExit(t, p)
	if code == 0 {
		t.Errorf("exit code = 0 after kill")
	}
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill() error = %v", err)
	}
}

func TestShellThroughOrchestrator(t *testing.T) {
	o := orchestrator.New(nil, nil)
	if err := o.Spawn("echo", func() (orchestrator.Process, error) {
		return StartShell(ShellOptions{}, "echo via registry")
	}); err != nil {
		t.Fatal(err)
	}
	if err := o.Spawn("sleeper", func() (orchestrator.Process, error) {
		return StartShell(ShellOptions{}, "sleep 30")
	}); err != nil {
		t.Fatal(err)
	}
	o.Abort("sleeper")

	got := map[string]protocol.TaskResult{}
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		for _, r := range o.PollCompleted() {
			got[r.ID] = r
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r := got["echo"]; r.Status != 0 || strings.TrimSpace(r.Result) != "via registry" {
		t.Errorf("echo result = %+v", r)
	}
	if r := got["sleeper"]; r.Status != protocol.AbortedStatus || r.Result != "" {
		t.Errorf("sleeper result = %+v", r)
	}
}

func TestSignalledProcessReportsAborted(t *testing.T) {
	p, err := StartShell(ShellOptions{}, "echo out; echo err >&2; kill -9 $$")
	if err != nil {
		t.Fatal(err)
	}
	if code := waitExit(t, p); code != protocol.AbortedStatus {
		t.Errorf("exit = %d, want %d", code, protocol.AbortedStatus)
	}

	o := orchestrator.New(nil, nil)
	if err := o.Spawn("killed", func() (orchestrator.Process, error) {
		return StartShell(ShellOptions{}, "echo out; echo err >&2; kill -9 $$")
	}); err != nil {
		t.Fatal(err)
	}
	var got []protocol.TaskResult
	deadline := time.Now().Add(5 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		got = o.PollCompleted()
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 1 || got[0].Status != protocol.AbortedStatus || got[0].Result != "" {
		t.Errorf("results = %+v, want one aborted result with no output", got)
	}
}
