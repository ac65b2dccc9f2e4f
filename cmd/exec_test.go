//go:build !windows

package cmd

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

func TestExecute(t *testing.T) {
	orig := execTaskID
	execTaskID = "job-1"
	defer func() { execTaskID = orig }()

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantResult string
	}{
		{"success reports stdout", []string{"sh", "-c", "echo hello"}, 0, "hello\n"},
		{"failure reports stderr", []string{"sh", "-c", "echo out; echo boom >&2; exit 3"}, 3, "boom\n"},
		{"missing binary", []string{"/nonexistent/rc-agent-test"}, 1, "Execution error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, code := execute(tt.args, 1024)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if res.ID != "job-1" || res.Status != tt.wantCode {
				t.Errorf("result = %+v", res)
			}
			if !strings.HasPrefix(res.Result, tt.wantResult) {
				t.Errorf("result text = %q, want prefix %q", res.Result, tt.wantResult)
			}
		})
	}
}

func TestExecuteTruncatesOutput(t *testing.T) {
	res, code := execute([]string{"sh", "-c", "yes | head -c 5000"}, 100)
	if code != 0 {
		t.Fatalf("code = %d", code)
	}
	if !strings.Contains(res.Result, "output truncated") {
		t.Errorf("output was not truncated: %d bytes", len(res.Result))
	}
}

func TestExecReportsToIntake(t *testing.T) {
	sink := &recordingSink{}
	path := filepath.Join(t.TempDir(), "run", socketName)
	intake, err := listenResults(path, sink, nil)
	if err != nil {
		t.Fatalf("listenResults() error = %v", err)
	}
	go intake.serve()
	defer intake.Close()

	oldPath := execSocketPath
	execSocketPath = path
	defer func() { execSocketPath = oldPath }()

	if err := sendResult(protocol.TaskResult{ID: "e2e", Status: 0, Result: "done"}); err != nil {
		t.Fatalf("sendResult() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 || sink.results[0].ID != "e2e" || sink.results[0].Result != "done" {
		t.Errorf("intake results = %+v", sink.results)
	}
}

func TestSendResultNoAgent(t *testing.T) {
	oldPath := execSocketPath
	execSocketPath = filepath.Join(t.TempDir(), "missing.sock")
	defer func() { execSocketPath = oldPath }()

	if err := sendResult(protocol.TaskResult{ID: "x"}); err == nil {
		t.Error("sendResult() succeeded without a listening agent")
	}
}
