package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvPrefix+"_CONFIG", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load() = %+v\nwant %+v", cfg, Default())
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
server:
  transport: HTTP
  base_url: http://control.example:9000
  reply_timeout: 3s
codec:
  key: "0a0b0c"
poll:
  interval: 1m
tasks:
  probe:
    hosts: [10.0.0.1, 10.0.0.2]
    ports: [22]
log:
  level: debug
  outputs: [stdout]
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Transport != "http" || cfg.Server.BaseURL != "http://control.example:9000" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ReplyTimeout != 3*time.Second || cfg.Poll.Interval != time.Minute {
		t.Errorf("durations = %v, %v", cfg.Server.ReplyTimeout, cfg.Poll.Interval)
	}
	if cfg.Codec.Key != "0a0b0c" || !cfg.Codec.Compression {
		t.Errorf("codec = %+v", cfg.Codec)
	}
	if !reflect.DeepEqual(cfg.Tasks.Probe.Hosts, []string{"10.0.0.1", "10.0.0.2"}) || !reflect.DeepEqual(cfg.Tasks.Probe.Ports, []int{22}) {
		t.Errorf("probe = %+v", cfg.Tasks.Probe)
	}
	if cfg.Server.Paths.Results != "/control/client/task/result" {
		t.Errorf("default path lost: %+v", cfg.Server.Paths)
	}
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "server:\n  address: file:1\nlog:\n  level: warn\n")
	t.Setenv("RC_AGENT_LOG_LEVEL", "error")
	t.Setenv("RC_AGENT_SERVER_ADDRESS", "env:2")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("server", "", "")
	fs.String("log-level", "", "")
	if err := fs.Parse([]string{"--server", "flag:3"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != "flag:3" {
		t.Errorf("address = %q, want flag value", cfg.Server.Address)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("level = %q, want env value", cfg.Log.Level)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "poll:\n  settle: 50ms\n")
	t.Setenv(EnvPrefix+"_CONFIG", path)
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Poll.Settle != 50*time.Millisecond {
		t.Errorf("settle = %v", cfg.Poll.Settle)
	}
}

func TestLoadErrors(t *testing.T) {
	isolate(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad transport", "server:\n  transport: smoke-signal\n"},
		{"bad level", "log:\n  level: chatty\n"},
		{"bad checksum", "codec:\n  checksum: md5\n"},
		{"zero interval", "poll:\n  interval: 0s\n"},
		{"port range", "server:\n  local_port_min: 5000\n  local_port_max: 4000\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body), nil); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("Load(missing explicit file) succeeded")
	}
}
