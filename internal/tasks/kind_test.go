package tasks

import (
	"errors"
	"reflect"
	"testing"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		task protocol.Task
		want Kind
	}{
		{"shell", protocol.Task{Name: "terminal", Data: "uname -a"}, Shell{Command: "uname -a"}},
		{"abort all", protocol.Task{Name: "abort", Data: ""}, Abort{}},
		{"abort list", protocol.Task{Name: "abort", Data: " a, b ,,c"}, Abort{IDs: []string{"a", "b", "c"}}},
		{"probe ports", protocol.Task{Name: "network_scan", Data: "22,80"}, PortProbe{Ports: []int{22, 80}}},
		{"probe default ports", protocol.Task{Name: "network_scan"}, PortProbe{Ports: []int{}}},
		{"probe hosts", protocol.Task{Name: "network_scan", Data: "127.0.0.1, ::1|443"},
			PortProbe{Hosts: []string{"127.0.0.1", "::1"}, Ports: []int{443}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.task)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseUnknown(t *testing.T) {
	for _, name := range []string{"", "ssh_spread", "Terminal"} {
		if _, err := Parse(protocol.Task{Name: name}); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("Parse(%q) error = %v, want ErrUnknownKind", name, err)
		}
	}
}
