// Package tasks turns fetched task descriptions into work the orchestrator
// can track. The set of kinds is closed: Parse is the only constructor and
// Dispatcher switches over every variant.
package tasks

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

// Task names understood by Parse.
const (
	NameShell     = "terminal"
	NameAbort     = "abort"
	NamePortProbe = "network_scan"
)

// ErrUnknownKind is returned by Parse for a task name with no handler.
var ErrUnknownKind = errors.New("tasks: unknown task kind")

// Kind is one of Shell, Abort or PortProbe.
type Kind interface {
	kindName() string
}

// Shell runs Command through the platform shell as a tracked process.
type Shell struct {
	Command string
}

// Abort stops the listed tasks. No ids means every task.
type Abort struct {
	IDs []string
}

// PortProbe reports which TCP ports accept connections. Empty Hosts or Ports
// select the configured defaults.
type PortProbe struct {
	Hosts []string
	Ports []int
}

func (Shell) kindName() string     { return NameShell }
func (Abort) kindName() string     { return NameAbort }
func (PortProbe) kindName() string { return NamePortProbe }

// Parse decodes the task's instruction according to its name.
func Parse(t protocol.Task) (Kind, error) {
	switch t.Name {
	case NameShell:
		return Shell{Command: t.Data}, nil
	case NameAbort:
		return Abort{IDs: splitList(t.Data)}, nil
	case NamePortProbe:
		return parsePortProbe(t.Data), nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", t.Name)
	}
}

// parsePortProbe reads "<ports>" or "<hosts>|<ports>".
func parsePortProbe(data string) PortProbe {
	var p PortProbe
	ports := data
	if hosts, rest, ok := strings.Cut(data, "|"); ok {
		p.Hosts = splitList(hosts)
		ports = rest
	}
	p.Ports = ParsePorts(ports)
	return p
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
