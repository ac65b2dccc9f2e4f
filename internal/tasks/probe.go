package tasks

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

const (
	defaultProbeWorkers = 128
	defaultProbeTimeout = 200 * time.Millisecond
)

// ProbeOptions configures PortProbe tasks.
type ProbeOptions struct {
	// Hosts are probed when the instruction names none.
	Hosts []string
	// Ports are probed when the instruction names none.
	Ports   []int
	Workers int
	// Timeout bounds each connection attempt.
	Timeout time.Duration
	// Dial replaces the network dialer in tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (o ProbeOptions) withDefaults() ProbeOptions {
	if len(o.Hosts) == 0 {
		o.Hosts = []string{"127.0.0.1"}
	}
	if len(o.Ports) == 0 {
		o.Ports = DefaultPorts
	}
	if o.Workers <= 0 {
		o.Workers = defaultProbeWorkers
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultProbeTimeout
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
	return o
}

// RunProbe attempts a TCP connection to every host and port of p and
// reports open ports as "host: p1,p2" lines. It stops early when ctx ends.
func RunProbe(ctx context.Context, p PortProbe, opts ProbeOptions) protocol.TaskResult {
	opts = opts.withDefaults()
	hosts, ports := p.Hosts, p.Ports
	if len(hosts) == 0 {
		hosts = opts.Hosts
	}
	if len(ports) == 0 {
		ports = opts.Ports
	}

	var mu sync.Mutex
	open := make(map[string][]int)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
schedule:
	for _, host := range hosts {
		for _, port := range ports {
			if gctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				if probePort(gctx, opts, host, port) {
					mu.Lock()
					open[host] = append(open[host], port)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	g.Wait()

	if ctx.Err() != nil {
		return protocol.TaskResult{Status: protocol.AbortedStatus}
	}
	if len(open) == 0 {
		return protocol.TaskResult{Status: 1, Result: "no open ports found on " + strings.Join(hosts, ",")}
	}

	var b strings.Builder
	for _, host := range hosts {
		found := open[host]
		if len(found) == 0 {
			continue
		}
		sort.Ints(found)
		b.WriteString(host)
		b.WriteString(": ")
		for i, port := range found {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(port))
		}
		b.WriteByte('\n')
	}
	return protocol.TaskResult{Result: b.String()}
}

func probePort(ctx context.Context, opts ProbeOptions, host string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	conn, err := opts.Dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
