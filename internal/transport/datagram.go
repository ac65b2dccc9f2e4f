// Package transport moves encoded datagrams between the agent and the control
// server. Delivery is at-most-once: nothing is retransmitted, sequenced or
// reordered, and failures are logged rather than returned.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

const (
	defaultReplyTimeout = 2 * time.Second
	maxDatagram         = 64 * 1024
	portAttempts        = 16
	drainWindow         = time.Millisecond
)

var (
	// ErrTransportUnreachable covers resolution and socket write failures.
	ErrTransportUnreachable = errors.New("transport: destination unreachable")
	// ErrTimeout means no reply arrived within the bound.
	ErrTimeout = errors.New("transport: no reply before deadline")
)

// Options configures the local socket.
type Options struct {
	// LocalPortMin and LocalPortMax select a random local port from the
	// inclusive range. Zero values let the OS pick an ephemeral port.
	LocalPortMin int
	LocalPortMax int
	// ReplyTimeout bounds SendAndAwaitReply when the caller passes zero.
	ReplyTimeout time.Duration
	Logger       *zap.Logger
	Registry     metrics.Registry
}

// Datagram owns one UDP socket bound to a non-fixed local port.
type Datagram struct {
	conn    *net.UDPConn
	log     *zap.Logger
	timeout time.Duration

	// mu serializes request/reply exchanges so a reply is attributed to the
	// request that preceded it.
	mu sync.Mutex

	bytesSent     metrics.Counter
	bytesReceived metrics.Counter
	datagramsSent metrics.Counter
	replies       metrics.Counter
	timeouts      metrics.Counter
}

// Listen binds the local socket. Failing to bind is the one error the agent
// treats as fatal.
func Listen(opts Options) (*Datagram, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	timeout := opts.ReplyTimeout
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}

	conn, err := bind(opts.LocalPortMin, opts.LocalPortMax)
	if err != nil {
		return nil, err
	}

	d := &Datagram{
		conn:          conn,
		log:           log.Named("transport"),
		timeout:       timeout,
		bytesSent:     metrics.GetOrRegisterCounter("transport.bytes_sent", reg),
		bytesReceived: metrics.GetOrRegisterCounter("transport.bytes_received", reg),
		datagramsSent: metrics.GetOrRegisterCounter("transport.datagrams_sent", reg),
		replies:       metrics.GetOrRegisterCounter("transport.replies", reg),
		timeouts:      metrics.GetOrRegisterCounter("transport.timeouts", reg),
	}
	d.log.Info("datagram socket bound", zap.Stringer("local", conn.LocalAddr()))
	return d, nil
}

func bind(minPort, maxPort int) (*net.UDPConn, error) {
	if minPort <= 0 || maxPort < minPort {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			return nil, errors.Wrap(err, "binding ephemeral udp socket")
		}
		return conn, nil
	}

	var lastErr error
	for i := 0; i < portAttempts; i++ {
		port := minPort + rand.Intn(maxPort-minPort+1)
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "binding udp socket in port range %d-%d", minPort, maxPort)
}

// LocalAddr returns the bound local address.
func (d *Datagram) LocalAddr() net.Addr { return d.conn.LocalAddr() }

// Close releases the socket.
func (d *Datagram) Close() error { return d.conn.Close() }

// Send transmits buf to dest without waiting for a reply. Failures are logged
// and dropped.
func (d *Datagram) Send(ctx context.Context, buf []byte, dest string) {
	if ctx.Err() != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.send(buf, dest); err != nil {
		d.log.Warn("send failed", zap.String("dest", dest), zap.Error(err))
	}
}

// SendAndAwaitReply transmits buf to dest and waits for one datagram from the
// same endpoint. It returns an empty slice when nothing usable arrives before
// the timeout (zero means the configured default) or the context ends.
func (d *Datagram) SendAndAwaitReply(ctx context.Context, buf []byte, dest string, timeout time.Duration) []byte {
	if ctx.Err() != nil {
		return nil
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.drain()
	raddr, err := d.send(buf, dest)
	if err != nil {
		d.log.Warn("send failed", zap.String("dest", dest), zap.Error(err))
		return nil
	}

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		d.log.Warn("setting read deadline", zap.Error(err))
		return nil
	}
	defer d.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { d.conn.SetReadDeadline(time.Now()) })
	defer stop()

	rbuf := make([]byte, maxDatagram)
	for {
		n, from, err := d.conn.ReadFromUDP(rbuf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				d.timeouts.Inc(1)
				d.log.Debug("no reply", zap.String("dest", dest), zap.Error(ErrTimeout))
			} else {
				d.log.Warn("receive failed", zap.String("dest", dest), zap.Error(err))
			}
			return nil
		}
		if !sameEndpoint(from, raddr) {
			d.log.Debug("discarding datagram from unexpected sender", zap.Stringer("from", from))
			continue
		}
		d.replies.Inc(1)
		d.bytesReceived.Inc(int64(n))
		return append([]byte(nil), rbuf[:n]...)
	}
}

func (d *Datagram) send(buf []byte, dest string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, errors.Wrap(ErrTransportUnreachable, err.Error())
	}
	n, err := d.conn.WriteToUDP(buf, raddr)
	if err != nil {
		return nil, errors.Wrap(ErrTransportUnreachable, err.Error())
	}
	d.datagramsSent.Inc(1)
	d.bytesSent.Inc(int64(n))
	return raddr, nil
}

// drain discards datagrams that arrived after an earlier exchange timed out.
func (d *Datagram) drain() {
	if err := d.conn.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
		return
	}
	defer d.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, maxDatagram)
	for {
		if _, _, err := d.conn.ReadFromUDP(buf); err != nil {
			return
		}
	}
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// Stats renders the traffic counters for logging.
func (d *Datagram) Stats() string {
	return fmt.Sprintf("sent %s in %s datagrams, received %s in %s replies, %s timeouts",
		humanize.Bytes(uint64(d.bytesSent.Count())),
		humanize.Comma(d.datagramsSent.Count()),
		humanize.Bytes(uint64(d.bytesReceived.Count())),
		humanize.Comma(d.replies.Count()),
		humanize.Comma(d.timeouts.Count()))
}
