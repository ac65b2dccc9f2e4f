package transport

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// startServer runs a loopback UDP server that answers every datagram with
// reply(payload). A nil reply function never answers.
func startServer(t *testing.T, reply func(net.PacketConn, net.Addr, []byte)) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if reply != nil {
				reply(pc, from, append([]byte(nil), buf[:n]...))
			}
		}
	}()
	return pc
}

func newDatagram(t *testing.T, opts Options) *Datagram {
	t.Helper()
	d, err := Listen(opts)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSendAndAwaitReply(t *testing.T) {
	srv := startServer(t, func(pc net.PacketConn, from net.Addr, p []byte) {
		pc.WriteTo(bytes.ToUpper(p), from)
	})
	d := newDatagram(t, Options{})

	got := d.SendAndAwaitReply(context.Background(), []byte("ping"), srv.LocalAddr().String(), time.Second)
	if string(got) != "PING" {
		t.Errorf("reply = %q, want %q", got, "PING")
	}
	if !strings.Contains(d.Stats(), "1 replies") {
		t.Errorf("Stats() = %q", d.Stats())
	}
}

func TestSendAndAwaitReply_Timeout(t *testing.T) {
	srv := startServer(t, nil)
	d := newDatagram(t, Options{})

	start := time.Now()
	got := d.SendAndAwaitReply(context.Background(), []byte("ping"), srv.LocalAddr().String(), 100*time.Millisecond)
	if len(got) != 0 {
		t.Errorf("expected empty reply, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestSendAndAwaitReply_ContextCancel(t *testing.T) {
	srv := startServer(t, nil)
	d := newDatagram(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	got := d.SendAndAwaitReply(ctx, []byte("ping"), srv.LocalAddr().String(), 10*time.Second)
	if len(got) != 0 {
		t.Errorf("expected empty reply, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel was not honoured, took %v", elapsed)
	}
}

func TestSendAndAwaitReply_IgnoresOtherSenders(t *testing.T) {
	stranger, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()

	srv := startServer(t, func(pc net.PacketConn, from net.Addr, p []byte) {
		stranger.WriteTo([]byte("spoofed"), from)
		time.Sleep(20 * time.Millisecond)
		pc.WriteTo([]byte("genuine"), from)
	})
	d := newDatagram(t, Options{})

	got := d.SendAndAwaitReply(context.Background(), []byte("ping"), srv.LocalAddr().String(), time.Second)
	if string(got) != "genuine" {
		t.Errorf("reply = %q, want %q", got, "genuine")
	}
}

func TestSend_UnreachableIsSwallowed(t *testing.T) {
	d := newDatagram(t, Options{})

	d.Send(context.Background(), []byte("x"), "not a host:port:at all")
	if got := d.SendAndAwaitReply(context.Background(), []byte("x"), "bad..host:99999", 50*time.Millisecond); got != nil {
		t.Errorf("expected nil reply, got %q", got)
	}
}

func TestListen_PortRange(t *testing.T) {
	probe, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	port := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	d := newDatagram(t, Options{LocalPortMin: port, LocalPortMax: port})
	if got := d.LocalAddr().(*net.UDPAddr).Port; got != port {
		t.Errorf("bound port = %d, want %d", got, port)
	}
}

func TestListen_EphemeralPortsDiffer(t *testing.T) {
	a := newDatagram(t, Options{})
	b := newDatagram(t, Options{})
	pa := a.LocalAddr().(*net.UDPAddr).Port
	pb := b.LocalAddr().(*net.UDPAddr).Port
	if pa == 0 || pa == pb {
		t.Errorf("expected distinct non-zero ports, got %d and %d", pa, pb)
	}
}
