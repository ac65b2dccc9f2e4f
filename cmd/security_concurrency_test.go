package cmd

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

type recordingSink struct {
	mu      sync.Mutex
	results []protocol.TaskResult
}

func (s *recordingSink) SubmitResult(r protocol.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func startTestIntake(t *testing.T, sink resultSink) *resultIntake {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sock", socketName)
	intake, err := listenResults(path, sink, nil)
	if err != nil {
		t.Fatalf("listenResults() error = %v", err)
	}
	go intake.serve()
	return intake
}

func TestBoundedConcurrency(t *testing.T) {
	// Override maxConcurrentConnections to a small number
	originalMaxConns := maxConcurrentConnections
	maxConcurrentConnections = 5
	defer func() { maxConcurrentConnections = originalMaxConns }()

	sink := &recordingSink{}
	intake := startTestIntake(t, sink)

	// Connections beyond the limit are accepted by the OS backlog but not
	// handled until a slot frees up.
	const targetConnections = 20
	conns := make([]net.Conn, targetConnections)
	var connsMu sync.Mutex

	defer func() {
		connsMu.Lock()
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
		connsMu.Unlock()
		intake.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(targetConnections)
	for i := 0; i < targetConnections; i++ {
		go func(idx int) {
			defer wg.Done()
			conn, err := net.Dial("unix", intake.path)
			if err != nil {
				t.Errorf("Failed to connect %d: %v", idx, err)
				return
			}
			connsMu.Lock()
			conns[idx] = conn
			connsMu.Unlock()
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for connections to be established")
	}

	// Every held connection eventually gets a turn once earlier ones finish.
	connsMu.Lock()
	for i, c := range conns {
		if c == nil {
			continue
		}
		c.Write([]byte(`{"id":"t` + string(rune('a'+i)) + `","status":0,"result":""}`))
		c.Close()
		conns[i] = nil
	}
	connsMu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for sink.count() < targetConnections && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.count(); got != targetConnections {
		t.Errorf("Expected %d results, got %d", targetConnections, got)
	}
}
