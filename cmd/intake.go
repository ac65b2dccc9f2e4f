package cmd

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/protocol"
)

var (
	maxConcurrentConnections = 50
	socketReadTimeout        = 5 * time.Second
)

const maxResultSize = 1 << 20

type resultSink interface {
	SubmitResult(protocol.TaskResult) error
}

// resultIntake accepts TaskResults from exec mode over a unix socket and
// hands them to the orchestrator.
type resultIntake struct {
	listener    net.Listener
	path        string
	sink        resultSink
	log         *zap.Logger
	maxConns    int
	readTimeout time.Duration
	cleanup     func()

	wg sync.WaitGroup
}

func newResultIntake(sink resultSink, log *zap.Logger) *resultIntake {
	if log == nil {
		log = zap.NewNop()
	}
	return &resultIntake{
		sink:        sink,
		log:         log.Named("intake"),
		maxConns:    maxConcurrentConnections,
		readTimeout: socketReadTimeout,
	}
}

// listenResults binds the socket at path inside a private directory.
func listenResults(path string, sink resultSink, log *zap.Logger) (*resultIntake, error) {
	if err := ensureSocketDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	// Remove a stale socket
	os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create socket listener")
	}
	if err := os.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, errors.Wrap(err, "restricting socket permissions")
	}

	r := newResultIntake(sink, log)
	r.listener = l
	r.path = path
	r.log.Info("listening for exec results", zap.String("socket", path))
	return r, nil
}

// serve accepts connections until the listener is closed. At most maxConns
// connections are handled at once; the rest wait in the accept backlog.
func (r *resultIntake) serve() {
	sem := make(chan struct{}, max(r.maxConns, 1))
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warn("socket accept error", zap.Error(err))
			continue
		}

		sem <- struct{}{}
		r.wg.Add(1)
		go func() {
			defer func() {
				<-sem
				r.wg.Done()
			}()
			if err := verifySocketPeer(conn); err != nil {
				r.log.Warn("rejecting socket peer", zap.Error(err))
				conn.Close()
				return
			}
			r.handleSocketConnection(conn)
		}()
	}
}

func (r *resultIntake) handleSocketConnection(conn net.Conn) {
	defer conn.Close()

	// Slow writers are cut off
	if err := conn.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
		r.log.Warn("setting read deadline", zap.Error(err))
		return
	}

	var res protocol.TaskResult
	if err := json.NewDecoder(io.LimitReader(conn, maxResultSize)).Decode(&res); err != nil {
		r.log.Warn("failed to decode task result", zap.Error(err))
		return
	}
	if res.ID == "" {
		r.log.Warn("task result without id")
		return
	}

	r.log.Info("received task result", zap.String("task", res.ID), zap.Int("status", res.Status))
	if err := r.sink.SubmitResult(res); err != nil {
		r.log.Warn("failed to queue task result", zap.String("task", res.ID), zap.Error(err))
	}
}

// Close stops accepting, waits for open connections and removes the socket.
func (r *resultIntake) Close() error {
	err := r.listener.Close()
	r.wg.Wait()
	os.Remove(r.path)
	if r.cleanup != nil {
		r.cleanup()
	}
	return err
}
