package control

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/protocol"
	"github.com/relaycommander/rc-agent/internal/transport"
	"github.com/relaycommander/rc-agent/internal/wire"
)

var websocketWriteTimeout = 10 * time.Second

type websocketExchanger struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	log     *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocket returns a Client that keeps one websocket connection open and
// sends each operation as a JSON request frame answered by one response frame.
// A broken connection is redialed on the next request.
func NewWebSocket(url string, timeout time.Duration, paths Paths, log *zap.Logger) Client {
	c := newClient(nil, paths, log)
	c.ex = &websocketExchanger{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
		log:     c.log,
	}
	return c
}

func (e *websocketExchanger) exchange(ctx context.Context, op uint16, path, token, body string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		conn, _, err := e.dialer.DialContext(ctx, e.url, nil)
		if err != nil {
			return "", errors.Wrap(transport.ErrTransportUnreachable, err.Error())
		}
		e.log.Info("websocket connected", zap.String("url", e.url))
		e.conn = conn
	}

	req := protocol.WebSocketRequest{Method: opName(op), Path: path, Body: body}
	if token != "" {
		req.Headers = map[string]string{wire.AuthorizationHeader: token}
	}

	var resp protocol.WebSocketResponse
	if err := e.roundTrip(ctx, req, &resp); err != nil {
		e.conn.Close()
		e.conn = nil
		return "", err
	}
	if resp.Status != http.StatusOK {
		return "", errors.Wrapf(ErrAuthRejected, "%s %s: status %d", req.Method, path, resp.Status)
	}
	return resp.Body, nil
}

func (e *websocketExchanger) roundTrip(ctx context.Context, req protocol.WebSocketRequest, resp *protocol.WebSocketResponse) error {
	writeDeadline := time.Now().Add(websocketWriteTimeout)
	readDeadline := time.Now().Add(e.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(readDeadline) {
		readDeadline = dl
	}

	if err := e.conn.SetWriteDeadline(writeDeadline); err != nil {
		return errors.Wrap(err, "setting write deadline")
	}
	if err := e.conn.WriteJSON(req); err != nil {
		return errors.Wrap(err, "writing request")
	}
	if err := e.conn.SetReadDeadline(readDeadline); err != nil {
		return errors.Wrap(err, "setting read deadline")
	}
	if err := e.conn.ReadJSON(resp); err != nil {
		return errors.Wrap(transport.ErrTimeout, err.Error())
	}
	return nil
}

func (e *websocketExchanger) overflow(string, string, string) (int, error) { return 0, nil }

func (e *websocketExchanger) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	e.conn.Close()
	e.conn = nil
	return err
}
