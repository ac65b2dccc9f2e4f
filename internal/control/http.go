package control

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/transport"
)

const maxHTTPReply = 1 << 20

type httpExchanger struct {
	base string
	hc   *http.Client
}

// NewHTTP returns a Client that issues plain HTTP requests against baseURL.
func NewHTTP(baseURL string, timeout time.Duration, paths Paths, log *zap.Logger) Client {
	return newClient(&httpExchanger{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
	}, paths, log)
}

func (e *httpExchanger) exchange(ctx context.Context, op uint16, path, token, body string) (string, error) {
	method := opName(op)
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.base+path, rd)
	if err != nil {
		return "", errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	resp, err := e.hc.Do(req)
	if err != nil {
		return "", errors.Wrap(transport.ErrTransportUnreachable, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPReply))
	if err != nil {
		return "", errors.Wrap(err, "reading reply")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrAuthRejected, "%s %s: status %d", method, path, resp.StatusCode)
	}
	return string(data), nil
}

func (e *httpExchanger) overflow(string, string, string) (int, error) { return 0, nil }

func (e *httpExchanger) close() error {
	e.hc.CloseIdleConnections()
	return nil
}
