// Package control implements the agent's three control-channel operations:
// identity registration, task fetch and result submission. The operations are
// transport agnostic; datagram, HTTP and websocket carriers are provided.
package control

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/protocol"
	"github.com/relaycommander/rc-agent/internal/wire"
)

// Transport kinds accepted by New.
const (
	KindUDP       = "udp"
	KindHTTP      = "http"
	KindWebSocket = "websocket"
)

const defaultTimeout = 2 * time.Second

// ErrAuthRejected is returned when the server answers with a non-success status.
var ErrAuthRejected = errors.New("control: request rejected by server")

// Client is the control channel as seen by the poll loop. Failures never
// propagate out of RegisterIdentity or FetchTasks: they degrade to an empty
// token or an empty task list.
type Client interface {
	RegisterIdentity(ctx context.Context, info protocol.SystemInformation) string
	FetchTasks(ctx context.Context, token string) []protocol.Task
	SubmitResult(ctx context.Context, result protocol.TaskResult, token string) error
	Close() error
}

// Paths are the logical control endpoints.
type Paths struct {
	Register string `mapstructure:"register" yaml:"register"`
	Tasks    string `mapstructure:"tasks" yaml:"tasks"`
	Results  string `mapstructure:"results" yaml:"results"`
}

// DefaultPaths returns the endpoints the control server exposes.
func DefaultPaths() Paths {
	return Paths{
		Register: "/control/client/init",
		Tasks:    "/control/client/task",
		Results:  "/control/client/task/result",
	}
}

// exchanger performs one request and returns the reply body when the server
// answered with a success status.
type exchanger interface {
	exchange(ctx context.Context, op uint16, path, token, body string) (string, error)
	// overflow reports how many bytes body exceeds what one request carries.
	overflow(path, token, body string) (int, error)
	close() error
}

type client struct {
	ex    exchanger
	paths Paths
	log   *zap.Logger
}

func newClient(ex exchanger, paths Paths, log *zap.Logger) *client {
	if log == nil {
		log = zap.NewNop()
	}
	return &client{ex: ex, paths: paths, log: log.Named("control")}
}

func (c *client) RegisterIdentity(ctx context.Context, info protocol.SystemInformation) string {
	body, err := c.fit(c.paths.Register, "", &info,
		&info.OsName, &info.OsVersion, &info.Hostname, &info.HostUser, &info.Privileges)
	if err != nil {
		c.log.Error("encoding identity", zap.Error(err))
		return ""
	}
	reply, err := c.ex.exchange(ctx, wire.OpPost, c.paths.Register, "", body)
	if err != nil {
		c.log.Warn("registration failed", zap.Error(err))
		return ""
	}
	var auth protocol.Auth
	if err := json.Unmarshal([]byte(reply), &auth); err != nil {
		c.log.Warn("malformed registration reply", zap.Error(err))
		return ""
	}
	return auth.Authorization
}

func (c *client) FetchTasks(ctx context.Context, token string) []protocol.Task {
	reply, err := c.ex.exchange(ctx, wire.OpGet, c.paths.Tasks, token, "")
	if err != nil {
		c.log.Warn("fetching tasks failed", zap.Error(err))
		return nil
	}
	var tasks []protocol.Task
	if err := json.Unmarshal([]byte(reply), &tasks); err != nil {
		c.log.Warn("malformed task list", zap.Error(err))
		return nil
	}
	return tasks
}

func (c *client) SubmitResult(ctx context.Context, result protocol.TaskResult, token string) error {
	body, err := c.fit(c.paths.Results, token, &result, &result.Result)
	if err != nil {
		return errors.Wrap(err, "encoding task result")
	}
	if _, err := c.ex.exchange(ctx, wire.OpPost, c.paths.Results, token, body); err != nil {
		return errors.Wrapf(err, "submitting result for task %s", result.ID)
	}
	return nil
}

func (c *client) Close() error { return c.ex.close() }

// fit marshals v to JSON, shortening the longest of the given fields until
// the document fits one request. The body always stays valid JSON.
func (c *client) fit(path, token string, v any, fields ...*string) (string, error) {
	for {
		body, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		over, err := c.ex.overflow(path, token, string(body))
		if err != nil {
			return "", err
		}
		if over == 0 {
			return string(body), nil
		}
		f := longest(fields)
		if f == nil {
			// Nothing left to cut; the carrier reports the failure.
			return string(body), nil
		}
		before := len(*f)
		*f = cutEnd(*f, over)
		c.log.Debug("shortened field to fit request",
			zap.String("path", path), zap.Int("from", before), zap.Int("to", len(*f)))
	}
}

func longest(fields []*string) *string {
	var best *string
	for _, f := range fields {
		if len(*f) > 0 && (best == nil || len(*f) > len(*best)) {
			best = f
		}
	}
	return best
}

// cutEnd drops at least n bytes from the end of s without splitting a rune.
// Every dropped byte shrinks the JSON form by at least one byte.
func cutEnd(s string, n int) string {
	end := max(len(s)-max(n, 1), 0)
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Options selects and configures a control channel carrier.
type Options struct {
	Kind         string
	Address      string
	BaseURL      string
	WebSocketURL string
	Paths        Paths
	Timeout      time.Duration
	Codec        *wire.Codec
	Transport    Transport
	Logger       *zap.Logger
}

// New builds the Client for opts.Kind. An empty kind means udp.
func New(opts Options) (Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	switch opts.Kind {
	case "", KindUDP:
		if opts.Transport == nil || opts.Codec == nil {
			return nil, errors.New("udp control channel needs a transport and a codec")
		}
		if opts.Address == "" {
			return nil, errors.New("udp control channel needs a server address")
		}
		return NewDatagram(opts.Codec, opts.Transport, opts.Address, opts.Timeout, opts.Paths, opts.Logger), nil
	case KindHTTP:
		if opts.BaseURL == "" {
			return nil, errors.New("http control channel needs a base url")
		}
		return NewHTTP(opts.BaseURL, opts.Timeout, opts.Paths, opts.Logger), nil
	case KindWebSocket:
		if opts.WebSocketURL == "" {
			return nil, errors.New("websocket control channel needs a url")
		}
		return NewWebSocket(opts.WebSocketURL, opts.Timeout, opts.Paths, opts.Logger), nil
	default:
		return nil, errors.Errorf("unknown control transport %q", opts.Kind)
	}
}
