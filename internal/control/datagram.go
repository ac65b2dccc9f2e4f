package control

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relaycommander/rc-agent/internal/transport"
	"github.com/relaycommander/rc-agent/internal/wire"
)

// Transport is the part of transport.Datagram the control channel uses.
type Transport interface {
	SendAndAwaitReply(ctx context.Context, buf []byte, dest string, timeout time.Duration) []byte
}

type datagramExchanger struct {
	codec   *wire.Codec
	tr      Transport
	addr    string
	timeout time.Duration
	log     *zap.Logger
}

// NewDatagram returns a Client that carries each operation in one datagram
// and waits for exactly one reply.
func NewDatagram(codec *wire.Codec, tr Transport, addr string, timeout time.Duration, paths Paths, log *zap.Logger) Client {
	c := newClient(nil, paths, log)
	c.ex = &datagramExchanger{codec: codec, tr: tr, addr: addr, timeout: timeout, log: c.log}
	return c
}

func (e *datagramExchanger) exchange(ctx context.Context, op uint16, path, token, body string) (string, error) {
	m := wire.Message{Op: op, Path: path, Header: wire.AuthHeader(token), Body: body}
	buf, err := e.codec.Encode(m)
	if err != nil {
		return "", err
	}

	reply := e.tr.SendAndAwaitReply(ctx, buf, e.addr, e.timeout)
	if len(reply) == 0 {
		return "", errors.Wrapf(transport.ErrTimeout, "%s %s", opName(op), path)
	}
	msg, err := e.codec.Decode(reply)
	if err != nil {
		return "", errors.Wrapf(err, "decoding reply to %s %s", opName(op), path)
	}
	if !msg.OK() {
		return "", errors.Wrapf(ErrAuthRejected, "%s %s: status %d", opName(op), path, msg.Op)
	}
	return msg.Body, nil
}

func (e *datagramExchanger) overflow(path, token, body string) (int, error) {
	return e.codec.Overflow(wire.Message{Path: path, Header: wire.AuthHeader(token), Body: body})
}

func (e *datagramExchanger) close() error { return nil }

func opName(op uint16) string {
	switch op {
	case wire.OpGet:
		return "GET"
	case wire.OpPost:
		return "POST"
	default:
		return "OP"
	}
}
