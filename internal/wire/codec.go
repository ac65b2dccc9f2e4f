package wire

import (
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sigurn/crc16"
)

// CRC16GSM is the checksum variant some control server deployments use. It
// differs from the default XMODEM variant only by its final XOR.
var CRC16GSM = crc16.Params{
	Poly:   0x1021,
	Init:   0x0000,
	RefIn:  false,
	RefOut: false,
	XorOut: 0xFFFF,
	Check:  0xCE3C,
	Name:   "CRC-16/GSM",
}

// Codec maps a Message to and from one datagram. A Codec is immutable after
// construction and safe for concurrent use.
type Codec struct {
	key   []byte
	comp  compressor
	table *crc16.Table
}

// Option configures a Codec.
type Option func(*codecOptions)

type codecOptions struct {
	key             []byte
	compress        bool
	quality         int
	window          int
	maxDecompressed int64
	checksum        crc16.Params
}

// WithKey enables XOR obfuscation with key. An empty key disables it.
func WithKey(key []byte) Option {
	return func(o *codecOptions) { o.key = append([]byte(nil), key...) }
}

// WithoutCompression sends the region uncompressed.
func WithoutCompression() Option {
	return func(o *codecOptions) { o.compress = false }
}

// WithCompression sets the brotli quality (0-11) and window (10-24).
func WithCompression(quality, window int) Option {
	return func(o *codecOptions) {
		o.compress = true
		o.quality = quality
		o.window = window
	}
}

// WithChecksum selects the CRC-16 variant.
func WithChecksum(p crc16.Params) Option {
	return func(o *codecOptions) { o.checksum = p }
}

// WithMaxDecompressed bounds the decompressed size of a received region.
func WithMaxDecompressed(n int64) Option {
	return func(o *codecOptions) { o.maxDecompressed = n }
}

// NewCodec returns a Codec with brotli compression, CRC-16/XMODEM and no
// obfuscation unless options say otherwise.
func NewCodec(opts ...Option) *Codec {
	o := codecOptions{
		compress:        true,
		quality:         defaultQuality,
		window:          defaultWindow,
		maxDecompressed: defaultMaxDecompressed,
		checksum:        crc16.CRC16_XMODEM,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Codec{
		key:   o.key,
		table: crc16.MakeTable(o.checksum),
	}
	if o.compress {
		c.comp = brotliCompressor{quality: o.quality, window: o.window, limit: o.maxDecompressed}
	} else {
		c.comp = passthrough{}
	}
	return c
}

// Obfuscated reports whether the codec applies a key.
func (c *Codec) Obfuscated() bool { return len(c.key) > 0 }

// Encode serializes m into at most MaxDatagramSize bytes. A body that does not
// fit is truncated at a rune boundary; path and header are never truncated.
func (c *Codec) Encode(m Message) ([]byte, error) {
	const budget = MaxDatagramSize - HeaderSize

	fixed := len(m.Path) + len(m.Header)
	if fixed > budget {
		return nil, errors.Wrapf(ErrFieldsTooLarge, "path and header take %d of %d bytes", fixed, budget)
	}

	body := truncateText(m.Body, budget-fixed)
	for {
		region, err := c.pack(m.Path, body, m.Header)
		if err != nil {
			return nil, err
		}
		over := len(region) - budget
		if over <= 0 {
			return c.frame(m.Op, region, len(m.Path), len(body), len(m.Header)), nil
		}
		// Compression expanded the region past the limit.
		if body == "" {
			return nil, errors.Wrap(ErrFieldsTooLarge, "compressed path and header exceed datagram size")
		}
		body = truncateText(body, len(body)-over)
	}
}

// Overflow reports by how many bytes m would exceed one datagram. Zero means
// Encode carries the body unchanged.
func (c *Codec) Overflow(m Message) (int, error) {
	const budget = MaxDatagramSize - HeaderSize

	if over := len(m.Path) + len(m.Header) + len(m.Body) - budget; over > 0 {
		return over, nil
	}
	region, err := c.pack(m.Path, m.Body, m.Header)
	if err != nil {
		return 0, err
	}
	return max(len(region)-budget, 0), nil
}

func (c *Codec) pack(path, body, header string) ([]byte, error) {
	raw := make([]byte, 0, len(path)+len(body)+len(header))
	raw = append(raw, path...)
	raw = append(raw, body...)
	raw = append(raw, header...)
	region, err := c.comp.compress(raw)
	if err != nil {
		return nil, errors.Wrap(err, "compressing message")
	}
	return region, nil
}

func (c *Codec) frame(op uint16, region []byte, pathLen, bodyLen, headerLen int) []byte {
	h := Header{
		Length:    uint16(len(region)),
		Op:        op,
		Checksum:  crc16.Checksum(region, c.table),
		PathLen:   uint16(pathLen),
		BodyLen:   uint16(bodyLen),
		HeaderLen: uint16(headerLen),
	}
	buf := make([]byte, HeaderSize+len(region))
	h.put(buf)
	copy(buf[HeaderSize:], region)
	xorKey(buf, c.key)
	return buf
}

// Decode parses a datagram produced by Encode with the same key. The input
// buffer is not modified.
func (c *Codec) Decode(buf []byte) (Message, error) {
	if len(buf) < HeaderSize {
		return Message{}, errors.Wrapf(ErrShortBuffer, "got %d bytes, need %d", len(buf), HeaderSize)
	}
	data := append([]byte(nil), buf...)
	xorKey(data, c.key)

	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return Message{}, err
	}

	region := data[HeaderSize:]
	if int(h.Length) != len(region) {
		return Message{}, errors.Wrapf(ErrIntegrityMismatch, "declared region of %d bytes, got %d", h.Length, len(region))
	}

	// An empty region carries no checksum and nothing to decompress.
	var content []byte
	if len(region) > 0 {
		if sum := crc16.Checksum(region, c.table); sum != h.Checksum {
			return Message{}, errors.Wrapf(ErrIntegrityMismatch, "checksum %#04x, header says %#04x", sum, h.Checksum)
		}
		var err error
		if content, err = safeDecompress(c.comp, region); err != nil {
			return Message{}, err
		}
	}
	if h.contentLen() > len(content) {
		return Message{}, errors.Wrapf(ErrTruncatedContent, "fields need %d bytes, content has %d", h.contentLen(), len(content))
	}

	pathEnd := int(h.PathLen)
	bodyEnd := pathEnd + int(h.BodyLen)
	headerEnd := bodyEnd + int(h.HeaderLen)

	m := Message{
		Op:     h.Op,
		Path:   string(content[:pathEnd]),
		Body:   string(content[pathEnd:bodyEnd]),
		Header: string(content[bodyEnd:headerEnd]),
	}
	for name, v := range map[string]string{"path": m.Path, "body": m.Body, "header": m.Header} {
		if !utf8.ValidString(v) {
			return Message{}, errors.Wrapf(ErrInvalidText, "%s field", name)
		}
	}
	return m, nil
}

// MaxBody returns how many body bytes fit next to path and header before
// compression is taken into account.
func MaxBody(path, header string) int {
	return max(MaxDatagramSize-HeaderSize-len(path)-len(header), 0)
}

// truncateText cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateText(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
