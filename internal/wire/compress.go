package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"
)

const (
	defaultQuality         = 11
	defaultWindow          = 22
	defaultMaxDecompressed = 64 * 1024
)

type compressor interface {
	compress(p []byte) ([]byte, error)
	decompress(p []byte) ([]byte, error)
}

type brotliCompressor struct {
	quality int
	window  int
	limit   int64
}

func (b brotliCompressor) compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{Quality: b.quality, LGWin: b.window})
	if _, err := w.Write(p); err != nil {
		return nil, errors.Wrap(err, "brotli write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "brotli close")
	}
	return buf.Bytes(), nil
}

func (b brotliCompressor) decompress(p []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(p))
	out, err := io.ReadAll(io.LimitReader(r, b.limit+1))
	if err != nil {
		return nil, errors.Wrap(ErrDecompressionFailed, err.Error())
	}
	if int64(len(out)) > b.limit {
		return nil, errors.Wrapf(ErrDecompressionFailed, "output exceeds %d bytes", b.limit)
	}
	return out, nil
}

// safeDecompress runs the decompressor so that it can only fail with
// ErrDecompressionFailed: errors are wrapped and a panic inside the decoder is
// recovered rather than unwinding into the poll loop.
func safeDecompress(c compressor, p []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.Wrap(ErrDecompressionFailed, fmt.Sprintf("decoder panic: %v", r))
		}
	}()
	out, err = c.decompress(p)
	if err != nil && !errors.Is(err, ErrDecompressionFailed) {
		err = errors.Wrap(ErrDecompressionFailed, err.Error())
	}
	return out, err
}

type passthrough struct{}

func (passthrough) compress(p []byte) ([]byte, error)   { return p, nil }
func (passthrough) decompress(p []byte) ([]byte, error) { return p, nil }
