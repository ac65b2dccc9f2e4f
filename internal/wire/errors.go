package wire

import "github.com/pkg/errors"

// Decoding failures. Callers treat all of them as "no data this cycle".
var (
	ErrShortBuffer         = errors.New("wire: buffer shorter than message header")
	ErrIntegrityMismatch   = errors.New("wire: checksum mismatch")
	ErrDecompressionFailed = errors.New("wire: decompression failed")
	ErrTruncatedContent    = errors.New("wire: declared lengths exceed content")
	ErrInvalidText         = errors.New("wire: field is not valid utf-8")
	ErrFieldsTooLarge      = errors.New("wire: path and header exceed datagram size")
)
