package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Fixed header layout (12 bytes), all fields big-endian uint16:
//
//	0  ..1   Length     byte length of the (compressed) region that follows
//	2  ..3   Op         operation code on requests, status code on replies
//	4  ..5   Checksum   CRC-16 over the region
//	6  ..7   PathLen    uncompressed path length
//	8  ..9   BodyLen    uncompressed body length
//	10 ..11  HeaderLen  uncompressed header text length
const (
	HeaderSize      = 12
	MaxDatagramSize = 508
)

// Header is the fixed-size prefix of every datagram.
type Header struct {
	Length    uint16
	Op        uint16
	Checksum  uint16
	PathLen   uint16
	BodyLen   uint16
	HeaderLen uint16
}

// MarshalBinary encodes the header to a 12-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf, nil
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], h.Length)
	binary.BigEndian.PutUint16(buf[2:4], h.Op)
	binary.BigEndian.PutUint16(buf[4:6], h.Checksum)
	binary.BigEndian.PutUint16(buf[6:8], h.PathLen)
	binary.BigEndian.PutUint16(buf[8:10], h.BodyLen)
	binary.BigEndian.PutUint16(buf[10:12], h.HeaderLen)
}

// UnmarshalBinary decodes the header from the first 12 bytes of buf.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return errors.Wrapf(ErrShortBuffer, "got %d bytes, need %d", len(buf), HeaderSize)
	}
	h.Length = binary.BigEndian.Uint16(buf[0:2])
	h.Op = binary.BigEndian.Uint16(buf[2:4])
	h.Checksum = binary.BigEndian.Uint16(buf[4:6])
	h.PathLen = binary.BigEndian.Uint16(buf[6:8])
	h.BodyLen = binary.BigEndian.Uint16(buf[8:10])
	h.HeaderLen = binary.BigEndian.Uint16(buf[10:12])
	return nil
}

// contentLen is the number of uncompressed bytes the length fields describe.
func (h *Header) contentLen() int {
	return int(h.PathLen) + int(h.BodyLen) + int(h.HeaderLen)
}
