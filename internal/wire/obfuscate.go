package wire

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// xorKey masks buf in place against key repeated cyclically. Applying it twice
// restores the input. It is not a security control.
func xorKey(buf, key []byte) {
	if len(key) == 0 {
		return
	}
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
}

// ParseKey decodes a hex-encoded obfuscation key. Whitespace around the value
// is ignored; an empty value means no obfuscation.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "parsing obfuscation key")
	}
	return key, nil
}

// LoadKeyFile reads a hex-encoded obfuscation key from path.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading key file %s", path)
	}
	return ParseKey(string(data))
}
