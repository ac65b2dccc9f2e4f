package tasks

import (
	"sync"
)

const defaultMaxOutputSize = 256 * 1024 // 256KB

const truncationMarker = "\n... output truncated ..."

// OutputBuffer keeps the first limit bytes written to it and reports the
// rest as truncated. Writes never fail so a chatty process is not killed by
// a broken pipe.
type OutputBuffer struct {
	mu        sync.Mutex
	data      []byte
	limit     int
	truncated bool
}

// NewOutputBuffer returns a buffer capped at limit bytes. A non-positive
// limit selects the default.
func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = defaultMaxOutputSize
	}
	return &OutputBuffer{limit: limit}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - len(b.data); room < len(p) {
		b.data = append(b.data, p[:max(room, 0)]...)
		b.truncated = true
	} else {
		b.data = append(b.data, p...)
	}
	return len(p), nil
}

// Truncated reports whether any write was cut.
func (b *OutputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return string(b.data) + truncationMarker
	}
	return string(b.data)
}
