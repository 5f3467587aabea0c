package sandbox

import (
	"bytes"
	"io"
)

// boundedBuffer caps how much a module can write to stdout/stderr, sized to
// the execution's memory ceiling so a runaway module can't exhaust host
// memory by flooding its output pipe.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func newBoundedBuffer(limitBytes uint64) *boundedBuffer {
	limit := int(limitBytes)
	if limit <= 0 {
		limit = 16 * 1024 * 1024
	}
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		return len(p), nil // silently drop past the cap, like a full pipe
	}
	if len(p) > room {
		p = p[:room]
	}
	n, err := b.buf.Write(p)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

var _ io.Writer = (*boundedBuffer)(nil)
