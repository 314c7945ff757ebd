package console

import (
	"bytes"
	"sync"
	"time"
)

const (
	defaultMaxBufferedBytes = 256 * 1024 // 256KB per flush window

	timestampFormat  = "15:04:05.000"
	truncationMarker = "... console output truncated ...\n"
)

// lineBuffer accumulates timestamp-prefixed console lines between flushes.
// It caps how much may pile up while the endpoint is unreachable: once the
// cap is hit, further lines are discarded until the next Take and the
// flushed payload ends with a truncation marker.
type lineBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLineBuffer(max int) *lineBuffer {
	if max <= 0 {
		max = defaultMaxBufferedBytes
	}
	return &lineBuffer{max: max}
}

// Append adds one chunk of output, stamping each contained line. A chunk
// without a trailing newline gets one, so chunks are logical lines.
func (b *lineBuffer) Append(now time.Time, chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(chunk) == 0 || b.truncated {
		return
	}
	if chunk[len(chunk)-1] != '\n' {
		chunk = append(chunk, '\n')
	}
	stamp := now.Format(timestampFormat)
	for len(chunk) > 0 {
		if b.buf.Len() >= b.max {
			b.truncated = true
			return
		}
		i := bytes.IndexByte(chunk, '\n')
		b.buf.WriteString(stamp)
		b.buf.WriteByte(' ')
		b.buf.Write(chunk[:i+1])
		chunk = chunk[i+1:]
	}
}

// Take returns everything buffered so far and resets the buffer. It returns
// nil when there is nothing to flush.
func (b *lineBuffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		b.buf.WriteString(truncationMarker)
		b.truncated = false
	}
	if b.buf.Len() == 0 {
		return nil
	}
	data := make([]byte, b.buf.Len())
	copy(data, b.buf.Bytes())
	b.buf.Reset()
	return data
}
