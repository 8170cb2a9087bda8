package mcp

import (
	"bytes"
	"iter"
)

// Framer splits a byte stream into newline terminated messages.
//
// Bytes are appended with Write in chunks of any size; complete lines are queued and handed
// out by Messages. The unterminated tail is bounded by the framer capacity: once it grows past
// that bound the buffer is reset and the partial data discarded, and accumulation starts over
// with the next write. A line that overflows within a single write is dropped whole; the
// remainder of a line that overflowed across writes surfaces as its own message and is left
// to the envelope parser to reject.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	capacity int
	tail     []byte
	pending  [][]byte

	onOverflow func(discarded int)
}

// DefaultFrameCapacity is the default bound of a single message, in bytes.
const DefaultFrameCapacity = 4 << 10

// NewFramer creates a Framer that holds at most capacity bytes of an unterminated line.
// A capacity below 1 selects DefaultFrameCapacity.
func NewFramer(capacity int) *Framer {
	if capacity < 1 {
		capacity = DefaultFrameCapacity
	}
	return &Framer{
		capacity: capacity,
	}
}

// OnOverflow registers fn to be called with the number of bytes dropped each time the
// buffer is reset on overflow.
func (f *Framer) OnOverflow(fn func(discarded int)) {
	f.onOverflow = fn
}

// Capacity returns the maximum length of a message the framer can deliver.
func (f *Framer) Capacity() int {
	return f.capacity
}

// Buffered returns the length of the current unterminated tail.
func (f *Framer) Buffered() int {
	return len(f.tail)
}

// Write implements io.Writer. It never blocks and never fails.
func (f *Framer) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx < 0 {
			f.appendTail(p)
			break
		}
		if f.appendTail(p[:idx]) {
			f.emit()
		}
		p = p[idx+1:]
	}
	return n, nil
}

// Messages returns a sequence of the complete messages received so far. Each yielded slice is
// owned by the caller. Messages that are not consumed stay queued for the next call.
func (f *Framer) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for len(f.pending) > 0 {
			msg := f.pending[0]
			f.pending[0] = nil
			f.pending = f.pending[1:]
			if !yield(msg) {
				return
			}
		}
	}
}

// Reset drops all buffered and queued data.
func (f *Framer) Reset() {
	f.tail = f.tail[:0]
	f.pending = nil
}

// appendTail reports false when p did not fit and the buffer was reset.
func (f *Framer) appendTail(p []byte) bool {
	if len(f.tail)+len(p) <= f.capacity {
		f.tail = append(f.tail, p...)
		return true
	}
	discarded := len(f.tail) + len(p)
	f.tail = f.tail[:0]
	if f.onOverflow != nil {
		f.onOverflow(discarded)
	}
	return false
}

func (f *Framer) emit() {
	line := bytes.TrimSuffix(f.tail, []byte{'\r'})
	if len(bytes.TrimSpace(line)) > 0 {
		msg := make([]byte, len(line))
		copy(msg, line)
		f.pending = append(f.pending, msg)
	}
	f.tail = f.tail[:0]
}
