package telegram

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultBufferSize is the receive window used when Options.BufferSize is 0.
const DefaultBufferSize = 4096

// ErrFrameTooLarge is reported when a reply does not fit the receive window.
var ErrFrameTooLarge = errors.New("telegram: reply exceeds receive buffer")

// ResponseBuffer accumulates a single HTTP reply in a fixed-size region.
// It never grows: the receive window and the scratch space used by the
// surrogate repair pass are both allocated once.
type ResponseBuffer struct {
	buf     []byte
	scratch []byte
	used    int
}

// NewResponseBuffer returns a buffer with the given capacity.
func NewResponseBuffer(size int) *ResponseBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ResponseBuffer{
		buf:     make([]byte, size),
		scratch: make([]byte, 0, size),
	}
}

// Tail is the unused part of the window; reads go here.
func (r *ResponseBuffer) Tail() []byte { return r.buf[r.used:] }

// Advance records n bytes written into Tail.
func (r *ResponseBuffer) Advance(n int) error {
	if n < 0 || n > len(r.buf)-r.used {
		return fmt.Errorf("advance %d with %d free: %w", n, len(r.buf)-r.used, ErrFrameTooLarge)
	}
	r.used += n
	return nil
}

func (r *ResponseBuffer) Len() int      { return r.used }
func (r *ResponseBuffer) Cap() int      { return len(r.buf) }
func (r *ResponseBuffer) Full() bool    { return r.used == len(r.buf) }
func (r *ResponseBuffer) Bytes() []byte { return r.buf[:r.used] }

// Reset empties the buffer. Called only once a reply has been consumed or
// the connection is dropped.
func (r *ResponseBuffer) Reset() { r.used = 0 }

// Frame returns the JSON candidate held in the buffer: everything from the
// first '{' up to the cursor, with surrogate escapes repaired. The HTTP
// status line and headers before the brace are skipped. ok is false when no
// brace has arrived yet. The returned slice is only valid until the next
// call to Frame.
func (r *ResponseBuffer) Frame() (frame []byte, ok bool) {
	if r.used == 0 {
		return nil, false
	}
	start := bytes.IndexByte(r.buf[:r.used], '{')
	if start < 0 {
		return nil, false
	}
	r.scratch = RepairSurrogates(r.scratch[:0], r.buf[start:r.used])
	return r.scratch, true
}
