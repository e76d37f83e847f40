// Package ring implements a fixed-capacity byte ring buffer used by TCP
// send/receive byte buffers.
package ring

import (
	"errors"
	"io"
)

var (
	errFull    = errors.New("ring: buffer full")
	errNoData  = errors.New("ring: empty write")
	errDiscard = errors.New("ring: invalid discard amount")
)

// Buffer is a ring buffer over a fixed byte slice. The zero value with Buf
// set to a non-nil slice is ready to use.
type Buffer struct {
	Buf []byte
	// Off indexes the start of readable data in Buf.
	Off int
	// End indexes one past the end of readable data in Buf. End==0 means
	// the buffer is empty.
	End int
}

// NewBuffer allocates a ring buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{Buf: make([]byte, capacity)}
}

// Size returns the total capacity of the ring.
func (r *Buffer) Size() int { return len(r.Buf) }

// Buffered returns the number of bytes available to read.
func (r *Buffer) Buffered() int { return r.Size() - r.Free() }

// Free returns the number of bytes that may currently be written.
func (r *Buffer) Free() int {
	if r.End == 0 || r.Off == 0 {
		return len(r.Buf) - r.End
	}
	if r.Off < r.End {
		return r.Off + (len(r.Buf) - r.End)
	}
	return r.Off - r.End
}

func (r *Buffer) isFull() bool {
	return r.End != 0 && (r.End == r.Off || (r.End == len(r.Buf) && r.Off == 0))
}

func (r *Buffer) midFree() int {
	if r.End >= r.Off || r.End == 0 {
		return 0
	}
	return r.Off - r.End
}

// Write appends b to the ring. Returns errFull if there isn't enough space.
func (r *Buffer) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if r.isFull() {
		return 0, errFull
	}
	if mid := r.midFree(); mid > 0 {
		n := copy(r.Buf[r.End:r.Off], b)
		r.End += n
		return n, nil
	}
	if r.End == 0 {
		r.End = r.Off
	}
	n := copy(r.Buf[r.End:], b)
	r.End += n
	if n < len(b) {
		n2 := copy(r.Buf, b[n:])
		r.End = n2
		n += n2
	}
	return n, nil
}

// Read reads up to len(b) bytes, advancing the read pointer. Returns io.EOF
// when the buffer is empty.
func (r *Buffer) Read(b []byte) (int, error) {
	n, err := r.peek(b)
	if err != nil {
		return n, err
	}
	r.advance(n)
	return n, nil
}

// Peek reads up to len(b) bytes without advancing the read pointer.
func (r *Buffer) Peek(b []byte) (int, error) { return r.peek(b) }

func (r *Buffer) peek(b []byte) (int, error) {
	if r.Buffered() == 0 {
		return 0, io.EOF
	}
	if r.End > r.Off {
		n := copy(b, r.Buf[r.Off:r.End])
		return n, nil
	}
	n := copy(b, r.Buf[r.Off:])
	if n < len(b) {
		n += copy(b[n:], r.Buf[:r.End])
	}
	return n, nil
}

// Discard advances the read pointer by n bytes without copying.
func (r *Buffer) Discard(n int) error {
	if n <= 0 {
		return errDiscard
	}
	buffered := r.Buffered()
	if n > buffered {
		return errors.New("ring: discard exceeds buffered length")
	}
	r.advance(n)
	return nil
}

func (r *Buffer) advance(n int) {
	if n <= 0 {
		return
	}
	newOff := r.Off + n
	if newOff > len(r.Buf) {
		newOff -= len(r.Buf)
	}
	if newOff == r.End {
		r.Reset()
	} else if newOff == len(r.Buf) {
		r.Off = 0
	} else {
		r.Off = newOff
	}
}

// Reset empties the buffer.
func (r *Buffer) Reset() {
	r.Off = 0
	r.End = 0
}
