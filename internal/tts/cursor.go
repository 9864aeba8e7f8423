package tts

import "bytes"

// ByteCursor is an append-only byte accumulator with a read position.
// The read position never passes the write position. Consumed bytes are
// reclaimed lazily when more than half of the buffer is dead.
type ByteCursor struct {
	buf []byte
	off int
}

// Append adds p after the unread bytes
func (c *ByteCursor) Append(p []byte) {
	if c.off > 0 && c.off >= len(c.buf)/2 {
		n := copy(c.buf, c.buf[c.off:])
		c.buf = c.buf[:n]
		c.off = 0
	}
	c.buf = append(c.buf, p...)
}

// Unread returns the bytes not yet consumed. The slice is only valid until
// the next Append.
func (c *ByteCursor) Unread() []byte {
	return c.buf[c.off:]
}

// Len returns the number of unread bytes
func (c *ByteCursor) Len() int {
	return len(c.buf) - c.off
}

// Advance consumes n unread bytes
func (c *ByteCursor) Advance(n int) {
	if n > c.Len() {
		n = c.Len()
	}
	c.off += n
	if c.off == len(c.buf) {
		c.buf = c.buf[:0]
		c.off = 0
	}
}

// IndexByte returns the offset of b within the unread bytes, or -1
func (c *ByteCursor) IndexByte(b byte) int {
	return bytes.IndexByte(c.Unread(), b)
}

// Reset discards all buffered bytes
func (c *ByteCursor) Reset() {
	c.buf = c.buf[:0]
	c.off = 0
}
