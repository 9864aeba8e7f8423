package tts

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const maxSizeLineBytes = 4096

// Frame is one decoded chunk of an HTTP/1.1 chunked body
type Frame struct {
	Size    uint32
	Payload []byte
}

// ChunkedReader decodes chunked transfer framing from a byte stream. It
// returns io.EOF once the zero-size chunk and its trailer have been consumed.
type ChunkedReader struct {
	r        *bufio.Reader
	maxChunk int
	done     bool
}

// NewChunkedReader reads frames from r. Pass the same *bufio.Reader used to
// read the response header so no buffered body bytes are lost.
// maxChunk <= 0 disables the chunk size limit.
func NewChunkedReader(r io.Reader, maxChunk int) *ChunkedReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ChunkedReader{r: br, maxChunk: maxChunk}
}

// Next returns the next non-empty frame. The payload is freshly allocated
// and owned by the caller. A short read at any point is ErrConnectionClosed.
func (c *ChunkedReader) Next() (Frame, error) {
	if c.done {
		return Frame{}, io.EOF
	}

	line, err := c.readLine()
	if err != nil {
		return Frame{}, err
	}
	size, err := parseChunkSize(line)
	if err != nil {
		return Frame{}, err
	}

	if size == 0 {
		if err := c.skipTrailer(); err != nil {
			return Frame{}, err
		}
		c.done = true
		return Frame{}, io.EOF
	}
	if c.maxChunk > 0 && size > uint64(c.maxChunk) {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return Frame{}, closedOr(err)
	}

	var crlf [2]byte
	if _, err := io.ReadFull(c.r, crlf[:]); err != nil {
		return Frame{}, closedOr(err)
	}
	if crlf != [2]byte{'\r', '\n'} {
		return Frame{}, fmt.Errorf("%w: payload not followed by CRLF", ErrMalformedFrame)
	}

	return Frame{Size: uint32(size), Payload: payload}, nil
}

// readLine reads one CRLF terminated line without the terminator
func (c *ChunkedReader) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) || len(line) > maxSizeLineBytes {
		return nil, fmt.Errorf("%w: line too long", ErrMalformedSize)
	}
	if err != nil {
		return nil, closedOr(err)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: line not terminated by CRLF", ErrMalformedFrame)
	}
	return line[:len(line)-2], nil
}

// skipTrailer consumes optional trailer fields and the final blank line
func (c *ChunkedReader) skipTrailer() error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}

func parseChunkSize(line []byte) (uint64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, fmt.Errorf("%w: empty size line", ErrMalformedSize)
	}
	size, err := strconv.ParseUint(string(line), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedSize, line)
	}
	return size, nil
}

// closedOr maps premature end of stream to ErrConnectionClosed and passes
// other transport errors through.
func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("read chunk: %w", err)
}
