package tts

import (
	"fmt"
	"strings"
)

// LineAssembler rebuilds newline delimited SSE lines from payload slices
// that may split a line anywhere, including inside a multi-byte character.
type LineAssembler struct {
	cur     ByteCursor
	maxLine int
}

// NewLineAssembler creates an assembler. maxLine <= 0 disables the limit
// on a pending partial line.
func NewLineAssembler(maxLine int) *LineAssembler {
	return &LineAssembler{maxLine: maxLine}
}

// Feed appends payload and returns every line it completes, without the
// line terminator. Invalid UTF-8 is replaced rather than rejected.
func (a *LineAssembler) Feed(payload []byte) ([]string, error) {
	a.cur.Append(payload)

	var lines []string
	for {
		i := a.cur.IndexByte('\n')
		if i < 0 {
			break
		}
		lines = append(lines, toLine(a.cur.Unread()[:i]))
		a.cur.Advance(i + 1)
	}

	if a.maxLine > 0 && a.cur.Len() > a.maxLine {
		return lines, fmt.Errorf("%w: %d bytes pending", ErrLineTooLong, a.cur.Len())
	}
	return lines, nil
}

// Flush returns a final unterminated line, if any, and resets the assembler
func (a *LineAssembler) Flush() (string, bool) {
	if a.cur.Len() == 0 {
		return "", false
	}
	line := toLine(a.cur.Unread())
	a.cur.Reset()
	return line, true
}

// Pending returns the number of buffered bytes of an incomplete line
func (a *LineAssembler) Pending() int {
	return a.cur.Len()
}

func toLine(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
