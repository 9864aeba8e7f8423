package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed means the peer closed the stream before a complete
	// size line or payload was read.
	ErrConnectionClosed = errors.New("tts: connection closed mid-frame")

	// ErrMalformedSize means a chunk-size line was not a hexadecimal integer
	ErrMalformedSize = errors.New("tts: malformed chunk size")

	// ErrMalformedFrame means a chunk payload was not followed by CRLF
	ErrMalformedFrame = errors.New("tts: malformed chunk frame")

	// ErrChunkTooLarge means a chunk declared more bytes than allowed
	ErrChunkTooLarge = errors.New("tts: chunk exceeds size limit")

	// ErrLineTooLong means an SSE line grew past the configured limit
	// without a newline.
	ErrLineTooLong = errors.New("tts: sse line exceeds size limit")

	// ErrMalformedEvent marks a single undecodable record. It is the only
	// recoverable stream error: the record is skipped.
	ErrMalformedEvent = errors.New("tts: malformed event")

	// ErrAudioDecode means an audio payload was not valid base64
	ErrAudioDecode = errors.New("tts: invalid base64 audio")

	// ErrNotChunked means the response did not use chunked transfer encoding
	ErrNotChunked = errors.New("tts: response is not chunked")

	// ErrHeaderTooLarge means the response header exceeded the size limit
	ErrHeaderTooLarge = errors.New("tts: response header too large")
)

// StatusError is returned when the endpoint answers with a non-2xx status
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tts: unexpected status %s", e.Status)
}

// IsRecoverable reports whether err only invalidates a single record
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMalformedEvent)
}
