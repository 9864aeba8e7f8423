package tts

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/audio"
)

// ReceiverHooks observe the producer without coupling it to a metrics backend
type ReceiverHooks struct {
	OnFragment func(n int)
	OnSkip     func(reason string)
}

// Receiver is the producer half of a request: it drives chunk decoding, SSE
// line assembly and event decoding, and pushes PCM fragments into the queue
// in arrival order.
type Receiver struct {
	chunks *ChunkedReader
	lines  *LineAssembler
	queue  *audio.FragmentQueue
	dump   io.Writer // raw de-chunked SSE payload; may be nil
	hooks  ReceiverHooks
	logger zerolog.Logger

	fragments  int
	audioBytes int64
	skipped    int
	terminal   bool
}

// NewReceiver wires a receiver for one request
func NewReceiver(chunks *ChunkedReader, lines *LineAssembler, queue *audio.FragmentQueue, dump io.Writer, hooks ReceiverHooks, logger zerolog.Logger) *Receiver {
	return &Receiver{
		chunks: chunks,
		lines:  lines,
		queue:  queue,
		dump:   dump,
		hooks:  hooks,
		logger: logger,
	}
}

// Run produces until the terminal record, end of body or a fatal error.
// The queue is always closed on return: SignalDone on success, Fail on
// error, so the consumer is never left waiting.
func (r *Receiver) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.queue.Fail(err)
		} else {
			r.queue.SignalDone()
		}
	}()

	for {
		frame, err := r.chunks.Next()
		if errors.Is(err, io.EOF) {
			return r.finishBody(ctx)
		}
		if err != nil {
			return err
		}
		r.capture(frame.Payload)

		lines, err := r.lines.Feed(frame.Payload)
		done, herr := r.handleLines(ctx, lines)
		if herr != nil {
			return herr
		}
		if done {
			r.queue.SignalDone()
			r.drain()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Stats returns fragments, audio bytes and skipped records produced so far,
// and whether a terminal record was seen. Only valid after Run returns.
func (r *Receiver) Stats() (fragments int, audioBytes int64, skipped int, terminal bool) {
	return r.fragments, r.audioBytes, r.skipped, r.terminal
}

func (r *Receiver) handleLines(ctx context.Context, lines []string) (bool, error) {
	for _, line := range lines {
		done, err := r.handleLine(ctx, line)
		if err != nil || done {
			return done, err
		}
	}
	return false, nil
}

func (r *Receiver) handleLine(ctx context.Context, line string) (bool, error) {
	rec, err := DecodeEvent(line)
	if IsRecoverable(err) {
		r.skip("malformed_json")
		r.logger.Warn().Err(err).Int("line_bytes", len(line)).Msg("Skipping malformed SSE record")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if len(rec.Audio) > 0 {
		if err := r.queue.Put(ctx, rec.Audio); err != nil {
			return false, err
		}
		r.fragments++
		r.audioBytes += int64(len(rec.Audio))
		if r.hooks.OnFragment != nil {
			r.hooks.OnFragment(len(rec.Audio))
		}
	}

	switch rec.Kind {
	case RecordDone:
		r.terminal = true
		r.logger.Debug().Int("fragments", r.fragments).Msg("Terminal record received")
		return true, nil
	case RecordKeepAlive:
		r.logger.Trace().Msg("Keep-alive record")
	}
	return false, nil
}

// finishBody handles the end of the chunked body without a terminal record
func (r *Receiver) finishBody(ctx context.Context) error {
	if line, ok := r.lines.Flush(); ok {
		if _, err := r.handleLine(ctx, line); err != nil {
			return err
		}
	}
	if !r.terminal {
		r.logger.Warn().Int("fragments", r.fragments).Msg("Stream ended without a terminal record")
	}
	return nil
}

// drain reads the rest of the body after the terminal record so the
// connection ends cleanly. Errors here no longer affect the request.
func (r *Receiver) drain() {
	for {
		frame, err := r.chunks.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			r.logger.Debug().Err(err).Msg("Ignoring error after terminal record")
			return
		}
		r.capture(frame.Payload)
	}
}

func (r *Receiver) skip(reason string) {
	r.skipped++
	if r.hooks.OnSkip != nil {
		r.hooks.OnSkip(reason)
	}
}

func (r *Receiver) capture(payload []byte) {
	if r.dump == nil {
		return
	}
	if _, err := r.dump.Write(payload); err != nil {
		r.logger.Warn().Err(err).Msg("Disabling SSE capture after write error")
		r.dump = nil
	}
}
