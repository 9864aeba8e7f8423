// Package assistant runs the conversational loop: capture an utterance,
// recognise it, optionally generate a reply, and speak it.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/asr"
	"github.com/lexiqai/voice-terminal/internal/audio"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/tts"
)

// RecognitionSampleRate is the rate utterances are converted to before ASR
const RecognitionSampleRate = 16000

// Responder produces the text to speak for a recognised utterance
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// DeviceOpener opens a fresh output device for one spoken reply
type DeviceOpener func(ctx context.Context) (audio.Device, error)

// Config holds the loop settings
type Config struct {
	CaptureSampleRate int
	MaxUtteranceBytes int
	VAD               *audio.VADConfig
}

// Turn describes one completed exchange
type Turn struct {
	ID         string
	Transcript string
	Reply      string
	Summary    tts.Summary
}

// Loop wires capture, recognition, reply generation and synthesis together.
// Turns run strictly one after another so playback never overlaps capture.
type Loop struct {
	cfg        Config
	segmenter  *audio.Segmenter
	recognizer asr.Recognizer
	responder  Responder // nil echoes the transcript
	speaker    tts.Speaker
	openDevice DeviceOpener
	logger     zerolog.Logger

	turns int
}

// NewLoop creates a loop reading 16-bit mono PCM from capture
func NewLoop(cfg Config, capture io.Reader, recognizer asr.Recognizer, responder Responder, speaker tts.Speaker, openDevice DeviceOpener, logger zerolog.Logger) *Loop {
	if cfg.VAD == nil {
		cfg.VAD = audio.DefaultVADConfig()
	}
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = RecognitionSampleRate
	}

	return &Loop{
		cfg:        cfg,
		segmenter:  audio.NewSegmenter(capture, cfg.VAD, cfg.MaxUtteranceBytes),
		recognizer: recognizer,
		responder:  responder,
		speaker:    speaker,
		openDevice: openDevice,
		logger:     observability.WithComponent(logger, "assistant"),
	}
}

// Run processes utterances until the capture input ends or ctx is cancelled.
// A failed turn is logged and the loop moves on to the next utterance.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Int("capture_sample_rate", l.cfg.CaptureSampleRate).
		Str("asr", l.recognizer.Name()).
		Bool("chat", l.responder != nil).
		Msg("Assistant loop started")

	for {
		pcm, err := l.segmenter.Next(ctx)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, audio.ErrNoSpeech):
			l.logger.Info().Int("turns", l.turns).Msg("Capture input ended")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("capture: %w", err)
		}

		observability.RecordCaptureBytes(len(pcm))
		turn, err := l.Turn(ctx, pcm)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, asr.ErrEmptyTranscript) {
				l.logger.Debug().Str("turn_id", turn.ID).Msg("No words recognised, listening again")
				continue
			}
			l.logger.Warn().Err(err).Str("turn_id", turn.ID).Msg("Turn failed")
			continue
		}
		l.turns++
	}
}

// Turn handles one captured utterance end to end
func (l *Loop) Turn(ctx context.Context, pcm []byte) (Turn, error) {
	turn := Turn{ID: observability.NewCorrelationID()}
	logger := l.logger.With().Str("turn_id", turn.ID).Logger()
	started := time.Now()

	wav, err := l.frame(pcm)
	if err != nil {
		return turn, err
	}

	turn.Transcript, err = l.recognizer.Recognize(ctx, wav)
	if err != nil {
		observability.RecordError("recognize", "assistant")
		return turn, fmt.Errorf("recognize: %w", err)
	}
	logger.Info().Str("transcript", turn.Transcript).Msg("User said")

	turn.Reply = turn.Transcript
	if l.responder != nil {
		turn.Reply, err = l.responder.Reply(ctx, turn.Transcript)
		if err != nil {
			observability.RecordError("reply", "assistant")
			return turn, fmt.Errorf("reply: %w", err)
		}
	}
	logger.Info().Str("reply", turn.Reply).Msg("Assistant replying")

	device, err := l.openDevice(ctx)
	if err != nil {
		return turn, fmt.Errorf("open device: %w", err)
	}
	turn.Summary, err = l.speaker.Speak(ctx, turn.Reply, device)
	if err != nil {
		return turn, fmt.Errorf("speak: %w", err)
	}

	logger.Info().
		Int("pcm_bytes", len(pcm)).
		Int("fragments", turn.Summary.Fragments).
		Dur("elapsed", time.Since(started)).
		Msg("Turn complete")
	return turn, nil
}

// frame converts captured PCM to a 16 kHz mono WAV for recognition
func (l *Loop) frame(pcm []byte) ([]byte, error) {
	if l.cfg.CaptureSampleRate != RecognitionSampleRate {
		resampled, err := audio.ResamplePCM16(pcm, l.cfg.CaptureSampleRate, RecognitionSampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample capture: %w", err)
		}
		pcm = resampled
	}

	wav, err := audio.EncodeWAV(pcm, audio.Format{SampleRate: RecognitionSampleRate, Bits: 16, Channels: 1})
	if err != nil {
		return nil, fmt.Errorf("frame utterance: %w", err)
	}
	return wav, nil
}
