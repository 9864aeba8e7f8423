// Package asr turns a recorded utterance into text.
package asr

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/config"
)

// ErrEmptyTranscript is returned when the service recognised no speech
var ErrEmptyTranscript = errors.New("asr: empty transcript")

// Recognizer transcribes one finished utterance given as a WAV buffer
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte) (string, error)
	Name() string
}

// New selects the recognizer configured by ASR_PROVIDER
func New(cfg *config.Config, logger zerolog.Logger) (Recognizer, error) {
	switch cfg.ASRProvider {
	case "dashscope":
		return NewDashScopeRecognizer(cfg, logger), nil
	case "deepgram":
		return NewDeepgramRecognizer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown ASR provider %q", cfg.ASRProvider)
	}
}
