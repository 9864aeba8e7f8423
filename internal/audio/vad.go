package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// VADConfig holds configuration for energy based voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end an utterance
	FrameSize       int     // Samples per frame (320 = 20ms at 16kHz)
}

// DefaultVADConfig returns a configuration tuned for 16kHz capture
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   40, // 800ms
		FrameSize:       320,
	}
}

// VADDetector tracks speech/silence transitions frame by frame
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence reports whether samples fall below the energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}

// ErrNoSpeech is returned by Segmenter.Next when the input ends before any
// speech was detected.
var ErrNoSpeech = errors.New("audio: no speech before end of input")

// Segmenter cuts a continuous 16-bit mono PCM capture stream into utterances
type Segmenter struct {
	src      io.Reader
	vad      *VADDetector
	frame    []byte
	maxBytes int // Utterance cap; zero means unbounded
}

// NewSegmenter reads frames of config.FrameSize samples from src.
// maxBytes caps a single utterance, which is returned early when reached.
func NewSegmenter(src io.Reader, config *VADConfig, maxBytes int) *Segmenter {
	vad := NewVADDetector(config)
	return &Segmenter{
		src:      src,
		vad:      vad,
		frame:    make([]byte, vad.config.FrameSize*2),
		maxBytes: maxBytes,
	}
}

// Next blocks until one utterance has been captured and returns its PCM.
// Frames before speech starts are discarded. The trailing silence that ends
// the utterance is kept so the recognizer sees a natural tail. If the input
// ends mid-utterance the partial utterance is returned; if it ends before any
// speech, Next returns ErrNoSpeech, or io.EOF when no bytes were read at all.
func (s *Segmenter) Next(ctx context.Context) ([]byte, error) {
	s.vad.Reset()

	var utterance []byte
	readAny := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := io.ReadFull(s.src, s.frame)
		if n > 0 {
			readAny = true
			frame := s.frame[:n-n%2]
			speaking, started, ended := s.vad.ProcessFrame(BytesToSamples(frame))

			if started || speaking || ended {
				utterance = append(utterance, frame...)
			}
			if ended {
				return utterance, nil
			}
			if s.maxBytes > 0 && len(utterance) >= s.maxBytes {
				return utterance, nil
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("capture read: %w", err)
			}
			switch {
			case len(utterance) > 0:
				return utterance, nil
			case readAny:
				return nil, ErrNoSpeech
			default:
				return nil, io.EOF
			}
		}
	}
}
