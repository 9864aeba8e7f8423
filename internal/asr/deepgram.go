package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/audio"
	"github.com/lexiqai/voice-terminal/internal/config"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/resilience"
)

const (
	deepgramSendChunk = 8192                    // PCM bytes per websocket write
	deepgramQuiet     = 1500 * time.Millisecond // silence from the service that ends collection
)

// transcriptCollector accumulates final transcripts for one utterance and
// reports when the service has gone quiet.
type transcriptCollector struct {
	*websocketv1api.DefaultCallbackHandler

	mu       sync.Mutex
	finals   []string
	lastSeen time.Time
	ended    bool
	err      error
	activity chan struct{}
}

func newTranscriptCollector() *transcriptCollector {
	return &transcriptCollector{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		activity:               make(chan struct{}, 1),
	}
}

// Message records final results; interim results only count as activity
func (c *transcriptCollector) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil {
		return nil
	}

	c.mu.Lock()
	c.lastSeen = time.Now()
	switch msg.Type {
	case "UtteranceEnd":
		c.ended = true
	case "Results", "Message":
		if msg.IsFinal && len(msg.Channel.Alternatives) > 0 {
			if t := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript); t != "" {
				c.finals = append(c.finals, t)
			}
		}
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// UtteranceEnd marks the end of speech detected by the service
func (c *transcriptCollector) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()

	c.notify()
	return nil
}

// Error records the first service error
func (c *transcriptCollector) Error(errorResponse *msginterfaces.ErrorResponse) error {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("deepgram error: %+v", errorResponse)
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

func (c *transcriptCollector) notify() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *transcriptCollector) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.finals, " ")
}

// wait blocks until the utterance ended, an error arrived, the service has
// been quiet for quiet, or ctx is done.
func (c *transcriptCollector) wait(ctx context.Context, quiet time.Duration) error {
	timer := time.NewTimer(quiet)
	defer timer.Stop()

	for {
		c.mu.Lock()
		ended, err := c.ended, c.err
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if ended {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiet)
		case <-timer.C:
			return nil
		}
	}
}

// DeepgramRecognizer streams an utterance to Deepgram's live API and
// collects the final transcript.
type DeepgramRecognizer struct {
	apiKey   string
	model    string
	language string
	quiet    time.Duration

	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramRecognizer creates a recognizer from configuration
func NewDeepgramRecognizer(cfg *config.Config, logger zerolog.Logger) *DeepgramRecognizer {
	breaker := resilience.NewCircuitBreaker("deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if state == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	return &DeepgramRecognizer{
		apiKey:         cfg.DeepgramAPIKey,
		model:          cfg.DeepgramModel,
		language:       cfg.ASRLanguage,
		quiet:          deepgramQuiet,
		circuitBreaker: breaker,
		logger:         observability.WithComponent(logger, "asr"),
	}
}

// Name returns the provider name
func (d *DeepgramRecognizer) Name() string {
	return "deepgram"
}

// Recognize streams the PCM inside wav and returns the joined final transcript
func (d *DeepgramRecognizer) Recognize(ctx context.Context, wav []byte) (text string, err error) {
	started := time.Now()
	defer func() {
		observability.RecordASR(d.Name(), started, err == nil)
	}()

	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("deepgram asr: %w", err)
	}
	if format.Bits != 16 {
		return "", fmt.Errorf("deepgram asr: unsupported sample width %d", format.Bits)
	}

	err = d.circuitBreaker.Call(func() error {
		var callErr error
		text, callErr = d.stream(ctx, pcm, format)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("deepgram asr: %w", err)
	}
	if text == "" {
		return "", ErrEmptyTranscript
	}

	d.logger.Info().
		Int("pcm_bytes", len(pcm)).
		Dur("latency", time.Since(started)).
		Str("text", text).
		Msg("Speech recognised")
	return text, nil
}

func (d *DeepgramRecognizer) stream(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       format.Channels,
		SampleRate:     format.SampleRate,
	}

	collector := newTranscriptCollector()
	client, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, nil, tOptions, collector)
	if err != nil {
		return "", fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return "", errors.New("failed to connect to Deepgram")
	}
	defer client.Finish()

	for off := 0; off < len(pcm); off += deepgramSendChunk {
		end := off + deepgramSendChunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := client.Write(pcm[off:end]); err != nil {
			return "", fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
	}

	if err := collector.wait(ctx, d.quiet); err != nil {
		return "", err
	}
	return collector.transcript(), nil
}
