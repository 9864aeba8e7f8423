package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/config"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/resilience"
)

// DashScopeRecognizer calls the qwen ASR model through the
// multimodal-generation endpoint, uploading the WAV inline as a data URI.
type DashScopeRecognizer struct {
	url      string
	apiKey   string
	model    string
	language string

	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

type asrContent struct {
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

type asrMessage struct {
	Role    string       `json:"role"`
	Content []asrContent `json:"content"`
}

type asrRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []asrMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string `json:"result_format"`
		Language     string `json:"language,omitempty"`
	} `json:"parameters"`
}

type asrResponse struct {
	Output struct {
		Choices []struct {
			Message asrMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// NewDashScopeRecognizer creates a recognizer from configuration
func NewDashScopeRecognizer(cfg *config.Config, logger zerolog.Logger) *DashScopeRecognizer {
	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.RetryMaxAttempts
	retryConfig.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	breaker := resilience.NewCircuitBreaker("asr_dashscope",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if state == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	return &DashScopeRecognizer{
		url:            cfg.ASRURL,
		apiKey:         cfg.DashScopeAPIKey,
		model:          cfg.ASRModel,
		language:       cfg.ASRLanguage,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		circuitBreaker: breaker,
		retryConfig:    retryConfig,
		logger:         observability.WithComponent(logger, "asr"),
	}
}

// Name returns the provider name
func (d *DashScopeRecognizer) Name() string {
	return "dashscope"
}

// Recognize uploads wav and returns the recognised text
func (d *DashScopeRecognizer) Recognize(ctx context.Context, wav []byte) (text string, err error) {
	started := time.Now()
	defer func() {
		observability.RecordASR(d.Name(), started, err == nil)
	}()

	body, err := d.encode(wav)
	if err != nil {
		return "", err
	}

	err = d.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var callErr error
			text, callErr = d.call(ctx, body)
			return callErr
		}, d.retryConfig, resilience.IsRetryable)
	})
	if err != nil {
		return "", fmt.Errorf("dashscope asr: %w", err)
	}
	if text == "" {
		return "", ErrEmptyTranscript
	}

	d.logger.Info().
		Int("wav_bytes", len(wav)).
		Dur("latency", time.Since(started)).
		Str("text", text).
		Msg("Speech recognised")
	return text, nil
}

func (d *DashScopeRecognizer) encode(wav []byte) ([]byte, error) {
	var req asrRequest
	req.Model = d.model
	req.Input.Messages = []asrMessage{{
		Role:    "user",
		Content: []asrContent{{Audio: "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav)}},
	}}
	req.Parameters.ResultFormat = "message"
	req.Parameters.Language = d.language

	body, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encode asr request: %w", err)
	}
	return body, nil
}

func (d *DashScopeRecognizer) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", resilience.NewRetryableError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resilience.NewRetryableError(err)
	}

	var decoded asrResponse
	decodeErr := json.Unmarshal(payload, &decoded)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d: %s %s", resp.StatusCode, decoded.Code, decoded.Message)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode asr response: %w", decodeErr)
	}

	if len(decoded.Output.Choices) == 0 {
		return "", fmt.Errorf("response has no choices (request %s)", decoded.RequestID)
	}
	var parts []string
	for _, c := range decoded.Output.Choices[0].Message.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}
