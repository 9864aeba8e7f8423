// Package chat generates spoken replies through an OpenAI-compatible
// chat/completions endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/config"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/resilience"
)

// ErrEmptyReply is returned when the model produced no text
var ErrEmptyReply = errors.New("chat: empty reply")

const maxHistoryTurns = 8

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client keeps a short conversation history and asks the model for replies
type Client struct {
	url          string
	apiKey       string
	model        string
	systemPrompt string

	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger

	mu      sync.Mutex
	history []Message
}

// NewClient creates a chat client from configuration
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.RetryMaxAttempts
	retryConfig.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	breaker := resilience.NewCircuitBreaker("chat",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if state == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	return &Client{
		url:            cfg.ChatURL,
		apiKey:         cfg.DashScopeAPIKey,
		model:          cfg.ChatModel,
		systemPrompt:   cfg.ChatSystemPrompt,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		circuitBreaker: breaker,
		retryConfig:    retryConfig,
		logger:         observability.WithComponent(logger, "chat"),
	}
}

// Reply sends text as the next user turn and returns the assistant's answer.
// The exchange is appended to the history only on success.
func (c *Client) Reply(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("chat: empty prompt")
	}

	c.mu.Lock()
	messages := make([]Message, 0, len(c.history)+2)
	if c.systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, c.history...)
	messages = append(messages, Message{Role: "user", Content: text})
	c.mu.Unlock()

	body, err := json.Marshal(&completionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	started := time.Now()
	var reply string
	err = c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var callErr error
			reply, callErr = c.call(ctx, body)
			return callErr
		}, c.retryConfig, resilience.IsRetryable)
	})
	if err != nil {
		observability.RecordError("request_failed", "chat")
		return "", fmt.Errorf("chat: %w", err)
	}
	if reply == "" {
		return "", ErrEmptyReply
	}

	c.mu.Lock()
	c.history = append(c.history,
		Message{Role: "user", Content: text},
		Message{Role: "assistant", Content: reply},
	)
	if excess := len(c.history) - 2*maxHistoryTurns; excess > 0 {
		c.history = append([]Message(nil), c.history[excess:]...)
	}
	c.mu.Unlock()

	c.logger.Info().
		Dur("latency", time.Since(started)).
		Int("reply_chars", len([]rune(reply))).
		Msg("Reply generated")
	return reply, nil
}

// Reset forgets the conversation history
func (c *Client) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", resilience.NewRetryableError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resilience.NewRetryableError(err)
	}

	var decoded completionResponse
	decodeErr := json.Unmarshal(payload, &decoded)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d", resp.StatusCode)
		if decoded.Error != nil {
			err = fmt.Errorf("status %d: %s %s", resp.StatusCode, decoded.Error.Code, decoded.Error.Message)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode chat response: %w", decodeErr)
	}

	if len(decoded.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
