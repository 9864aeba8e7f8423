// Package httpapi exposes the synthesis pipeline over HTTP in serve mode.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-terminal/internal/audio"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/resilience"
	"github.com/lexiqai/voice-terminal/internal/tts"
)

const maxSpeakBody = 64 << 10

// DeviceOpener opens the output device for one request
type DeviceOpener func(ctx context.Context) (audio.Device, error)

// SpeakRequest is the body of POST /speak
type SpeakRequest struct {
	Text string `json:"text"`
}

// SpeakResponse reports the outcome of one synthesis request
type SpeakResponse struct {
	Summary *tts.Summary `json:"summary,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Options configures the handler set
type Options struct {
	Checks         map[string]observability.HealthCheckFunc
	MetricsEnabled bool
}

// Server serialises speak requests onto a single output device
type Server struct {
	speaker    tts.Speaker
	openDevice DeviceOpener
	logger     zerolog.Logger

	mu sync.Mutex // one request owns the device at a time
}

// NewServer creates the serve-mode API
func NewServer(speaker tts.Speaker, openDevice DeviceOpener, logger zerolog.Logger) *Server {
	return &Server{
		speaker:    speaker,
		openDevice: openDevice,
		logger:     observability.WithComponent(logger, "httpapi"),
	}
}

// Handler returns the routed mux
func (s *Server) Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/speak", s.handleSpeak)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(opts.Checks))
	if opts.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, SpeakResponse{Error: "method not allowed"})
		return
	}

	var req SpeakRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSpeakBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SpeakResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, SpeakResponse{Error: "text is required"})
		return
	}

	ctx := r.Context()
	waitStart := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return
	}
	if waited := time.Since(waitStart); waited > 100*time.Millisecond {
		s.logger.Debug().Dur("waited", waited).Msg("Speak request queued behind another")
	}

	device, err := s.openDevice(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to open audio device")
		writeJSON(w, http.StatusServiceUnavailable, SpeakResponse{Error: "audio device unavailable: " + err.Error()})
		return
	}

	summary, err := s.speaker.Speak(ctx, req.Text, device)
	if err != nil {
		writeJSON(w, statusFor(err), SpeakResponse{Summary: &summary, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SpeakResponse{Summary: &summary})
}

// statusFor maps a pipeline error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrDeviceStalled):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
