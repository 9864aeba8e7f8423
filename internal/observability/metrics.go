package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_terminal_tts_active_requests",
		Help: "Number of TTS requests currently streaming or draining",
	})

	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_tts_requests_total",
		Help: "Total number of TTS requests by outcome",
	}, []string{"status"})

	ttsDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_terminal_tts_request_duration_seconds",
		Help:    "Time from the start of Speak to the last audio byte played",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	})

	firstAudioLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_terminal_tts_first_audio_latency_seconds",
		Help:    "Time from the start of Speak to the first fragment written to the device",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Stream metrics
	fragmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_tts_fragments_total",
		Help: "Audio fragments by pipeline stage",
	}, []string{"stage"}) // stage: "decoded" or "played"

	skippedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_tts_skipped_records_total",
		Help: "SSE records skipped without aborting the stream",
	}, []string{"reason"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_terminal_tts_queue_depth",
		Help: "Fragments currently buffered between producer and player",
	})

	queueFullWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_terminal_tts_queue_full_waits_total",
		Help: "Times the producer blocked on a full queue",
	})

	// ASR metrics
	asrRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_asr_requests_total",
		Help: "Total number of ASR requests",
	}, []string{"provider", "status"})

	asrLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_terminal_asr_latency_seconds",
		Help:    "ASR processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_terminal_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_terminal_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// RequestMetrics tracks metrics for a single TTS request
type RequestMetrics struct {
	startTime  time.Time
	firstAudio time.Time
	mu         sync.Mutex
}

// NewRequestMetrics starts tracking a TTS request; durations are measured
// from this call
func NewRequestMetrics() *RequestMetrics {
	activeRequests.Inc()
	return &RequestMetrics{startTime: time.Now()}
}

// RecordFragmentDecoded counts a fragment handed to the queue
func (m *RequestMetrics) RecordFragmentDecoded() {
	fragmentsTotal.WithLabelValues("decoded").Inc()
}

// RecordFragmentPlayed counts a fragment fully written to the device
func (m *RequestMetrics) RecordFragmentPlayed(bytes int) {
	m.mu.Lock()
	if m.firstAudio.IsZero() {
		m.firstAudio = time.Now()
		firstAudioLatency.Observe(m.firstAudio.Sub(m.startTime).Seconds())
	}
	m.mu.Unlock()

	fragmentsTotal.WithLabelValues("played").Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordSkippedRecord counts an SSE record dropped without aborting
func (m *RequestMetrics) RecordSkippedRecord(reason string) {
	skippedRecords.WithLabelValues(reason).Inc()
}

// RecordQueueDepth publishes the current queue length
func (m *RequestMetrics) RecordQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordQueueFull counts a producer wait on a full queue
func (m *RequestMetrics) RecordQueueFull() {
	queueFullWaits.Inc()
}

// RecordEnd records the end of the request
func (m *RequestMetrics) RecordEnd(success bool) {
	activeRequests.Dec()
	queueDepth.Set(0)
	ttsDuration.Observe(time.Since(m.startTime).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *RequestMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error outside a request scope
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordASR records the outcome and latency of one recognition call
func RecordASR(provider string, started time.Time, success bool) {
	asrLatency.Observe(time.Since(started).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	asrRequests.WithLabelValues(provider, status).Inc()
}

// RecordCaptureBytes records audio bytes captured from the microphone input
func RecordCaptureBytes(bytes int) {
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
