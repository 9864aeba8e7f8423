package tts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-terminal/internal/audio"
	"github.com/lexiqai/voice-terminal/internal/config"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/resilience"
	"github.com/lexiqai/voice-terminal/internal/transport"
)

// PipelineConfig holds per-request settings for the streaming pipeline
type PipelineConfig struct {
	Target   Target
	Model    string
	Voice    string
	Language string

	QueueCapacity  int
	Preload        int
	MaxChunkBytes  int
	MaxLineBytes   int
	MaxHeaderBytes int
	DebugDumpDir   string

	Reconnect *resilience.ReconnectConfig
}

// Pipeline performs streaming speech synthesis: one HTTP request per Speak,
// with a producer decoding the response and a consumer playing it,
// connected only through a bounded fragment queue.
type Pipeline struct {
	cfg     PipelineConfig
	dialer  transport.Dialer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewPipeline creates a pipeline. breaker may be nil.
func NewPipeline(cfg PipelineConfig, dialer transport.Dialer, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Pipeline {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 1
	}
	return &Pipeline{
		cfg:     cfg,
		dialer:  dialer,
		breaker: breaker,
		logger:  observability.WithComponent(logger, "tts"),
	}
}

// NewPipelineFromConfig builds a pipeline talking to the configured endpoint
func NewPipelineFromConfig(cfg *config.Config, logger zerolog.Logger) *Pipeline {
	dialer := &transport.TCPDialer{
		Host:           cfg.TTSHost,
		Port:           cfg.TTSPort,
		UseTLS:         cfg.TTSUseTLS,
		ConnectTimeout: cfg.ConnectTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
	}

	breaker := resilience.NewCircuitBreaker("tts",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if state == resilience.StateOpen {
			observability.IncrementCircuitBreakerFailures(name)
		}
	})

	reconnect := resilience.DefaultReconnectConfig()
	reconnect.MaxAttempts = cfg.ReconnectMaxAttempts
	reconnect.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond

	return NewPipeline(PipelineConfig{
		Target: Target{
			Host:   cfg.TTSHost,
			Path:   cfg.TTSPath,
			APIKey: cfg.DashScopeAPIKey,
		},
		Model:          cfg.TTSModel,
		Voice:          cfg.TTSVoice,
		Language:       cfg.TTSLanguage,
		QueueCapacity:  cfg.QueueCapacity,
		Preload:        cfg.QueuePreload,
		MaxChunkBytes:  cfg.MaxChunkBytes,
		MaxLineBytes:   cfg.MaxLineBytes,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		DebugDumpDir:   cfg.DebugDumpDir,
		Reconnect:      reconnect,
	}, dialer, breaker, logger)
}

// Reachable reports whether the endpoint is reachable: the circuit must admit
// calls and a connection must succeed. No request is sent.
func (p *Pipeline) Reachable(ctx context.Context) error {
	if p.breaker != nil && !p.breaker.Allowing() {
		return resilience.ErrCircuitOpen
	}
	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("reach %s: %w", p.dialer.Address(), err)
	}
	return conn.Close()
}

// requestRun holds the per-request state. It is never reused.
type requestRun struct {
	p       *Pipeline
	id      string
	logger  zerolog.Logger
	metrics *observability.RequestMetrics

	mu    sync.Mutex
	state State
}

// Speak synthesizes text and plays it on device, returning once all audio
// has been written (Done) or the request failed. device is released exactly
// once on every path.
func (p *Pipeline) Speak(ctx context.Context, text string, device audio.Device) (Summary, error) {
	dev := audio.NewReleaseOnce(device)
	defer dev.Release()

	id := observability.NewCorrelationID()
	run := &requestRun{
		p:       p,
		id:      id,
		logger:  p.logger.With().Str("request_id", id).Logger(),
		metrics: observability.NewRequestMetrics(),
	}

	started := time.Now()
	summary, err := run.execute(ctx, text, dev)
	summary.RequestID = id
	summary.State = run.current()
	summary.StateName = summary.State.String()

	run.metrics.RecordEnd(err == nil)
	if err != nil {
		run.metrics.RecordError(errorType(err), "tts")
		run.logger.Error().
			Err(err).
			Int("fragments", summary.Fragments).
			Dur("elapsed", time.Since(started)).
			Msg("Speech synthesis failed")
		return summary, err
	}

	run.logger.Info().
		Int("fragments", summary.Fragments).
		Int64("audio_bytes", summary.AudioBytes).
		Int("skipped_records", summary.SkippedRecords).
		Dur("elapsed", time.Since(started)).
		Msg("Speech synthesis complete")
	return summary, nil
}

func (r *requestRun) execute(ctx context.Context, text string, dev *audio.ReleaseOnce) (Summary, error) {
	var summary Summary
	cfg := r.p.cfg

	body, err := EncodeRequest(cfg.Model, text, cfg.Voice, cfg.Language)
	if err != nil {
		return summary, r.fail(err)
	}

	conn, br, err := r.open(ctx, body)
	if err != nil {
		return summary, r.fail(err)
	}
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	dump := r.openDump()
	if dump != nil {
		defer dump.Close()
	}

	queue := audio.NewFragmentQueue(cfg.QueueCapacity)
	queue.Observe(r.metrics.RecordQueueDepth, r.metrics.RecordQueueFull)

	var dumpWriter io.Writer
	if dump != nil {
		dumpWriter = dump
	}
	receiver := NewReceiver(
		NewChunkedReader(br, cfg.MaxChunkBytes),
		NewLineAssembler(cfg.MaxLineBytes),
		queue,
		dumpWriter,
		ReceiverHooks{
			OnFragment: func(int) { r.metrics.RecordFragmentDecoded() },
			OnSkip:     r.metrics.RecordSkippedRecord,
		},
		observability.WithComponent(r.logger, "receiver"),
	)
	player := audio.NewPlayer(queue, dev, audio.PlayerConfig{
		Preload:  cfg.Preload,
		OnPlayed: r.metrics.RecordFragmentPlayed,
		Logger:   observability.WithComponent(r.logger, "player"),
	})

	r.transition(StateStreaming)
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, closeConn)
	defer stop()

	g.Go(func() error {
		if err := receiver.Run(gctx); err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		r.transition(StateDraining)
		return nil
	})
	g.Go(func() error {
		if err := player.Run(gctx); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		return nil
	})

	err = g.Wait()

	summary.Fragments, summary.AudioBytes, summary.SkippedRecords, summary.SawTerminal = receiver.Stats()
	if err != nil {
		// the closed connection is a symptom when the caller cancelled
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return summary, r.fail(err)
	}
	if qerr := queue.State().Err; qerr != nil {
		return summary, r.fail(qerr)
	}

	r.transition(StateDone)
	return summary, nil
}

// open connects, sends the request and validates the response header.
// Failures here count against the circuit breaker.
func (r *requestRun) open(ctx context.Context, body []byte) (net.Conn, *bufio.Reader, error) {
	var (
		conn net.Conn
		br   *bufio.Reader
	)

	attempt := func() error {
		r.transition(StateConnecting)
		c, err := resilience.Connect(ctx, r.logger, r.p.dialer.Dial, r.p.cfg.Reconnect)
		if err != nil {
			return fmt.Errorf("connect %s: %w", r.p.dialer.Address(), err)
		}
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()

		if err := WriteRequest(c, r.p.cfg.Target, body); err != nil {
			c.Close()
			return err
		}

		r.transition(StateHeaderWait)
		reader := bufio.NewReader(c)
		header, err := ReadResponseHeader(reader, r.p.cfg.MaxHeaderBytes)
		if err != nil {
			c.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		r.logger.Debug().
			Int("status", header.StatusCode).
			Str("content_type", header.Header.Get("Content-Type")).
			Msg("Response header accepted")
		conn, br = c, reader
		return nil
	}

	var err error
	if r.p.breaker != nil {
		err = r.p.breaker.Call(attempt)
	} else {
		err = attempt()
	}
	if err != nil {
		return nil, nil, err
	}
	return conn, br, nil
}

func (r *requestRun) openDump() *os.File {
	dir := r.p.cfg.DebugDumpDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn().Err(err).Str("dir", dir).Msg("SSE capture disabled")
		return nil
	}
	path := filepath.Join(dir, r.id+".sse")
	f, err := os.Create(path)
	if err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("SSE capture disabled")
		return nil
	}
	r.logger.Debug().Str("path", path).Msg("Capturing SSE stream")
	return f
}

func (r *requestRun) transition(next State) {
	r.mu.Lock()
	prev := r.state
	r.state = next
	r.mu.Unlock()

	r.logger.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("Pipeline state change")
}

func (r *requestRun) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *requestRun) fail(err error) error {
	state := r.current()
	r.transition(StateFailed)
	return fmt.Errorf("%s: %w", state, err)
}

// errorType labels err for the errors_total metric
func errorType(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &statusErr), errors.Is(err, ErrNotChunked), errors.Is(err, ErrHeaderTooLarge):
		return "http"
	case errors.Is(err, ErrMalformedSize), errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrChunkTooLarge), errors.Is(err, ErrLineTooLong):
		return "framing"
	case errors.Is(err, ErrAudioDecode):
		return "decode"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, audio.ErrDeviceStalled):
		return "device"
	default:
		return "transport"
	}
}
