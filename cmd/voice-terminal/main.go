package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-terminal/internal/asr"
	"github.com/lexiqai/voice-terminal/internal/assistant"
	"github.com/lexiqai/voice-terminal/internal/audio"
	"github.com/lexiqai/voice-terminal/internal/chat"
	"github.com/lexiqai/voice-terminal/internal/config"
	"github.com/lexiqai/voice-terminal/internal/httpapi"
	"github.com/lexiqai/voice-terminal/internal/observability"
	"github.com/lexiqai/voice-terminal/internal/tts"
)

const usage = `usage: voice-terminal <command> [flags]

commands:
  speak [-text T]   synthesize T (or stdin) and play it on AUDIO_OUTPUT
  assistant         capture -> recognise -> reply -> speak, until input ends
  serve             HTTP API: POST /speak, /health, /ready, /metrics
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithCorrelationID("").
		With().
		Str("command", command).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := tts.NewPipelineFromConfig(cfg, logger)
	openDevice := deviceOpener(cfg)

	switch command {
	case "speak":
		err = runSpeak(ctx, args, pipeline, openDevice, logger)
	case "assistant":
		err = runAssistant(ctx, cfg, pipeline, openDevice, logger)
	case "serve":
		err = runServe(ctx, cfg, pipeline, openDevice, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func deviceOpener(cfg *config.Config) func(ctx context.Context) (audio.Device, error) {
	format := audio.Format{
		SampleRate: cfg.AudioSampleRate,
		Bits:       cfg.AudioBits,
		Channels:   cfg.AudioChannels,
	}
	return func(ctx context.Context) (audio.Device, error) {
		return audio.OpenDevice(ctx, cfg.AudioOutput, format, cfg.AudioPaced)
	}
}

func runSpeak(ctx context.Context, args []string, pipeline *tts.Pipeline, openDevice func(context.Context) (audio.Device, error), logger zerolog.Logger) error {
	fs := flag.NewFlagSet("speak", flag.ContinueOnError)
	text := fs.String("text", "", "text to synthesize; read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *text == "" {
		in, err := io.ReadAll(io.LimitReader(os.Stdin, 64<<10))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		*text = strings.TrimSpace(string(in))
	}

	device, err := openDevice(ctx)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	summary, err := pipeline.Speak(ctx, *text, device)
	if err != nil {
		return err
	}

	logger.Info().
		Str("request_id", summary.RequestID).
		Int("fragments", summary.Fragments).
		Int64("audio_bytes", summary.AudioBytes).
		Msg("Done")
	return nil
}

func runAssistant(ctx context.Context, cfg *config.Config, pipeline *tts.Pipeline, openDevice func(context.Context) (audio.Device, error), logger zerolog.Logger) error {
	recognizer, err := asr.New(cfg, logger)
	if err != nil {
		return err
	}

	var responder assistant.Responder
	if cfg.ChatEnabled {
		responder = chat.NewClient(cfg, logger)
	}

	var capture io.Reader = os.Stdin
	if cfg.CaptureInput != "-" && cfg.CaptureInput != "" {
		f, err := os.Open(cfg.CaptureInput)
		if err != nil {
			return fmt.Errorf("open capture input: %w", err)
		}
		defer f.Close()
		capture = f
	}

	loop := assistant.NewLoop(assistant.Config{
		CaptureSampleRate: cfg.CaptureSampleRate,
		MaxUtteranceBytes: cfg.CaptureMaxSeconds * cfg.CaptureSampleRate * 2,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       cfg.VADFrameSize,
		},
	}, capture, recognizer, responder, pipeline, openDevice, logger)

	return loop.Run(ctx)
}

func runServe(ctx context.Context, cfg *config.Config, pipeline *tts.Pipeline, openDevice func(context.Context) (audio.Device, error), logger zerolog.Logger) error {
	logger.Info().
		Str("port", cfg.Port).
		Str("tts_host", cfg.TTSHost).
		Str("audio_output", cfg.AudioOutput).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice terminal starting")

	// Readiness: the synthesis endpoint must accept a connection
	ttsCheck := func(ctx context.Context) (bool, error) {
		if err := pipeline.Reachable(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	api := httpapi.NewServer(pipeline, openDevice, logger)
	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: api.Handler(httpapi.Options{
			Checks:         map[string]observability.HealthCheckFunc{"tts": ttsCheck},
			MetricsEnabled: cfg.MetricsEnabled,
		}),
		ReadTimeout: 15 * time.Second,
		// speak responses wait for playback to finish
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	var grpcHealth *observability.GRPCHealth
	if cfg.GRPCHealthPort != "" {
		grpcHealth = observability.NewGRPCHealth()
		g.Go(func() error {
			return grpcHealth.Serve(gctx, fmt.Sprintf(":%s", cfg.GRPCHealthPort))
		})
	}

	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if grpcHealth != nil {
			grpcHealth.SetServing(true)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")
		if grpcHealth != nil {
			grpcHealth.SetServing(false)
		}

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info().Msg("Server exited gracefully")
		return nil
	})

	return g.Wait()
}
