package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice terminal
type Config struct {
	// Serve mode configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""` // Empty disables the gRPC health service

	// DashScope credentials (shared by TTS, ASR and chat)
	DashScopeAPIKey string `envconfig:"DASHSCOPE_API_KEY" required:"true"`

	// Speech synthesis endpoint (raw HTTP/1.1 over TLS)
	TTSHost             string `envconfig:"TTS_HOST" default:"dashscope.aliyuncs.com"`
	TTSPort             int    `envconfig:"TTS_PORT" default:"443"`
	TTSPath             string `envconfig:"TTS_PATH" default:"/api/v1/services/aigc/multimodal-generation/generation"`
	TTSUseTLS           bool   `envconfig:"TTS_USE_TLS" default:"true"`
	TTSModel            string `envconfig:"TTS_MODEL" default:"qwen3-tts-flash"`
	TTSVoice            string `envconfig:"TTS_VOICE" default:"Cherry"`
	TTSLanguage         string `envconfig:"TTS_LANGUAGE" default:"Chinese"`
	TTSConnectTimeoutMs int    `envconfig:"TTS_CONNECT_TIMEOUT_MS" default:"15000"`
	TTSReadTimeoutMs    int    `envconfig:"TTS_READ_TIMEOUT_MS" default:"15000"`

	// Streaming pipeline limits
	QueueCapacity  int    `envconfig:"TTS_QUEUE_CAPACITY" default:"10"` // Fragments buffered between network and speaker
	QueuePreload   int    `envconfig:"TTS_QUEUE_PRELOAD" default:"2"`   // Fragments queued before playback starts
	MaxChunkBytes  int    `envconfig:"TTS_MAX_CHUNK_BYTES" default:"1048576"`
	MaxLineBytes   int    `envconfig:"TTS_MAX_LINE_BYTES" default:"524288"`
	MaxHeaderBytes int    `envconfig:"TTS_MAX_HEADER_BYTES" default:"16384"`
	DebugDumpDir   string `envconfig:"TTS_DEBUG_DUMP_DIR" default:""` // Raw SSE capture directory

	// Audio output
	AudioSampleRate int    `envconfig:"AUDIO_SAMPLE_RATE" default:"24000"`
	AudioBits       int    `envconfig:"AUDIO_BITS" default:"16"`
	AudioChannels   int    `envconfig:"AUDIO_CHANNELS" default:"1"`
	AudioOutput     string `envconfig:"AUDIO_OUTPUT" default:"stdout"` // stdout, file:<path>, wav:<path>, ws://host/path
	AudioPaced      bool   `envconfig:"AUDIO_PACED" default:"false"`   // Throttle writes to real-time rate

	// Speech recognition
	ASRProvider    string `envconfig:"ASR_PROVIDER" default:"dashscope"` // dashscope, deepgram
	ASRURL         string `envconfig:"ASR_URL" default:"https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"`
	ASRModel       string `envconfig:"ASR_MODEL" default:"qwen3-asr-flash"`
	ASRLanguage    string `envconfig:"ASR_LANGUAGE" default:"zh-CN"`
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Reply generation
	ChatEnabled      bool   `envconfig:"CHAT_ENABLED" default:"true"`
	ChatURL          string `envconfig:"CHAT_URL" default:"https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"`
	ChatModel        string `envconfig:"CHAT_MODEL" default:"qwen-plus"`
	ChatSystemPrompt string `envconfig:"CHAT_SYSTEM_PROMPT" default:"You are a helpful assistant."`

	// Capture / voice activity detection
	CaptureInput       string  `envconfig:"CAPTURE_INPUT" default:"-"` // "-" reads stdin
	CaptureSampleRate  int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`
	CaptureMaxSeconds  int     `envconfig:"CAPTURE_MAX_SECONDS" default:"30"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"40"`      // Frames of silence to mark speech end
	VADFrameSize       int     `envconfig:"VAD_FRAME_SIZE" default:"320"`         // Samples per frame (20ms at 16kHz)

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Maximum dial attempts per request
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"500"`            // Dial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express
func (c *Config) Validate() error {
	if c.DashScopeAPIKey == "" {
		return fmt.Errorf("DASHSCOPE_API_KEY is required")
	}
	if c.QueueCapacity < 1 || c.QueueCapacity > 64 {
		return fmt.Errorf("TTS_QUEUE_CAPACITY must be between 1 and 64, got %d", c.QueueCapacity)
	}
	if c.QueuePreload < 0 || c.QueuePreload > c.QueueCapacity {
		return fmt.Errorf("TTS_QUEUE_PRELOAD must be between 0 and TTS_QUEUE_CAPACITY (%d), got %d", c.QueueCapacity, c.QueuePreload)
	}
	if c.MaxChunkBytes <= 0 || c.MaxLineBytes <= 0 || c.MaxHeaderBytes <= 0 {
		return fmt.Errorf("TTS_MAX_CHUNK_BYTES, TTS_MAX_LINE_BYTES and TTS_MAX_HEADER_BYTES must be positive")
	}
	if c.AudioBits != 8 && c.AudioBits != 16 && c.AudioBits != 24 && c.AudioBits != 32 {
		return fmt.Errorf("AUDIO_BITS must be 8, 16, 24 or 32, got %d", c.AudioBits)
	}
	if c.AudioSampleRate <= 0 || c.AudioChannels <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE and AUDIO_CHANNELS must be positive")
	}
	switch c.ASRProvider {
	case "dashscope":
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when ASR_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("unknown ASR_PROVIDER %q", c.ASRProvider)
	}
	return nil
}

// ConnectTimeout returns the transport connect timeout
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.TTSConnectTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the per-read transport timeout
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.TTSReadTimeoutMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
