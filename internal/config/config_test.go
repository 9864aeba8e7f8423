package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "test-dashscope-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DashScopeAPIKey != "test-dashscope-key" {
		t.Errorf("Expected DashScopeAPIKey 'test-dashscope-key', got '%s'", cfg.DashScopeAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DASHSCOPE_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "test-dashscope-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.TTSHost != "dashscope.aliyuncs.com" {
		t.Errorf("Expected default TTSHost 'dashscope.aliyuncs.com', got '%s'", cfg.TTSHost)
	}
	if cfg.TTSPort != 443 {
		t.Errorf("Expected default TTSPort 443, got %d", cfg.TTSPort)
	}
	if cfg.TTSModel != "qwen3-tts-flash" {
		t.Errorf("Expected default TTSModel 'qwen3-tts-flash', got '%s'", cfg.TTSModel)
	}
	if cfg.TTSVoice != "Cherry" {
		t.Errorf("Expected default TTSVoice 'Cherry', got '%s'", cfg.TTSVoice)
	}
	if cfg.QueueCapacity != 10 {
		t.Errorf("Expected default QueueCapacity 10, got %d", cfg.QueueCapacity)
	}
	if cfg.QueuePreload != 2 {
		t.Errorf("Expected default QueuePreload 2, got %d", cfg.QueuePreload)
	}
	if cfg.AudioSampleRate != 24000 {
		t.Errorf("Expected default AudioSampleRate 24000, got %d", cfg.AudioSampleRate)
	}
	if cfg.AudioOutput != "stdout" {
		t.Errorf("Expected default AudioOutput 'stdout', got '%s'", cfg.AudioOutput)
	}
	if cfg.ConnectTimeout() != 15*time.Second {
		t.Errorf("Expected default ConnectTimeout 15s, got %v", cfg.ConnectTimeout())
	}
	if cfg.ReadTimeout() != 15*time.Second {
		t.Errorf("Expected default ReadTimeout 15s, got %v", cfg.ReadTimeout())
	}
}

func TestLoad_InvalidRanges(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero capacity", "TTS_QUEUE_CAPACITY", "0"},
		{"huge capacity", "TTS_QUEUE_CAPACITY", "1000"},
		{"preload above capacity", "TTS_QUEUE_PRELOAD", "11"},
		{"negative line limit", "TTS_MAX_LINE_BYTES", "-1"},
		{"odd bit depth", "AUDIO_BITS", "12"},
		{"unknown asr", "ASR_PROVIDER", "whisper"},
		{"deepgram without key", "ASR_PROVIDER", "deepgram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DASHSCOPE_API_KEY", "test-dashscope-key")
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "test-dashscope-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("Expected default ReconnectMaxAttempts 3, got %d", cfg.ReconnectMaxAttempts)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "test-dashscope-key")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
