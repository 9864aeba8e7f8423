package audio

import (
	"testing"
)

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	// sqrt((1000^2 + 1000^2 + 2000^2 + 2000^2) / 4)
	expected := 1581.14
	if rms < expected-1.0 || rms > expected+1.0 {
		t.Errorf("Expected RMS around %.2f, got %.2f", expected, rms)
	}
	if CalculateRMS(nil) != 0 {
		t.Error("Expected RMS of empty input to be 0")
	}
}

func TestBytesToSamples_LittleEndian(t *testing.T) {
	samples := BytesToSamples([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f})
	expected := []int16{1, -1, -32768}

	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples (odd trailing byte dropped), got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
}

func TestResamplePCM16(t *testing.T) {
	tests := []struct {
		name        string
		inputRate   int
		outputRate  int
		inSamples   int
		outSamples  int
		expectError bool
	}{
		{"same rate", 16000, 16000, 160, 160, false},
		{"downsample 48k to 16k", 48000, 16000, 480, 160, false},
		{"upsample 8k to 24k", 8000, 24000, 80, 240, false},
		{"invalid rate", 0, 16000, 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := SamplesToBytes(constantFrame(tt.inSamples, 1200))
			out, err := ResamplePCM16(pcm, tt.inputRate, tt.outputRate)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(out) != tt.outSamples*2 {
				t.Errorf("Expected %d bytes, got %d", tt.outSamples*2, len(out))
			}
			for i, s := range BytesToSamples(out) {
				if s < 1199 || s > 1200 {
					t.Fatalf("Expected constant signal preserved, sample %d = %d", i, s)
				}
			}
		})
	}
}

func TestResamplePCM16_OddLength(t *testing.T) {
	if _, err := ResamplePCM16([]byte{1, 2, 3}, 16000, 8000); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}

func TestNormalizeAudio(t *testing.T) {
	samples := []int16{-20000, 10000, 20000}
	normalized := NormalizeAudio(samples, 10000)

	if normalized[0] != -10000 || normalized[1] != 5000 || normalized[2] != 10000 {
		t.Errorf("Expected [-10000 5000 10000], got %v", normalized)
	}

	quiet := []int16{100, -100}
	if out := NormalizeAudio(quiet, 10000); &out[0] != &quiet[0] {
		t.Error("Expected samples within range to be returned unchanged")
	}
}
