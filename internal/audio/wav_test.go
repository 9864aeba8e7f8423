package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})
	wav, err := EncodeWAV(pcm, Format{SampleRate: 16000, Bits: 16, Channels: 1})
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", WAVHeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("Expected RIFF/WAVE/data markers")
	}

	le := binary.LittleEndian
	checks := []struct {
		name     string
		got      uint32
		expected uint32
	}{
		{"riff size", le.Uint32(wav[4:8]), uint32(36 + len(pcm))},
		{"format", uint32(le.Uint16(wav[20:22])), 1},
		{"channels", uint32(le.Uint16(wav[22:24])), 1},
		{"sample rate", le.Uint32(wav[24:28]), 16000},
		{"byte rate", le.Uint32(wav[28:32]), 32000},
		{"block align", uint32(le.Uint16(wav[32:34])), 2},
		{"bits", uint32(le.Uint16(wav[34:36])), 16},
		{"data size", le.Uint32(wav[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if c.got != c.expected {
				t.Errorf("Expected %d, got %d", c.expected, c.got)
			}
		})
	}

	if !bytes.Equal(wav[WAVHeaderSize:], pcm) {
		t.Error("Expected PCM payload after header")
	}
}

func TestEncodeWAV_InvalidFormat(t *testing.T) {
	if _, err := EncodeWAV(nil, Format{SampleRate: 16000, Bits: 12, Channels: 1}); err == nil {
		t.Error("Expected error for 12-bit format")
	}
}

func TestFormat_ByteRate(t *testing.T) {
	f := Format{SampleRate: 24000, Bits: 16, Channels: 2}
	if f.ByteRate() != 96000 {
		t.Errorf("Expected 96000, got %d", f.ByteRate())
	}
}

func TestDecodeWAV(t *testing.T) {
	pcm := SamplesToBytes([]int16{10, -10, 20})
	format := Format{SampleRate: 16000, Bits: 16, Channels: 1}
	wav, _ := EncodeWAV(pcm, format)

	got, gotFormat, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("Expected PCM %v, got %v", pcm, got)
	}
	if gotFormat != format {
		t.Errorf("Expected %+v, got %+v", format, gotFormat)
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	format := Format{SampleRate: 8000, Bits: 16, Channels: 1}
	wav, _ := EncodeWAV([]byte{1, 2}, format)

	// insert a LIST chunk with an odd size between fmt and data
	list := []byte("LIST\x03\x00\x00\x00abc\x00")
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	got, _, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("Expected [1 2], got %v", got)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not wave", []byte("RIFF\x00\x00\x00\x00AVI fmt ")},
		{"no data", WAVHeader(Format{SampleRate: 8000, Bits: 16, Channels: 1}, 0)[:36]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
