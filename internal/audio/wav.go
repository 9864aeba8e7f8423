package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical 44-byte PCM WAV header
const WAVHeaderSize = 44

// Format describes raw PCM as produced by the synthesis service and consumed
// by output devices.
type Format struct {
	SampleRate int
	Bits       int
	Channels   int
}

// ByteRate returns bytes of PCM per second of audio
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.Bits / 8
}

// BlockAlign returns bytes per sample frame
func (f Format) BlockAlign() int {
	return f.Channels * f.Bits / 8
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.Bits <= 0 || f.Bits%8 != 0 {
		return fmt.Errorf("invalid PCM format %+v", f)
	}
	return nil
}

// WAVHeader builds the 44-byte RIFF header for dataSize bytes of PCM
func WAVHeader(format Format, dataSize uint32) []byte {
	h := make([]byte, WAVHeaderSize)
	le := binary.LittleEndian

	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:20], 16)
	le.PutUint16(h[20:22], 1) // PCM
	le.PutUint16(h[22:24], uint16(format.Channels))
	le.PutUint32(h[24:28], uint32(format.SampleRate))
	le.PutUint32(h[28:32], uint32(format.ByteRate()))
	le.PutUint16(h[32:34], uint16(format.BlockAlign()))
	le.PutUint16(h[34:36], uint16(format.Bits))

	copy(h[36:40], "data")
	le.PutUint32(h[40:44], dataSize)
	return h
}

// EncodeWAV wraps raw PCM in a WAV container
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, pcm, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes raw PCM to out as a WAV stream
func WriteWAV(out io.Writer, pcm []byte, format Format) error {
	if err := format.validate(); err != nil {
		return err
	}
	if _, err := out.Write(WAVHeader(format, uint32(len(pcm)))); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// DecodeWAV extracts PCM and its format from a RIFF/WAVE buffer, skipping
// any chunks other than fmt and data.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("not a RIFF/WAVE buffer")
	}

	le := binary.LittleEndian
	var (
		format  Format
		haveFmt bool
	)
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(le.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(wav) {
			size = len(wav) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("short fmt chunk")
			}
			if tag := le.Uint16(wav[body : body+2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("unsupported WAV format tag %d", tag)
			}
			format = Format{
				Channels:   int(le.Uint16(wav[body+2 : body+4])),
				SampleRate: int(le.Uint32(wav[body+4 : body+8])),
				Bits:       int(le.Uint16(wav[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("data chunk before fmt chunk")
			}
			return wav[body : body+size], format, nil
		}

		off = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("no data chunk")
}
