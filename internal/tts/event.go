package tts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// RecordKind classifies one SSE line
type RecordKind int

const (
	// RecordSkip is a blank line, comment or non-data field
	RecordSkip RecordKind = iota
	// RecordKeepAlive is a data record carrying no audio
	RecordKeepAlive
	// RecordAudio carries a decoded PCM fragment
	RecordAudio
	// RecordDone terminates the stream; Audio may still carry a last fragment
	RecordDone
)

func (k RecordKind) String() string {
	switch k {
	case RecordSkip:
		return "skip"
	case RecordKeepAlive:
		return "keepalive"
	case RecordAudio:
		return "audio"
	case RecordDone:
		return "done"
	default:
		return "unknown"
	}
}

// Record is the decoded form of one SSE line
type Record struct {
	Kind  RecordKind
	Audio []byte
}

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
	stopReason = "stop"
)

type envelope struct {
	Output struct {
		FinishReason json.RawMessage `json:"finish_reason"`
		Audio        struct {
			Data string `json:"data"`
		} `json:"audio"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

// DecodeEvent classifies a single SSE line.
//
// Only the string "stop" in output.finish_reason is terminal; JSON null, the
// string "null" and an absent field all continue the stream. A record that
// is not valid JSON yields an error wrapping ErrMalformedEvent. Audio that is
// not valid standard base64 yields ErrAudioDecode, which is fatal.
func DecodeEvent(line string) (Record, error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return Record{Kind: RecordSkip}, nil
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])

	if payload == doneMarker {
		return Record{Kind: RecordDone}, nil
	}
	if payload == "" {
		return Record{Kind: RecordKeepAlive}, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	rec := Record{Kind: RecordKeepAlive}
	if data := env.Output.Audio.Data; data != "" {
		pcm, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrAudioDecode, err)
		}
		if len(pcm) > 0 {
			rec = Record{Kind: RecordAudio, Audio: pcm}
		}
	}

	if isStop(env.Output.FinishReason) {
		rec.Kind = RecordDone
	}
	return rec, nil
}

func isStop(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return false
	}
	var reason string
	if err := json.Unmarshal(raw, &reason); err != nil {
		return false
	}
	return reason == stopReason
}
