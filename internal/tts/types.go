package tts

import (
	"context"

	"github.com/lexiqai/voice-terminal/internal/audio"
)

// Speaker turns text into audio played on a device. Pipeline is the
// production implementation; the assistant loop and HTTP surface depend on
// this interface only.
type Speaker interface {
	// Speak blocks until every synthesized fragment has been written to
	// device or the request failed. device is released before Speak returns.
	Speak(ctx context.Context, text string, device audio.Device) (Summary, error)
}

// State is the lifecycle of a single synthesis request
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHeaderWait
	StateStreaming
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHeaderWait:
		return "header_wait"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Summary describes a finished request
type Summary struct {
	RequestID      string `json:"request_id"`
	State          State  `json:"-"`
	StateName      string `json:"state"`
	Fragments      int    `json:"fragments"`
	AudioBytes     int64  `json:"audio_bytes"`
	SkippedRecords int    `json:"skipped_records"`
	SawTerminal    bool   `json:"saw_terminal"` // [DONE] or finish_reason "stop" observed
}
