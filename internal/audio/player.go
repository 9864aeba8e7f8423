package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ErrDeviceStalled is returned when the device keeps accepting zero bytes
var ErrDeviceStalled = errors.New("audio: device accepted no data")

const maxZeroWrites = 100

// PlayerConfig configures the consumer side of a TTS request
type PlayerConfig struct {
	Preload  int         // Fragments to buffer before the first write
	OnPlayed func(n int) // Called after each fragment is fully written
	Logger   zerolog.Logger
}

// Player drains a FragmentQueue into a Device. It is the only writer of the
// device; it performs no network or parsing work.
type Player struct {
	queue  *FragmentQueue
	device Device
	cfg    PlayerConfig

	fragments int
	bytes     int64
}

// NewPlayer creates a player for one request
func NewPlayer(queue *FragmentQueue, device Device, cfg PlayerConfig) *Player {
	return &Player{queue: queue, device: device, cfg: cfg}
}

// Run plays fragments in FIFO order until the queue reports the producer is
// done and drained, then flushes and releases the device. A device error is
// returned as-is; the device is released on every path.
func (p *Player) Run(ctx context.Context) (err error) {
	defer func() {
		if rerr := p.device.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("release device: %w", rerr)
		}
	}()

	if p.cfg.Preload > 0 {
		if err := p.queue.WaitPreload(ctx, p.cfg.Preload); err != nil {
			return err
		}
		p.cfg.Logger.Debug().Int("queued", p.queue.Len()).Msg("Preload satisfied, starting playback")
	}

	for {
		fragment, err := p.queue.Get(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if err := p.writeFull(ctx, fragment); err != nil {
			return err
		}
		p.fragments++
		p.bytes += int64(len(fragment))
		if p.cfg.OnPlayed != nil {
			p.cfg.OnPlayed(len(fragment))
		}
	}

	if p.queue.State().Err != nil {
		return nil
	}
	if f, ok := p.device.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush device: %w", err)
		}
	}

	p.cfg.Logger.Debug().
		Int("fragments", p.fragments).
		Int64("bytes", p.bytes).
		Msg("Playback drained")
	return nil
}

// Played returns the number of fragments and bytes written so far.
// Only valid after Run has returned.
func (p *Player) Played() (int, int64) {
	return p.fragments, p.bytes
}

// writeFull loops until the device has accepted every byte of fragment
func (p *Player) writeFull(ctx context.Context, fragment []byte) error {
	zeroWrites := 0
	for off := 0; off < len(fragment); {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := p.device.Write(fragment[off:])
		if err != nil {
			return fmt.Errorf("device write: %w", err)
		}
		if n == 0 {
			zeroWrites++
			if zeroWrites >= maxZeroWrites {
				return ErrDeviceStalled
			}
			continue
		}
		zeroWrites = 0
		off += n
	}
	return nil
}
