package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingDevice accepts at most maxWrite bytes per call
type recordingDevice struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	maxWrite int
	writes   int
	failAt   int // fail on this write call (1-based); zero never fails
	zeroOnly bool
	flushed  int
	released int
}

func (d *recordingDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writes++
	if d.failAt > 0 && d.writes == d.failAt {
		return 0, errors.New("i2s underrun")
	}
	if d.zeroOnly {
		return 0, nil
	}
	if d.maxWrite > 0 && len(p) > d.maxWrite {
		p = p[:d.maxWrite]
	}
	return d.buf.Write(p)
}

func (d *recordingDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushed++
	return nil
}

func (d *recordingDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

func (d *recordingDevice) bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.buf.Bytes()...)
}

func filledQueue(t *testing.T, fragments ...[]byte) *FragmentQueue {
	t.Helper()
	q := NewFragmentQueue(len(fragments) + 1)
	for _, f := range fragments {
		if err := q.Put(context.Background(), f); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	q.SignalDone()
	return q
}

func TestPlayer_ShortWritesAreLooped(t *testing.T) {
	q := filledQueue(t, []byte("hello "), []byte("world"))
	dev := &recordingDevice{maxWrite: 2}

	var played []int
	p := NewPlayer(q, dev, PlayerConfig{
		OnPlayed: func(n int) { played = append(played, n) },
		Logger:   zerolog.Nop(),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := string(dev.bytes()); got != "hello world" {
		t.Errorf("Expected 'hello world', got %q", got)
	}
	if len(played) != 2 || played[0] != 6 || played[1] != 5 {
		t.Errorf("Expected played sizes [6 5], got %v", played)
	}
	if fragments, n := p.Played(); fragments != 2 || n != 11 {
		t.Errorf("Expected 2 fragments/11 bytes, got %d/%d", fragments, n)
	}
	if dev.flushed != 1 || dev.released != 1 {
		t.Errorf("Expected one flush and one release, got %d/%d", dev.flushed, dev.released)
	}
}

func TestPlayer_DeviceErrorIsFatal(t *testing.T) {
	q := filledQueue(t, []byte("abc"), []byte("def"))
	dev := &recordingDevice{failAt: 2}

	err := NewPlayer(q, dev, PlayerConfig{Logger: zerolog.Nop()}).Run(context.Background())
	if err == nil {
		t.Fatal("Expected device error")
	}
	if string(dev.bytes()) != "abc" {
		t.Errorf("Expected only the first fragment written, got %q", dev.bytes())
	}
	if dev.released != 1 {
		t.Errorf("Expected device released once, got %d", dev.released)
	}
	if dev.flushed != 0 {
		t.Error("Expected no flush after a device error")
	}
}

func TestPlayer_StalledDevice(t *testing.T) {
	q := filledQueue(t, []byte("abc"))
	dev := &recordingDevice{zeroOnly: true}

	err := NewPlayer(q, dev, PlayerConfig{Logger: zerolog.Nop()}).Run(context.Background())
	if !errors.Is(err, ErrDeviceStalled) {
		t.Errorf("Expected ErrDeviceStalled, got %v", err)
	}
}

func TestPlayer_WaitsForPreload(t *testing.T) {
	q := NewFragmentQueue(4)
	dev := &recordingDevice{}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- NewPlayer(q, dev, PlayerConfig{Preload: 2, Logger: zerolog.Nop()}).Run(ctx)
	}()

	q.Put(ctx, []byte("a"))
	time.Sleep(20 * time.Millisecond)
	if len(dev.bytes()) != 0 {
		t.Fatal("Expected no playback before preload is satisfied")
	}

	q.Put(ctx, []byte("b"))
	q.SignalDone()

	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(dev.bytes()) != "ab" {
		t.Errorf("Expected 'ab', got %q", dev.bytes())
	}
}

func TestPlayer_FailedQueueSkipsFlush(t *testing.T) {
	q := NewFragmentQueue(2)
	q.Fail(errors.New("stream truncated"))
	dev := &recordingDevice{}

	if err := NewPlayer(q, dev, PlayerConfig{Logger: zerolog.Nop()}).Run(context.Background()); err != nil {
		t.Fatalf("Expected player to exit cleanly, got %v", err)
	}
	if dev.flushed != 0 || dev.released != 1 {
		t.Errorf("Expected release without flush, got flushed=%d released=%d", dev.flushed, dev.released)
	}
}

func TestPlayer_ContextCancelled(t *testing.T) {
	q := NewFragmentQueue(2)
	dev := &recordingDevice{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewPlayer(q, dev, PlayerConfig{Logger: zerolog.Nop()}).Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Player did not exit on cancellation")
	}
	if dev.released != 1 {
		t.Errorf("Expected device released, got %d", dev.released)
	}
}
