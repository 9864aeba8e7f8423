package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Device is an audio sink. Write may accept fewer bytes than offered without
// returning an error; callers loop until the whole fragment is accepted.
// Release frees the sink and is called exactly once per request.
type Device interface {
	Write(p []byte) (int, error)
	Release() error
}

// Flusher is implemented by devices that buffer audio and can block until
// everything written so far has been played.
type Flusher interface {
	Flush() error
}

// ReleaseOnce guards a device so that Release runs at most once no matter
// how many exit paths reach it.
type ReleaseOnce struct {
	Device
	once sync.Once
	err  error
}

// NewReleaseOnce wraps d
func NewReleaseOnce(d Device) *ReleaseOnce {
	return &ReleaseOnce{Device: d}
}

// Release releases the wrapped device on the first call and returns the same
// result on every later call.
func (r *ReleaseOnce) Release() error {
	r.once.Do(func() {
		r.err = r.Device.Release()
	})
	return r.err
}

// Flush forwards to the wrapped device when it supports flushing
func (r *ReleaseOnce) Flush() error {
	if f, ok := r.Device.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriterDevice plays raw PCM into an io.Writer (stdout, a file, a pipe to aplay)
type WriterDevice struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewWriterDevice writes to w. If closer is non-nil it is closed on Release.
func NewWriterDevice(w io.Writer, closer io.Closer) *WriterDevice {
	return &WriterDevice{w: bufio.NewWriterSize(w, 8192), closer: closer}
}

func (d *WriterDevice) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

// Flush pushes buffered audio to the underlying writer
func (d *WriterDevice) Flush() error {
	return d.w.Flush()
}

// Release flushes and closes the underlying writer
func (d *WriterDevice) Release() error {
	err := d.w.Flush()
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// WAVFileDevice records played audio into a WAV file. The header is written
// with a zero data size and patched on Release.
type WAVFileDevice struct {
	f       *os.File
	w       *bufio.Writer
	format  Format
	written uint32
}

// NewWAVFileDevice creates (or truncates) path
func NewWAVFileDevice(path string, format Format) (*WAVFileDevice, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav output: %w", err)
	}
	d := &WAVFileDevice{f: f, w: bufio.NewWriter(f), format: format}
	if _, err := d.w.Write(WAVHeader(format, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return d, nil
}

func (d *WAVFileDevice) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.written += uint32(n)
	return n, err
}

// Flush pushes buffered audio to the file
func (d *WAVFileDevice) Flush() error {
	return d.w.Flush()
}

// Release patches the header sizes and closes the file
func (d *WAVFileDevice) Release() error {
	err := d.w.Flush()
	if err == nil {
		_, err = d.f.WriteAt(WAVHeader(d.format, d.written), 0)
	}
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// PacedDevice throttles an inner device to the real-time byte rate of the
// stream, accepting at most bufferBytes per Write. It behaves like a DMA
// ring in front of a DAC: writes return immediately while the ring has room
// and block once the writer runs ahead of playback.
type PacedDevice struct {
	inner       Device
	byteRate    int
	bufferBytes int

	start   time.Time
	written int64

	now   func() time.Time
	sleep func(time.Duration)
}

// NewPacedDevice wraps inner. bufferBytes <= 0 selects 100ms of audio.
func NewPacedDevice(inner Device, format Format, bufferBytes int) *PacedDevice {
	if bufferBytes <= 0 {
		bufferBytes = format.ByteRate() / 10
	}
	if align := format.BlockAlign(); align > 0 && bufferBytes > align {
		bufferBytes -= bufferBytes % align
	}
	return &PacedDevice{
		inner:       inner,
		byteRate:    format.ByteRate(),
		bufferBytes: bufferBytes,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

func (d *PacedDevice) Write(p []byte) (int, error) {
	if len(p) > d.bufferBytes {
		p = p[:d.bufferBytes]
	}
	if d.start.IsZero() {
		d.start = d.now()
	}

	if ahead := d.ahead(); ahead > d.bufferDuration() {
		d.sleep(ahead - d.bufferDuration())
	}

	n, err := d.inner.Write(p)
	d.written += int64(n)
	return n, err
}

// Flush blocks until all written audio has played out
func (d *PacedDevice) Flush() error {
	if f, ok := d.inner.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if ahead := d.ahead(); ahead > 0 {
		d.sleep(ahead)
	}
	return nil
}

// Release releases the inner device
func (d *PacedDevice) Release() error {
	return d.inner.Release()
}

// ahead is how far the writer is in front of the playback position
func (d *PacedDevice) ahead() time.Duration {
	if d.start.IsZero() || d.byteRate <= 0 {
		return 0
	}
	played := d.now().Sub(d.start)
	queued := time.Duration(d.written) * time.Second / time.Duration(d.byteRate)
	return queued - played
}

func (d *PacedDevice) bufferDuration() time.Duration {
	if d.byteRate <= 0 {
		return 0
	}
	return time.Duration(d.bufferBytes) * time.Second / time.Duration(d.byteRate)
}

// OpenDevice resolves an output spec into a device:
//
//	stdout          raw PCM on standard output
//	file:<path>     raw PCM into a file
//	wav:<path>      WAV file
//	ws://, wss://   remote speaker over a websocket
//
// When paced is set the device is throttled to real time.
func OpenDevice(ctx context.Context, spec string, format Format, paced bool) (Device, error) {
	var (
		dev Device
		err error
	)

	switch {
	case spec == "" || spec == "stdout" || spec == "-":
		dev = NewWriterDevice(os.Stdout, nil)
	case strings.HasPrefix(spec, "file:"):
		var f *os.File
		f, err = os.Create(strings.TrimPrefix(spec, "file:"))
		if err == nil {
			dev = NewWriterDevice(f, f)
		}
	case strings.HasPrefix(spec, "wav:"):
		dev, err = NewWAVFileDevice(strings.TrimPrefix(spec, "wav:"), format)
	case strings.HasPrefix(spec, "ws://") || strings.HasPrefix(spec, "wss://"):
		dev, err = DialWebSocketDevice(ctx, spec, format)
	default:
		err = errors.New("unsupported audio output")
	}
	if err != nil {
		return nil, fmt.Errorf("open audio output %q: %w", spec, err)
	}

	if paced {
		dev = NewPacedDevice(dev, format, 0)
	}
	return dev, nil
}
