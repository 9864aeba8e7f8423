package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// streamControl is the JSON control message exchanged with a remote speaker
type streamControl struct {
	Type       string `json:"type"` // start, flush, end
	SampleRate int    `json:"sample_rate,omitempty"`
	Bits       int    `json:"bits,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// WebSocketDevice streams PCM as binary websocket messages to a remote
// speaker. A start message announcing the format precedes the audio and an
// end message follows it.
type WebSocketDevice struct {
	conn *websocket.Conn
}

// DialWebSocketDevice connects to url and announces format
func DialWebSocketDevice(ctx context.Context, url string, format Format) (*WebSocketDevice, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial speaker: %w", err)
	}

	d := &WebSocketDevice{conn: conn}
	start := streamControl{
		Type:       "start",
		SampleRate: format.SampleRate,
		Bits:       format.Bits,
		Channels:   format.Channels,
	}
	if err := d.control(start); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *WebSocketDevice) Write(p []byte) (int, error) {
	if err := d.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return 0, err
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("send audio: %w", err)
	}
	return len(p), nil
}

// Flush asks the remote speaker to play out what it has buffered
func (d *WebSocketDevice) Flush() error {
	return d.control(streamControl{Type: "flush"})
}

// Release sends the end marker and closes the connection
func (d *WebSocketDevice) Release() error {
	err := d.control(streamControl{Type: "end"})

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = d.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))

	if cerr := d.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (d *WebSocketDevice) control(msg streamControl) error {
	if err := d.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	if err := d.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}
