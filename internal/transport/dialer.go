// Package transport opens the byte stream the TTS pipeline speaks HTTP over.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Dialer yields a connected, readable/writable stream to the TTS endpoint.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
	Address() string
}

// TCPDialer dials host:port, optionally wrapping the connection in TLS.
type TCPDialer struct {
	Host           string
	Port           int
	UseTLS         bool
	ConnectTimeout time.Duration // Covers TCP connect and TLS handshake
	ReadTimeout    time.Duration // Applied before every Read; zero disables
	TLSConfig      *tls.Config   // Optional; ServerName defaults to Host
}

// Address returns host:port
func (d *TCPDialer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Dial connects and completes the TLS handshake when enabled
func (d *TCPDialer) Dial(ctx context.Context) (net.Conn, error) {
	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address(), err)
	}

	if d.UseTLS {
		cfg := d.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg = cfg.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = d.Host
		}

		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", d.Address(), err)
		}
		conn = tlsConn
	}

	return WithReadTimeout(conn, d.ReadTimeout), nil
}

// WithReadTimeout arms a fresh read deadline before every Read so a stalled
// server surfaces as a timeout error instead of blocking the producer forever.
func WithReadTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &deadlineConn{Conn: conn, timeout: timeout}
}

type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
