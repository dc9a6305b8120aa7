package upbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the opening handshake.
	handshakeTimeout = 15 * time.Second

	// defaultChunkSize is how much of a message ReadFrame returns at once.
	defaultChunkSize = 32 * 1024
)

// WSDialer opens ticker stream connections with gorilla/websocket.
type WSDialer struct {
	URL       string
	ChunkSize int
}

// NewWSDialer returns a dialer for the given streaming endpoint, e.g.
// "wss://api.upbit.com/websocket/v1".
func NewWSDialer(url string) *WSDialer {
	return &WSDialer{URL: url, ChunkSize: defaultChunkSize}
}

// Dial establishes one connection. The caller owns reconnects.
func (d *WSDialer) Dial(ctx context.Context) (domain.StreamConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("upbit/ws: connect: %w", err)
	}

	chunk := d.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &wsConn{conn: conn, chunk: chunk}, nil
}

// wsConn adapts a gorilla connection to domain.StreamConn. A message is
// surfaced as one or more frames read straight off the wire, the last one
// flagged Final.
type wsConn struct {
	conn  *websocket.Conn
	chunk int

	// cur is the reader for the message being drained. Read side only.
	cur io.Reader

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (c *wsConn) ReadFrame() (domain.Frame, error) {
	if c.cur == nil {
		_, r, err := c.conn.NextReader()
		if err != nil {
			return domain.Frame{}, fmt.Errorf("upbit/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		c.cur = r
	}

	buf := make([]byte, c.chunk)
	n, err := io.ReadFull(c.cur, buf)
	switch {
	case err == nil:
		return domain.Frame{Data: buf[:n]}, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		c.cur = nil
		return domain.Frame{Data: buf[:n], Final: true}, nil
	default:
		c.cur = nil
		return domain.Frame{}, fmt.Errorf("upbit/ws: read: %w: %v", domain.ErrWSDisconnect, err)
	}
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("upbit/ws: write: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the socket. Safe to call more than
// once and concurrently with ReadFrame, which then returns an error.
func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

var _ domain.StreamDialer = (*WSDialer)(nil)
