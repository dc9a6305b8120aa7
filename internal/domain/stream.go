package domain

import "context"

// Frame is one chunk of a streamed message. Final marks the chunk that
// completes the message; earlier chunks must be buffered until it arrives.
type Frame struct {
	Data  []byte
	Final bool
}

// StreamConn is a live streaming connection. ReadFrame is called from a
// single goroutine; WriteJSON and Close may be called from others.
type StreamConn interface {
	ReadFrame() (Frame, error)
	WriteJSON(v any) error
	Close() error
}

// StreamDialer opens streaming connections.
type StreamDialer interface {
	Dial(ctx context.Context) (StreamConn, error)
}
