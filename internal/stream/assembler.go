package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/platform/upbit"
)

// maxMessageSize caps a reassembled message. A peer that never sends a
// final fragment cannot grow the buffer without bound.
const maxMessageSize = 4 << 20

// Assembler concatenates frames until the final one arrives. It is used by
// one read goroutine and is not safe for concurrent use.
type Assembler struct {
	buf bytes.Buffer
	max int
	// discarding drops the rest of an oversized message up to its final frame.
	discarding bool
}

// Push adds a frame. It returns the whole message and true once f is final.
// The returned slice is only valid until the next Push.
func (a *Assembler) Push(f domain.Frame) ([]byte, bool, error) {
	limit := a.max
	if limit <= 0 {
		limit = maxMessageSize
	}
	if a.discarding {
		if f.Final {
			a.discarding = false
		}
		return nil, false, nil
	}
	if a.buf.Len()+len(f.Data) > limit {
		a.buf.Reset()
		a.discarding = !f.Final
		return nil, false, fmt.Errorf("stream: message exceeds %d bytes: %w", limit, domain.ErrParse)
	}
	a.buf.Write(f.Data)
	if !f.Final {
		return nil, false, nil
	}
	msg := a.buf.Bytes()
	a.buf.Reset()
	return msg, true, nil
}

// SplitDocuments splits a message into its newline-separated documents,
// dropping blank lines.
func SplitDocuments(msg []byte) [][]byte {
	var docs [][]byte
	for _, line := range bytes.Split(msg, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			docs = append(docs, line)
		}
	}
	return docs
}

// ParseTicker decodes one ticker document.
func ParseTicker(doc []byte) (upbit.TickerMessage, error) {
	var t upbit.TickerMessage
	if err := json.Unmarshal(doc, &t); err != nil {
		return t, fmt.Errorf("stream: decode ticker: %w: %v", domain.ErrParse, err)
	}
	if t.Type != "" && t.Type != "ticker" {
		return t, fmt.Errorf("stream: unexpected type %q: %w", t.Type, domain.ErrParse)
	}
	if t.Code == "" || t.TradePrice <= 0 {
		return t, fmt.Errorf("stream: ticker missing code or price: %w", domain.ErrParse)
	}
	return t, nil
}
