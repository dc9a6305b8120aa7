package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// DefaultCapacity is the number of notifications the log retains.
const DefaultCapacity = 200

// Log is a fixed-capacity ring of recent notifications. When full, the
// oldest entry is evicted. It is safe for concurrent use.
type Log struct {
	mu   sync.RWMutex
	buf  []domain.Notification
	next int // slot the next entry is written to
	size int

	now    func() time.Time
	logger *slog.Logger

	// forward is nil unless forwarding is enabled.
	forward  chan domain.Notification
	notifier *Notifier
}

// NewLog creates a log retaining up to capacity entries.
func NewLog(capacity int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:    make([]domain.Notification, capacity),
		now:    time.Now,
		logger: logger.With(slog.String("component", "notification_log")),
	}
}

// EnableForwarding hands every recorded entry to notifier through a buffered
// queue drained by RunForwarder. Entries are dropped, not blocked on, when
// the queue is full. Must be called before the log is shared.
func (l *Log) EnableForwarding(notifier *Notifier, queue int) {
	if !notifier.Enabled() {
		return
	}
	if queue <= 0 {
		queue = 64
	}
	l.notifier = notifier
	l.forward = make(chan domain.Notification, queue)
}

// Record appends n, filling in the ID and timestamp when unset.
func (l *Log) Record(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = l.now()
	}
	if n.Kind == "" {
		n.Kind = domain.KindInfo
	}

	l.mu.Lock()
	l.buf[l.next] = n
	l.next = (l.next + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
	l.mu.Unlock()

	if l.forward != nil && l.notifier.Allows(n.Kind) {
		select {
		case l.forward <- n:
		default:
			l.logger.Warn("forward queue full, dropping notification",
				slog.String("id", n.ID),
				slog.String("kind", string(n.Kind)),
			)
		}
	}
}

// List returns a copy of the retained entries, newest first.
func (l *Log) List() []domain.Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Notification, l.size)
	for i := 0; i < l.size; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		out[i] = l.buf[idx]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// RunForwarder delivers queued entries to the notifier until ctx is done.
// It returns immediately when forwarding is disabled.
func (l *Log) RunForwarder(ctx context.Context) error {
	if l.forward == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.forward:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := l.notifier.Notify(sendCtx, n); err != nil {
				l.logger.Warn("forward failed",
					slog.String("id", n.ID),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

var _ domain.Recorder = (*Log)(nil)
