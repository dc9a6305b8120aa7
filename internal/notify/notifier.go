// Package notify keeps the bounded in-memory notification log and forwards
// selected entries to chat channels (Telegram, Discord). Forwarding is
// filtered by notification kind so operators receive only the alerts they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one notification.
	Send(ctx context.Context, n domain.Notification) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, skipping kinds
// that are not in its allowed set.
type Notifier struct {
	senders []Sender
	kinds   map[domain.NotificationKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// kinds listed in events are forwarded; an empty list allows every kind.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.NotificationKind]bool, len(events))
	for _, e := range events {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			allowed[domain.NotificationKind(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Allows reports whether kind passes the filter.
func (n *Notifier) Allows(kind domain.NotificationKind) bool {
	return len(n.kinds) == 0 || n.kinds[kind]
}

// Notify sends a notification to every sender if its kind is allowed.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	if !n.Allows(note.Kind) {
		n.logger.DebugContext(ctx, "notification filtered out",
			slog.String("kind", string(note.Kind)),
		)
		return nil
	}
	return n.dispatch(ctx, note)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, note domain.Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("kind", string(note.Kind)),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// title renders the one-line header shared by the chat senders.
func title(n domain.Notification) string {
	t := "[" + strings.ToUpper(string(n.Kind)) + "]"
	if n.Market != "" {
		t += " " + string(n.Market)
	}
	return t
}
